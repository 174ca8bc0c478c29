// Package telemetry publishes control loop snapshots to UDP and MQTT listeners.
package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"balancebot/internal/balance"
)

// Sink receives encoded frames.
type Sink interface {
	Name() string
	Send(payload []byte) error
	Close() error
}

// Source is anything that can report the loop state.
type Source interface {
	Snapshot() balance.Snapshot
}

type Frame struct {
	Seq  uint64           `json:"seq"`
	Sent time.Time        `json:"sent_utc"`
	Loop balance.Snapshot `json:"loop"`
}

type Publisher struct {
	src      Source
	sinks    []Sink
	interval time.Duration

	mu      sync.Mutex
	seq     uint64
	failing map[string]bool

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
	closeErr error
}

func NewPublisher(src Source, interval time.Duration, sinks ...Sink) (*Publisher, error) {
	if src == nil {
		return nil, fmt.Errorf("telemetry: source is nil")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("telemetry: interval must be > 0")
	}
	return &Publisher{
		src:      src,
		sinks:    sinks,
		interval: interval,
		failing:  make(map[string]bool),
		stopCh:   make(chan struct{}),
	}, nil
}

// Start publishes on a ticker until ctx is canceled or Close is called. With no
// sinks it does nothing.
func (p *Publisher) Start(ctx context.Context) {
	if len(p.sinks) == 0 {
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		t := time.NewTicker(p.interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-p.stopCh:
				return
			case <-t.C:
				_ = p.PublishOnce(time.Now())
			}
		}
	}()
}

// PublishOnce encodes the current snapshot and sends it to every sink. A sink
// error is logged when the sink starts failing and when it recovers.
func (p *Publisher) PublishOnce(now time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.seq++
	b, err := json.Marshal(Frame{Seq: p.seq, Sent: now.UTC(), Loop: p.src.Snapshot()})
	if err != nil {
		return fmt.Errorf("telemetry: encode: %w", err)
	}

	var errs []error
	for _, s := range p.sinks {
		err := s.Send(b)
		name := s.Name()
		switch {
		case err != nil && !p.failing[name]:
			log.Printf("telemetry: %s send failed: %v", name, err)
			p.failing[name] = true
		case err == nil && p.failing[name]:
			log.Printf("telemetry: %s recovered", name)
			p.failing[name] = false
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("telemetry: %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Close stops publishing and closes every sink.
func (p *Publisher) Close() error {
	p.stopOnce.Do(func() {
		close(p.stopCh)
		p.wg.Wait()

		var errs []error
		for _, s := range p.sinks {
			if err := s.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		p.closeErr = errors.Join(errs...)
	})
	return p.closeErr
}
