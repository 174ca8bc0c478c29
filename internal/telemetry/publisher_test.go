package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"balancebot/internal/attitude"
	"balancebot/internal/balance"
)

type fakeSource struct{ snap balance.Snapshot }

func (s fakeSource) Snapshot() balance.Snapshot { return s.snap }

type fakeSink struct {
	name string

	mu     sync.Mutex
	frames [][]byte
	err    error
	closes int
	sent   chan struct{}
}

func (s *fakeSink) Name() string { return s.name }

func (s *fakeSink) Send(p []byte) error {
	s.mu.Lock()
	s.frames = append(s.frames, append([]byte(nil), p...))
	err := s.err
	s.mu.Unlock()
	if s.sent != nil {
		select {
		case s.sent <- struct{}{}:
		default:
		}
	}
	return err
}

func (s *fakeSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

func TestNewPublisher_Validates(t *testing.T) {
	if _, err := NewPublisher(nil, time.Second); err == nil {
		t.Fatalf("expected error for nil source")
	}
	if _, err := NewPublisher(fakeSource{}, 0); err == nil {
		t.Fatalf("expected error for zero interval")
	}
}

func TestPublishOnce_EncodesSnapshot(t *testing.T) {
	src := fakeSource{snap: balance.Snapshot{
		Angle:      attitude.Euler{Pitch: 1.5},
		AngleValid: true,
		Output:     -42,
		Speed:      -42,
	}}
	sink := &fakeSink{name: "a"}
	p, err := NewPublisher(src, time.Second, sink)
	if err != nil {
		t.Fatalf("NewPublisher() error: %v", err)
	}

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := p.PublishOnce(now); err != nil {
		t.Fatalf("PublishOnce() error: %v", err)
	}
	if err := p.PublishOnce(now); err != nil {
		t.Fatalf("PublishOnce() error: %v", err)
	}
	if len(sink.frames) != 2 {
		t.Fatalf("frames=%d want 2", len(sink.frames))
	}

	var f Frame
	if err := json.Unmarshal(sink.frames[1], &f); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}
	if f.Seq != 2 || !f.Sent.Equal(now) {
		t.Fatalf("seq=%d sent=%s", f.Seq, f.Sent)
	}
	if f.Loop.Angle.Pitch != 1.5 || f.Loop.Speed != -42 || !f.Loop.AngleValid {
		t.Fatalf("loop=%+v", f.Loop)
	}
}

func TestPublishOnce_SinkErrorDoesNotStopOthers(t *testing.T) {
	bad := &fakeSink{name: "bad", err: errors.New("down")}
	good := &fakeSink{name: "good"}
	p, _ := NewPublisher(fakeSource{}, time.Second, bad, good)

	err := p.PublishOnce(time.Now())
	if !errors.Is(err, bad.err) {
		t.Fatalf("err=%v want %v", err, bad.err)
	}
	if len(good.frames) != 1 {
		t.Fatalf("good sink frames=%d want 1", len(good.frames))
	}
	if !p.failing["bad"] {
		t.Fatalf("bad sink not marked failing")
	}

	bad.err = nil
	if err := p.PublishOnce(time.Now()); err != nil {
		t.Fatalf("PublishOnce() error: %v", err)
	}
	if p.failing["bad"] {
		t.Fatalf("bad sink still marked failing after recovery")
	}
}

func TestPublisher_StartAndClose(t *testing.T) {
	sink := &fakeSink{name: "a", sent: make(chan struct{}, 1)}
	p, _ := NewPublisher(fakeSource{}, 5*time.Millisecond, sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	select {
	case <-sink.sent:
	case <-time.After(time.Second):
		t.Fatalf("expected a frame from the ticker")
	}

	if err := p.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second Close() error: %v", err)
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.closes != 1 {
		t.Fatalf("sink closes=%d want 1", sink.closes)
	}
}
