package web

import (
	"sync"
)

// Broadcaster fans encoded telemetry frames out to any listeners (e.g. SSE).
// It keeps the most recent frame so new subscribers get an immediate sample.
//
// It is a telemetry sink: the publisher calls Send on its own ticker.
type Broadcaster struct {
	mu       sync.RWMutex
	subs     map[int]chan []byte
	nextID   int
	last     []byte
	haveLast bool
	closed   bool
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan []byte)}
}

func (b *Broadcaster) Name() string { return "http stream" }

// Subscribe registers a listener. Slow listeners miss frames rather than
// blocking the publisher.
func (b *Broadcaster) Subscribe(buffer int) (int, <-chan []byte) {
	if buffer <= 0 {
		buffer = 2
	}
	ch := make(chan []byte, buffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return -1, ch
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	if b.haveLast {
		ch <- b.last
	}
	return id, ch
}

func (b *Broadcaster) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Broadcaster) Send(frame []byte) error {
	cp := append([]byte(nil), frame...)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	for _, ch := range b.subs {
		select {
		case ch <- cp:
		default:
		}
	}
	b.last = cp
	b.haveLast = true
	return nil
}

// Close ends every subscription.
func (b *Broadcaster) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
	return nil
}
