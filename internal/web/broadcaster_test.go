package web

import "testing"

func TestBroadcaster_SubscribeGetsLastFrame(t *testing.T) {
	b := NewBroadcaster()
	_ = b.Send([]byte("one"))
	_ = b.Send([]byte("two"))

	id, ch := b.Subscribe(1)
	defer b.Unsubscribe(id)

	if got := string(<-ch); got != "two" {
		t.Fatalf("first frame=%q want two", got)
	}
}

func TestBroadcaster_SlowSubscriberDoesNotBlock(t *testing.T) {
	b := NewBroadcaster()
	id, ch := b.Subscribe(1)
	defer b.Unsubscribe(id)

	for i := 0; i < 10; i++ {
		if err := b.Send([]byte{byte(i)}); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	if got := <-ch; got[0] != 0 {
		t.Fatalf("buffered frame=%v want [0]", got)
	}
}

func TestBroadcaster_SendCopiesFrame(t *testing.T) {
	b := NewBroadcaster()
	frame := []byte("abc")
	_ = b.Send(frame)
	frame[0] = 'x'

	id, ch := b.Subscribe(1)
	defer b.Unsubscribe(id)
	if got := string(<-ch); got != "abc" {
		t.Fatalf("frame=%q want abc", got)
	}
}

func TestBroadcaster_CloseEndsSubscriptions(t *testing.T) {
	b := NewBroadcaster()
	_, ch := b.Subscribe(1)
	if b.Subscribers() != 1 {
		t.Fatalf("subscribers=%d", b.Subscribers())
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel")
	}
	if b.Subscribers() != 0 {
		t.Fatalf("subscribers=%d after close", b.Subscribers())
	}
	_, late := b.Subscribe(1)
	if _, ok := <-late; ok {
		t.Fatalf("expected closed channel after Close")
	}
	// Unsubscribing an already-closed id is harmless.
	b.Unsubscribe(0)
}
