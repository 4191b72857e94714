package handoff

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	block  chan struct{}
	err    error
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Notify(_ context.Context, ev Event) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return s.err
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestDispatcherDeliversToAllSinks(t *testing.T) {
	t.Parallel()

	failing := &recordingSink{err: errors.New("unreachable")}
	ok := &recordingSink{}
	d := NewDispatcher(4, nil, failing, ok)

	ev := NewEvent(EventHandoff, "s1")
	if !d.Publish(ev) {
		t.Fatal("Publish dropped event")
	}
	d.Close()

	if failing.count() != 1 || ok.count() != 1 {
		t.Fatalf("deliveries: failing=%d ok=%d, want 1 each", failing.count(), ok.count())
	}
	if ok.events[0].ID == "" || ok.events[0].SessionID != "s1" {
		t.Fatalf("unexpected event %+v", ok.events[0])
	}
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{block: make(chan struct{})}
	d := NewDispatcher(1, nil, sink)

	// The loop takes the first event and blocks in the sink; the second
	// fills the buffer; the third must be dropped without blocking.
	d.Publish(NewEvent(EventHandoff, "a"))
	deadline := time.Now().Add(2 * time.Second)
	for len(d.events) != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !d.Publish(NewEvent(EventHandoff, "b")) {
		t.Fatal("second event should fit in the buffer")
	}

	done := make(chan bool)
	go func() { done <- d.Publish(NewEvent(EventHandoff, "c")) }()
	select {
	case accepted := <-done:
		if accepted {
			t.Fatal("third event should be dropped")
		}
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full buffer")
	}

	close(sink.block)
	d.Close()
	if sink.count() != 2 {
		t.Fatalf("delivered %d events, want 2", sink.count())
	}
}

func TestDispatcherPublishAfterClose(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(1, nil)
	d.Close()
	d.Close()
	if d.Publish(NewEvent(EventHandoff, "late")) {
		t.Fatal("Publish after Close should report a drop")
	}
}
