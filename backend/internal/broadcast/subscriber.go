package broadcast

import (
	"sync"
	"sync/atomic"
)

// Subscriber is a queue-backed Observer. Events are drained in FIFO order by
// a single consumer, which keeps the per-observer delivery order equal to the
// publish order.
type Subscriber struct {
	id      string
	mu      sync.Mutex
	ch      chan Event
	closed  bool
	dropped atomic.Uint64
}

func NewSubscriber(id string, buffer int) *Subscriber {
	if buffer <= 0 {
		buffer = 64
	}
	return &Subscriber{id: id, ch: make(chan Event, buffer)}
}

func (s *Subscriber) ID() string {
	return s.id
}

func (s *Subscriber) Enqueue(ev Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	select {
	case s.ch <- ev:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

// Events is closed once the subscriber is closed.
func (s *Subscriber) Events() <-chan Event {
	return s.ch
}

func (s *Subscriber) Dropped() uint64 {
	return s.dropped.Load()
}

func (s *Subscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}
