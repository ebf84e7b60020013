package broadcast

import (
	"sync"
	"time"

	"collab-board/backend/internal/models"
	"collab-board/backend/internal/monitoring"

	"github.com/gofrs/uuid"
)

const EventTaskUpdate = "taskUpdate"

type Event struct {
	Type        string      `json:"type"`
	Seq         uint64      `json:"seq"`
	Action      string      `json:"action"`
	Task        models.Task `json:"task"`
	Origin      string      `json:"origin,omitempty"`
	PublishedAt time.Time   `json:"published_at"`
}

// Relay forwards locally published events to other instances. Forward must
// not block and must preserve call order.
type Relay interface {
	Forward(ev Event) bool
}

// Broadcaster fans committed task changes out to every registered observer.
//
// Sequence numbers are assigned and observers are enqueued inside one
// critical section, so every observer sees events in global publish order.
// Callers publish while still holding the task's mutation lock, which makes
// publish order equal commit order for any single task.
type Broadcaster struct {
	registry Registry
	origin   string

	mu          sync.Mutex
	seq         uint64
	lastVersion map[uuid.UUID]int
	relay       Relay

	// deleted keeps the final version of deleted tasks so late remote
	// events cannot bring them back.
	deleted map[uuid.UUID]int
}

func NewBroadcaster(registry Registry, origin string) *Broadcaster {
	if registry == nil {
		registry = NewMemoryRegistry()
	}
	return &Broadcaster{
		registry:    registry,
		origin:      origin,
		lastVersion: make(map[uuid.UUID]int),
		deleted:     make(map[uuid.UUID]int),
	}
}

func (b *Broadcaster) SetRelay(r Relay) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.relay = r
}

func (b *Broadcaster) Origin() string {
	return b.origin
}

// Publish is fire-and-forget: observers that are full or gone miss the event.
func (b *Broadcaster) Publish(task models.Task, action string) Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	ev := Event{
		Type:        EventTaskUpdate,
		Seq:         b.seq,
		Action:      action,
		Task:        task,
		Origin:      b.origin,
		PublishedAt: time.Now().UTC(),
	}
	b.trackLocked(ev)
	b.fanOutLocked(ev, "local")

	if b.relay != nil {
		b.relay.Forward(ev)
	}
	return ev
}

// Receive delivers an event published by another instance. Events from this
// instance and events older than what observers already saw for the task are
// ignored. Returns whether the event was fanned out.
func (b *Broadcaster) Receive(ev Event) bool {
	if ev.Origin == b.origin {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if final, ok := b.deleted[ev.Task.ID]; ok && ev.Task.Version <= final {
		return false
	}
	if last, ok := b.lastVersion[ev.Task.ID]; ok && ev.Task.Version < last {
		return false
	}
	b.seq++
	ev.Seq = b.seq
	b.trackLocked(ev)
	b.fanOutLocked(ev, "remote")
	return true
}

func (b *Broadcaster) Subscribe(id string, buffer int) *Subscriber {
	sub := NewSubscriber(id, buffer)
	b.registry.Add(sub)
	monitoring.Observers.Set(float64(b.registry.Len()))
	return sub
}

func (b *Broadcaster) Unsubscribe(sub *Subscriber) {
	b.registry.Remove(sub.ID())
	sub.Close()
	monitoring.Observers.Set(float64(b.registry.Len()))
}

// Attach registers an observer that is not queue-backed, such as a cache
// invalidator.
func (b *Broadcaster) Attach(o Observer) {
	b.registry.Add(o)
	monitoring.Observers.Set(float64(b.registry.Len()))
}

func (b *Broadcaster) Detach(id string) {
	b.registry.Remove(id)
	monitoring.Observers.Set(float64(b.registry.Len()))
}

func (b *Broadcaster) ObserverCount() int {
	return b.registry.Len()
}

func (b *Broadcaster) trackLocked(ev Event) {
	if ev.Action == models.ActionDelete {
		delete(b.lastVersion, ev.Task.ID)
		b.deleted[ev.Task.ID] = ev.Task.Version
		return
	}
	b.lastVersion[ev.Task.ID] = ev.Task.Version
}

func (b *Broadcaster) fanOutLocked(ev Event, source string) {
	monitoring.BroadcastEvents.WithLabelValues(ev.Action, source).Inc()
	b.registry.Each(func(o Observer) {
		if !o.Enqueue(ev) {
			monitoring.BroadcastDropped.Inc()
		}
	})
}
