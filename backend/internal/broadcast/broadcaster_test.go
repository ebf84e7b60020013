package broadcast

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"collab-board/backend/internal/models"

	"github.com/gofrs/uuid"
)

func newTask(version int) models.Task {
	return models.Task{
		ID:       uuid.Must(uuid.NewV4()),
		Title:    "Write docs",
		Status:   models.StatusTodo,
		Priority: models.PriorityMedium,
		Version:  version,
	}
}

func drain(t *testing.T, sub *Subscriber, n int) []Event {
	t.Helper()
	var events []Event
	timeout := time.After(2 * time.Second)
	for len(events) < n {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatalf("timed out after %d of %d events", len(events), n)
		}
	}
	return events
}

func TestBroadcaster_PublishReachesAllObservers(t *testing.T) {
	b := NewBroadcaster(NewMemoryRegistry(), "node-a")
	s1 := b.Subscribe("one", 8)
	s2 := b.Subscribe("two", 8)

	task := newTask(1)
	ev := b.Publish(task, models.ActionCreate)

	if ev.Type != EventTaskUpdate || ev.Action != models.ActionCreate || ev.Seq != 1 {
		t.Errorf("Unexpected event envelope: %+v", ev)
	}

	for _, sub := range []*Subscriber{s1, s2} {
		got := drain(t, sub, 1)
		if got[0].Task.ID != task.ID {
			t.Errorf("Observer %s got task %s, want %s", sub.ID(), got[0].Task.ID, task.ID)
		}
	}
}

func TestBroadcaster_DisconnectedObserverMissesEvents(t *testing.T) {
	b := NewBroadcaster(nil, "node-a")
	sub := b.Subscribe("gone", 8)
	b.Unsubscribe(sub)

	b.Publish(newTask(1), models.ActionUpdate)

	if _, ok := <-sub.Events(); ok {
		t.Error("Expected closed subscriber to receive nothing")
	}
	if b.ObserverCount() != 0 {
		t.Errorf("Expected no observers, got %d", b.ObserverCount())
	}
}

func TestBroadcaster_FullQueueDrops(t *testing.T) {
	b := NewBroadcaster(nil, "node-a")
	sub := b.Subscribe("slow", 1)

	task := newTask(1)
	b.Publish(task, models.ActionUpdate)
	task.Version = 2
	b.Publish(task, models.ActionUpdate)

	if sub.Dropped() != 1 {
		t.Errorf("Expected 1 dropped event, got %d", sub.Dropped())
	}
	got := drain(t, sub, 1)
	if got[0].Task.Version != 1 {
		t.Errorf("Expected the first event to be kept, got version %d", got[0].Task.Version)
	}
}

func TestBroadcaster_PerTaskOrderUnderConcurrency(t *testing.T) {
	b := NewBroadcaster(nil, "node-a")
	sub := b.Subscribe("watcher", 1024)

	const tasks = 4
	const versions = 50

	var wg sync.WaitGroup
	for i := 0; i < tasks; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			task := newTask(1)
			for v := 1; v <= versions; v++ {
				task.Version = v
				b.Publish(task, models.ActionUpdate)
			}
		}()
	}
	wg.Wait()

	events := drain(t, sub, tasks*versions)
	last := make(map[uuid.UUID]int)
	var lastSeq uint64
	for _, ev := range events {
		if ev.Seq <= lastSeq {
			t.Fatalf("sequence went backwards: %d after %d", ev.Seq, lastSeq)
		}
		lastSeq = ev.Seq
		if ev.Task.Version < last[ev.Task.ID] {
			t.Fatalf("task %s: version %d delivered after %d", ev.Task.ID, ev.Task.Version, last[ev.Task.ID])
		}
		last[ev.Task.ID] = ev.Task.Version
	}
}

func TestBroadcaster_ReceiveRemote(t *testing.T) {
	b := NewBroadcaster(nil, "node-a")
	sub := b.Subscribe("watcher", 8)

	task := newTask(3)

	if b.Receive(Event{Action: models.ActionUpdate, Task: task, Origin: "node-a"}) {
		t.Error("Expected own events to be ignored")
	}
	if !b.Receive(Event{Type: EventTaskUpdate, Action: models.ActionUpdate, Task: task, Origin: "node-b"}) {
		t.Error("Expected remote event to be delivered")
	}

	stale := task
	stale.Version = 2
	if b.Receive(Event{Action: models.ActionUpdate, Task: stale, Origin: "node-b"}) {
		t.Error("Expected stale remote event to be ignored")
	}

	got := drain(t, sub, 1)
	if got[0].Task.Version != 3 || got[0].Seq != 1 {
		t.Errorf("Unexpected remote delivery: %+v", got[0])
	}

	gone := newTask(4)
	b.Publish(gone, models.ActionDelete)
	if b.Receive(Event{Action: models.ActionUpdate, Task: gone, Origin: "node-b"}) {
		t.Error("Expected late update for a deleted task to be ignored")
	}
	older := gone
	older.Version = 3
	if b.Receive(Event{Action: models.ActionUpdate, Task: older, Origin: "node-b"}) {
		t.Error("Expected older update for a deleted task to be ignored")
	}

	got = drain(t, sub, 1)
	if got[0].Action != models.ActionDelete || got[0].Task.ID != gone.ID {
		t.Errorf("Expected only the delete for %s, got %+v", gone.ID, got[0])
	}
	select {
	case ev := <-sub.Events():
		t.Errorf("Unexpected event after delete: %+v", ev)
	default:
	}
}

func TestBroadcaster_RemoteDeleteTombstones(t *testing.T) {
	b := NewBroadcaster(nil, "node-a")
	sub := b.Subscribe("watcher", 8)
	task := newTask(2)

	if !b.Receive(Event{Action: models.ActionUpdate, Task: task, Origin: "node-b"}) {
		t.Fatal("Expected remote update to be delivered")
	}
	if !b.Receive(Event{Action: models.ActionDelete, Task: task, Origin: "node-b"}) {
		t.Fatal("Expected remote delete at the same version to be delivered")
	}
	if b.Receive(Event{Action: models.ActionUpdate, Task: task, Origin: "node-c"}) {
		t.Error("Expected replayed update after remote delete to be ignored")
	}

	got := drain(t, sub, 2)
	if got[1].Action != models.ActionDelete {
		t.Errorf("Expected delete as the last event, got %s", got[1].Action)
	}
}

type recordingRelay struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingRelay) Forward(ev Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return true
}

func TestBroadcaster_ForwardsToRelayInOrder(t *testing.T) {
	b := NewBroadcaster(nil, "node-a")
	relay := &recordingRelay{}
	b.SetRelay(relay)

	task := newTask(1)
	for v := 1; v <= 5; v++ {
		task.Version = v
		b.Publish(task, models.ActionUpdate)
	}

	if len(relay.events) != 5 {
		t.Fatalf("Expected 5 relayed events, got %d", len(relay.events))
	}
	for i, ev := range relay.events {
		if ev.Task.Version != i+1 {
			t.Errorf("relay event %d has version %d", i, ev.Task.Version)
		}
		if ev.Origin != "node-a" {
			t.Errorf("relay event %d has origin %q", i, ev.Origin)
		}
	}
}

func TestMemoryRegistry(t *testing.T) {
	r := NewMemoryRegistry()
	for i := 0; i < 3; i++ {
		r.Add(NewSubscriber(fmt.Sprintf("s%d", i), 1))
	}
	if r.Len() != 3 {
		t.Fatalf("Expected 3 observers, got %d", r.Len())
	}
	if !r.Remove("s1") {
		t.Error("Expected s1 to be removed")
	}
	if r.Remove("s1") {
		t.Error("Expected second removal to report false")
	}

	seen := 0
	r.Each(func(o Observer) { seen++ })
	if seen != 2 {
		t.Errorf("Expected to visit 2 observers, got %d", seen)
	}
}
