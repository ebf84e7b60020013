package broadcast

import "sync"

// Observer receives published events. Enqueue is called while the
// broadcaster holds its fan-out lock and must never block.
type Observer interface {
	ID() string
	Enqueue(ev Event) bool
}

// Registry tracks the currently connected observers.
type Registry interface {
	Add(o Observer)
	Remove(id string) bool
	Each(fn func(o Observer))
	Len() int
}

type MemoryRegistry struct {
	mu        sync.RWMutex
	observers map[string]Observer
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{observers: make(map[string]Observer)}
}

func (r *MemoryRegistry) Add(o Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers[o.ID()] = o
}

func (r *MemoryRegistry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.observers[id]; !ok {
		return false
	}
	delete(r.observers, id)
	return true
}

func (r *MemoryRegistry) Each(fn func(o Observer)) {
	r.mu.RLock()
	snapshot := make([]Observer, 0, len(r.observers))
	for _, o := range r.observers {
		snapshot = append(snapshot, o)
	}
	r.mu.RUnlock()

	for _, o := range snapshot {
		fn(o)
	}
}

func (r *MemoryRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.observers)
}
