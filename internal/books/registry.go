package books

import (
	"sync"
)

// Event is broadcast to subscribers on every registry write.
type Event struct {
	ID     ID
	Status Status
	// Cleared is true when the book was removed from the registry.
	Cleared bool
}

// Registry is the shared observable source of truth for book statuses.
// Writes are whole-record replacements; readers never observe a torn
// record.
type Registry struct {
	mu    sync.RWMutex
	books map[ID]WithStatus
	subs  map[int]chan Event
	next  int
}

func NewRegistry() *Registry {
	return &Registry{
		books: map[ID]WithStatus{},
		subs:  map[int]chan Event{},
	}
}

// BookOrNil returns a copy of the current record or nil if unknown.
func (r *Registry) BookOrNil(id ID) *WithStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if b, ok := r.books[id]; ok {
		return &b
	}
	return nil
}

func (r *Registry) Update(b WithStatus) {
	r.mu.Lock()
	r.books[b.Book.ID] = b
	r.broadcastLocked(Event{ID: b.Book.ID, Status: b.Status})
	r.mu.Unlock()
}

func (r *Registry) ClearFor(id ID) {
	r.mu.Lock()
	delete(r.books, id)
	r.broadcastLocked(Event{ID: id, Cleared: true})
	r.mu.Unlock()
}

// Books returns a snapshot of all records.
func (r *Registry) Books() []WithStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]WithStatus, 0, len(r.books))
	for _, b := range r.books {
		out = append(out, b)
	}
	return out
}

// Subscribe registers an event channel. Slow subscribers miss events
// rather than block writers. The returned func cancels the subscription.
func (r *Registry) Subscribe() (<-chan Event, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.next
	r.next++
	ch := make(chan Event, 64)
	r.subs[id] = ch
	return ch, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if c, ok := r.subs[id]; ok {
			delete(r.subs, id)
			close(c)
		}
	}
}

func (r *Registry) broadcastLocked(ev Event) {
	for _, ch := range r.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
