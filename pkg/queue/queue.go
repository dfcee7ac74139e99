// Package queue implements the Event Queue: a single FIFO scoped to
// one in-flight RTC step. Behaviors enqueue events through a Raiser
// handle that borrows the queue rather than reaching for an ambient
// global, the "raise handle" design in spec section 9. The queue never
// persists across steps (spec section 9, open question fixed to
// within-a-step only) — a fresh Queue is created per call to the Step
// Engine.
//
// Grounded on the teacher's pkg/core/deferevents.go EventDeferrer,
// which holds the same FIFO-of-pending-events shape; that type defers
// events across the machine's whole lifetime, this one is scoped
// tighter, to a single step.
package queue

import "sync"

// Entry is a raw raised event: a type and an opaque payload, not yet
// validated against its declared rules.
type Entry struct {
	Type    string
	Payload any
}

// Queue is a FIFO of Entries raised during one RTC step.
type Queue struct {
	mu      sync.Mutex
	entries []Entry
}

// New creates an empty Queue.
func New() *Queue {
	return &Queue{}
}

// Raise enqueues an event. Safe to call from within a behavior.
func (q *Queue) Raise(eventType string, payload any) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(q.entries, Entry{Type: eventType, Payload: payload})
}

// Dequeue removes and returns the oldest entry, FIFO order, never
// reordered or prioritized (spec section 4.3).
func (q *Queue) Dequeue() (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return Entry{}, false
	}
	e := q.entries[0]
	q.entries = q.entries[1:]
	return e, true
}

// Len reports how many entries remain queued.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Raiser is the handle passed to behaviors. It captures only the
// Queue, never a whole machine or step.
type Raiser func(eventType string, payload any)

// Raiser returns this queue's raise handle.
func (q *Queue) Raiser() Raiser {
	return q.Raise
}
