package state

import "sync"

// EventKind classifies world events surfaced to callers.
type EventKind string

const (
	EventContactBegin     EventKind = "contact_begin"
	EventContactEnd       EventKind = "contact_end"
	EventConstraintBroken EventKind = "constraint_broken"
)

// Event is a backend notification translated onto stable ids.
type Event struct {
	Kind       EventKind `json:"kind"`
	Step       uint32    `json:"step"`
	BodyA      StableID  `json:"bodyA,omitempty"`
	BodyB      StableID  `json:"bodyB,omitempty"`
	Constraint StableID  `json:"constraint,omitempty"`
}

// EventStore buffers world events until the caller drains them.
type EventStore struct {
	mu     sync.Mutex
	events []Event
}

// NewEventStore constructs an event buffer.
func NewEventStore() *EventStore {
	return &EventStore{}
}

// Add enqueues events preserving their order.
func (s *EventStore) Add(events ...Event) {
	if s == nil || len(events) == 0 {
		return
	}
	s.mu.Lock()
	//1.- Append while holding the mutex to ensure ordering.
	s.events = append(s.events, events...)
	s.mu.Unlock()
}

// Drain flushes and returns the queued events.
func (s *EventStore) Drain() []Event {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	//1.- Hand the buffered slice to the caller and reset storage.
	events := s.events
	s.events = nil
	return events
}

// Reset drops any queued events.
func (s *EventStore) Reset() {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.events = nil
	s.mu.Unlock()
}
