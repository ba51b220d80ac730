// Package registry maps backend handles onto stable ids that survive snapshot and restore.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"rigidsync/broker/internal/state"
)

var (
	// ErrUnknownID is returned when an id was never registered or has been released.
	ErrUnknownID = errors.New("unknown stable id")
	// ErrIDInUse is returned when adopting an id that is still bound to a live resource.
	ErrIDInUse = errors.New("stable id already in use")
	// ErrInvalidID is returned when adopting the world anchor sentinel.
	ErrInvalidID = errors.New("stable id 0 is reserved")
)

// UnknownIDError names the kind and id that failed to resolve.
type UnknownIDError struct {
	Kind state.Kind
	ID   state.StableID
}

func (e *UnknownIDError) Error() string {
	return fmt.Sprintf("%s %d: %s", e.Kind, e.ID, ErrUnknownID)
}

// Is lets errors.Is match the sentinel.
func (e *UnknownIDError) Is(target error) bool { return target == ErrUnknownID }

type space struct {
	watermark state.StableID
	byID      map[state.StableID]state.Handle
	byHandle  map[state.Handle]state.StableID
}

func newSpace() *space {
	return &space{
		byID:     make(map[state.StableID]state.Handle),
		byHandle: make(map[state.Handle]state.StableID),
	}
}

// Registry owns one monotonically increasing id space per resource kind.
type Registry struct {
	mu     sync.RWMutex
	spaces map[state.Kind]*space
}

// New constructs an empty registry.
func New() *Registry {
	return &Registry{spaces: make(map[state.Kind]*space)}
}

func (r *Registry) space(kind state.Kind) *space {
	s, ok := r.spaces[kind]
	if !ok {
		s = newSpace()
		r.spaces[kind] = s
	}
	return s
}

// Register assigns the next unused id in the kind's space to the handle.
func (r *Registry) Register(kind state.Kind, handle state.Handle) state.StableID {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.space(kind)
	//1.- Re-registering a live handle returns its existing id.
	if id, ok := s.byHandle[handle]; ok {
		return id
	}
	//2.- Advance the watermark; released ids are never handed out again.
	s.watermark++
	id := s.watermark
	s.byID[id] = handle
	s.byHandle[handle] = id
	return id
}

// Adopt binds a recorded or backend-native id and advances the watermark past it.
func (r *Registry) Adopt(kind state.Kind, handle state.Handle, id state.StableID) error {
	if id == state.WorldAnchor {
		return ErrInvalidID
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.space(kind)
	//1.- Refuse to alias an id that is still alive.
	if existing, ok := s.byID[id]; ok {
		if existing == handle {
			return nil
		}
		return fmt.Errorf("%s %d: %w", kind, id, ErrIDInUse)
	}
	//2.- Drop any previous binding of the handle before rebinding it.
	if previous, ok := s.byHandle[handle]; ok {
		delete(s.byID, previous)
	}
	s.byID[id] = handle
	s.byHandle[handle] = id
	if id > s.watermark {
		s.watermark = id
	}
	return nil
}

// Resolve returns the live handle bound to id.
func (r *Registry) Resolve(kind state.Kind, id state.StableID) (state.Handle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.spaces[kind]; ok {
		if handle, ok := s.byID[id]; ok {
			return handle, nil
		}
	}
	return 0, &UnknownIDError{Kind: kind, ID: id}
}

// Lookup returns the stable id bound to a live handle.
func (r *Registry) Lookup(kind state.Kind, handle state.Handle) (state.StableID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.spaces[kind]
	if !ok {
		return 0, false
	}
	id, ok := s.byHandle[handle]
	return id, ok
}

// Release unbinds id. The id is not recycled.
func (r *Registry) Release(kind state.Kind, id state.StableID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.spaces[kind]
	if !ok {
		return &UnknownIDError{Kind: kind, ID: id}
	}
	handle, ok := s.byID[id]
	if !ok {
		return &UnknownIDError{Kind: kind, ID: id}
	}
	delete(s.byID, id)
	delete(s.byHandle, handle)
	return nil
}

// IDs lists the live ids of kind in ascending order.
func (r *Registry) IDs(kind state.Kind) []state.StableID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.spaces[kind]
	if !ok {
		return nil
	}
	ids := make([]state.StableID, 0, len(s.byID))
	for id := range s.byID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Len reports how many ids of kind are alive.
func (r *Registry) Len(kind state.Kind) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.spaces[kind]; ok {
		return len(s.byID)
	}
	return 0
}

// Watermark returns the highest id ever assigned in kind's space.
func (r *Registry) Watermark(kind state.Kind) state.StableID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.spaces[kind]; ok {
		return s.watermark
	}
	return 0
}

// Reset clears every binding and watermark, ready for a restore to re-adopt recorded ids.
func (r *Registry) Reset() {
	r.mu.Lock()
	r.spaces = make(map[state.Kind]*space)
	r.mu.Unlock()
}
