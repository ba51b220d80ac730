package collide

import (
	"sort"

	"rigidsync/broker/internal/state"
)

// Pair is an ordered body pair with A < B.
type Pair struct {
	A, B state.Handle
}

// MakePair orders the handles.
func MakePair(a, b state.Handle) Pair {
	if a > b {
		a, b = b, a
	}
	return Pair{A: a, B: b}
}

// PairTracker diffs touching pairs between steps to produce begin/end notifications.
type PairTracker struct {
	previous map[Pair]struct{}
	current  map[Pair]struct{}
}

// NewPairTracker constructs an empty tracker.
func NewPairTracker() *PairTracker {
	return &PairTracker{previous: map[Pair]struct{}{}, current: map[Pair]struct{}{}}
}

// Touch marks a pair as touching during the current step.
func (t *PairTracker) Touch(p Pair) {
	t.current[p] = struct{}{}
}

// Forget drops every pair involving h, used when a body is destroyed.
func (t *PairTracker) Forget(h state.Handle) {
	for p := range t.previous {
		if p.A == h || p.B == h {
			delete(t.previous, p)
		}
	}
	for p := range t.current {
		if p.A == h || p.B == h {
			delete(t.current, p)
		}
	}
}

// Reset clears all history.
func (t *PairTracker) Reset() {
	t.previous = map[Pair]struct{}{}
	t.current = map[Pair]struct{}{}
}

// Flush returns the pairs that began and ended touching since the last flush, sorted.
func (t *PairTracker) Flush() (began, ended []Pair) {
	for p := range t.current {
		if _, ok := t.previous[p]; !ok {
			began = append(began, p)
		}
	}
	for p := range t.previous {
		if _, ok := t.current[p]; !ok {
			ended = append(ended, p)
		}
	}
	sortPairs(began)
	sortPairs(ended)
	t.previous, t.current = t.current, map[Pair]struct{}{}
	return began, ended
}

func sortPairs(pairs []Pair) {
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].A != pairs[j].A {
			return pairs[i].A < pairs[j].A
		}
		return pairs[i].B < pairs[j].B
	})
}
