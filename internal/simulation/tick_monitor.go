package simulation

import (
	"sync"
	"time"
)

// TickMetricsSnapshot summarises the wall time spent stepping a session.
type TickMetricsSnapshot struct {
	Samples  int
	Average  time.Duration
	Max      time.Duration
	Last     time.Duration
	Budget   time.Duration
	Overruns int
}

// Utilisation is the average step cost as a fraction of the budget. Zero without a budget.
func (s TickMetricsSnapshot) Utilisation() float64 {
	if s.Budget <= 0 {
		return 0
	}
	return float64(s.Average) / float64(s.Budget)
}

// TickMonitor times session steps against the wall-clock budget of one fixed timestep. A step that
// takes longer than the budget is an overrun: a realtime session cannot keep pace while they recur.
type TickMonitor struct {
	budget time.Duration
	export func(seconds float64)

	mu       sync.Mutex
	samples  int
	total    time.Duration
	max      time.Duration
	last     time.Duration
	overruns int
}

// NewTickMonitor creates a monitor for steps of the given budget. export receives every sample in
// seconds and may be nil.
func NewTickMonitor(budget time.Duration, export func(seconds float64)) *TickMonitor {
	return &TickMonitor{budget: budget, export: export}
}

// Observe records the wall time of one completed step.
func (m *TickMonitor) Observe(took time.Duration) {
	if m == nil || took <= 0 {
		return
	}
	m.mu.Lock()
	m.samples++
	m.total += took
	m.last = took
	m.max = max(m.max, took)
	if m.budget > 0 && took > m.budget {
		m.overruns++
	}
	m.mu.Unlock()
	if m.export != nil {
		m.export(took.Seconds())
	}
}

// Snapshot returns the statistics gathered so far.
func (m *TickMonitor) Snapshot() TickMetricsSnapshot {
	if m == nil {
		return TickMetricsSnapshot{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := TickMetricsSnapshot{
		Samples:  m.samples,
		Max:      m.max,
		Last:     m.last,
		Budget:   m.budget,
		Overruns: m.overruns,
	}
	if m.samples > 0 {
		snap.Average = m.total / time.Duration(m.samples)
	}
	return snap
}
