package simulation

import (
	"errors"
	"sync"
	"time"
)

// ErrBatchDropped is returned when the op gate refuses a batch; the error text names the reason.
var ErrBatchDropped = errors.New("op batch dropped")

// GateConfig controls the freshness and throughput checks applied to op batches.
type GateConfig struct {
	// MinInterval is the shortest gap between accepted batches. Zero disables the check.
	MinInterval time.Duration
	// MaxAge drops batches whose SentAt is older than this. Zero disables the check.
	MaxAge time.Duration
}

// DropReason enumerates why a batch was rejected by the gate.
type DropReason string

const (
	DropReasonNone        DropReason = ""
	DropReasonSequence    DropReason = "sequence"
	DropReasonStale       DropReason = "stale"
	DropReasonRateLimited DropReason = "rate_limit"
)

// Batch carries the client metadata of one op submission. A zero Sequence opts out of ordering.
type Batch struct {
	Sequence uint64
	SentAt   time.Time
}

// Decision summarises whether a batch passed the gate.
type Decision struct {
	Accepted bool
	Reason   DropReason
	Delay    time.Duration
}

// DropCounters aggregates per-reason drop counts.
type DropCounters struct {
	Sequence    uint64 `json:"sequence"`
	Stale       uint64 `json:"stale"`
	RateLimited uint64 `json:"rateLimited"`
}

// Gate validates the sequencing, freshness and throughput of one session's op batches. Clients
// that retry a POST with the same sequence get a sequence drop instead of a second application.
type Gate struct {
	mu           sync.Mutex
	cfg          GateConfig
	now          func() time.Time
	lastSequence uint64
	lastAccepted time.Time
	drops        DropCounters
}

// NewGate constructs a gate; negative limits disable their checks.
func NewGate(cfg GateConfig, clock func() time.Time) *Gate {
	if cfg.MaxAge < 0 {
		cfg.MaxAge = 0
	}
	if cfg.MinInterval < 0 {
		cfg.MinInterval = 0
	}
	if clock == nil {
		clock = time.Now
	}
	return &Gate{cfg: cfg, now: clock}
}

// Evaluate applies the sequence, throughput and freshness checks in that order.
func (g *Gate) Evaluate(b Batch) Decision {
	decision := Decision{Accepted: true}
	if g == nil {
		return decision
	}
	now := g.now()
	if !b.SentAt.IsZero() {
		decision.Delay = max(now.Sub(b.SentAt), 0)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	switch {
	case b.Sequence != 0 && b.Sequence <= g.lastSequence:
		decision = Decision{Reason: DropReasonSequence, Delay: decision.Delay}
		g.drops.Sequence++
	case g.cfg.MinInterval > 0 && !g.lastAccepted.IsZero() && now.Sub(g.lastAccepted) < g.cfg.MinInterval:
		decision = Decision{Reason: DropReasonRateLimited, Delay: decision.Delay}
		g.drops.RateLimited++
	case g.cfg.MaxAge > 0 && decision.Delay > g.cfg.MaxAge:
		decision = Decision{Reason: DropReasonStale, Delay: decision.Delay}
		g.drops.Stale++
	default:
		//1.- Only accepted batches move the sequence so a dropped batch can be resent.
		if b.Sequence != 0 {
			g.lastSequence = b.Sequence
		}
		g.lastAccepted = now
	}
	return decision
}

// LastSequence returns the highest accepted sequence, zero before any sequenced batch.
func (g *Gate) LastSequence() uint64 {
	if g == nil {
		return 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastSequence
}

// Drops returns the drop counters.
func (g *Gate) Drops() DropCounters {
	if g == nil {
		return DropCounters{}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.drops
}
