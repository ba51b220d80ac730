package replay

import (
	"errors"
	"fmt"
	"math"
	"time"

	"rigidsync/broker/internal/backend"
	"rigidsync/broker/internal/logging"
	"rigidsync/broker/internal/state"
	"rigidsync/broker/internal/world"
)

// Options adjust how a packet is replayed.
type Options struct {
	Logger *logging.Logger
	// Backend replaces the recording backend; only BEHAVIOURAL packets accept a different one.
	Backend string
	// Tuning replaces the recorded tuning profile.
	Tuning *backend.Tuning
	// OnCheckpoint observes each recorded checkpoint as the replay passes it.
	OnCheckpoint func(CheckpointReport)
	Clock        func() time.Time
}

// CheckpointReport describes one recorded checkpoint reached during a replay. Actual is empty for
// BEHAVIOURAL runs, which never hash.
type CheckpointReport struct {
	Step     uint32 `json:"step"`
	Expected string `json:"expected"`
	Actual   string `json:"actual,omitempty"`
	Match    bool   `json:"match"`
}

// Result summarises a replay. Err is nil exactly when Success is true.
type Result struct {
	Success             bool          `json:"success"`
	Mode                Mode          `json:"mode"`
	Backend             string        `json:"backend"`
	Profile             string        `json:"profile"`
	Step                uint32        `json:"step"`
	StepsRun            uint32        `json:"stepsRun"`
	OpsApplied          int           `json:"opsApplied"`
	CheckpointsVerified int           `json:"checkpointsVerified"`
	Message             string        `json:"message"`
	Duration            time.Duration `json:"duration"`
	Err                 error         `json:"-"`
}

// Runner replays a packet against a fresh or supplied world.
type Runner struct {
	packet *Packet
	opts   Options
	log    *logging.Logger
	now    func() time.Time
}

// NewRunner validates the packet framing and copies it so the caller's packet is never touched.
func NewRunner(p *Packet, opts Options) (*Runner, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	copied, err := p.Clone()
	if err != nil {
		return nil, framing("copy packet: %v", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.L()
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	logger = logger.With(logging.String("component", "replay_runner"), logging.String("mode", string(p.ValidationMode)))
	return &Runner{packet: copied, opts: opts, log: logger, now: now}, nil
}

// Packet returns the runner's private copy.
func (r *Runner) Packet() *Packet { return r.packet }

// WorldConfig resolves the world a replay of this packet runs on, applying overrides.
func (r *Runner) WorldConfig() world.Config {
	cfg := world.Config{
		Backend:       r.packet.Backend,
		Tuning:        r.packet.Tuning,
		Gravity:       world.DefaultGravity,
		FixedTimeStep: r.packet.WorldConfig.FixedTimeStep,
		MaxSubSteps:   r.packet.WorldConfig.MaxSubSteps,
		Logger:        r.log,
	}
	if r.opts.Backend != "" {
		cfg.Backend = r.opts.Backend
	}
	if r.opts.Tuning != nil {
		cfg.Tuning = *r.opts.Tuning
	}
	return cfg
}

// Run replays the packet on a world opened from the packet's own configuration.
func (r *Runner) Run() Result {
	cfg := r.WorldConfig()
	w, err := world.New(cfg)
	if err != nil {
		return r.fail(Result{Mode: r.packet.ValidationMode, Backend: cfg.Backend, Profile: cfg.Tuning.Profile}, r.now(), err)
	}
	result := r.RunOn(w)
	if err := w.Close(); err != nil {
		r.log.Warn("closing replay world failed", logging.Error(err))
	}
	return result
}

// RunOn replays the packet on w, replacing its contents with the packet baseline.
func (r *Runner) RunOn(w world.World) (result Result) {
	started := r.now()
	p := r.packet
	result = Result{Mode: p.ValidationMode, Backend: w.Backend(), Profile: w.Tuning().Profile}
	defer func() {
		if recovered := recover(); recovered != nil {
			result = r.fail(result, started, fmt.Errorf("replay aborted at step %d: %v", result.Step, recovered))
		}
	}()

	//1.- STRICT hashes only mean something on the recording backend with reproducible tunings.
	if p.ValidationMode == Strict {
		if w.Backend() != p.Backend {
			return r.fail(result, started, fmt.Errorf("%w: packet %q, world %q", ErrBackendMismatch, p.Backend, w.Backend()))
		}
		if !p.Tuning.StrictCapable() || !w.Tuning().StrictCapable() {
			return r.fail(result, started, fmt.Errorf("%w: packet %q, world %q", ErrNonDeterministicTuning, p.Tuning.Profile, w.Tuning().Profile))
		}
	}

	//2.- Restore the baseline through the backend-neutral records.
	ws, err := p.InitialState()
	if err != nil {
		return r.fail(result, started, err)
	}
	if err := w.RestoreState(ws); err != nil {
		return r.fail(result, started, fmt.Errorf("restore baseline: %w", err))
	}
	start := w.StepCount()
	if len(p.Inputs) > 0 && p.Inputs[0].Step < start {
		return r.fail(result, started, framing("input step %d precedes baseline step %d", p.Inputs[0].Step, start))
	}
	if len(p.Checkpoints) > 0 && p.Checkpoints[0].Step < start {
		return r.fail(result, started, framing("checkpoint step %d precedes baseline step %d", p.Checkpoints[0].Step, start))
	}

	guard := newInvariantGuard(p.Invariants, len(w.BodyIDs()))
	dt := p.WorldConfig.FixedTimeStep
	last := p.LastStep()
	nextInput, nextCheckpoint := 0, 0
	cur := start
	result.Step = cur

	if len(p.Checkpoints) > 0 && p.Checkpoints[0].Step == start {
		if err := r.judge(w, guard, p.Checkpoints[0], &result); err != nil {
			return r.fail(result, started, err)
		}
		nextCheckpoint++
	}

	//3.- Apply the ops issued at the current step, advance, then judge the new step.
	for {
		if nextInput < len(p.Inputs) && p.Inputs[nextInput].Step == cur {
			for i, op := range p.Inputs[nextInput].Ops {
				if err := op.Apply(w); err != nil {
					return r.fail(result, started, fmt.Errorf("step %d op %d (%s): %w", cur, i, op.Op, err))
				}
				guard.observe(op)
				result.OpsApplied++
			}
			nextInput++
		}
		if cur >= last {
			break
		}
		if err := w.Step(dt); err != nil {
			return r.fail(result, started, fmt.Errorf("step %d: %w", cur, err))
		}
		cur = w.StepCount()
		result.Step = cur
		result.StepsRun++
		if nextCheckpoint < len(p.Checkpoints) && p.Checkpoints[nextCheckpoint].Step == cur {
			if err := r.judge(w, guard, p.Checkpoints[nextCheckpoint], &result); err != nil {
				return r.fail(result, started, err)
			}
			nextCheckpoint++
		}
	}

	result.Success = true
	result.Duration = r.now().Sub(started)
	result.Message = fmt.Sprintf("%s replay passed: %d steps, %d ops, %d checkpoints", p.ValidationMode, result.StepsRun, result.OpsApplied, result.CheckpointsVerified)
	r.log.Info("replay passed",
		logging.Uint32("steps", result.StepsRun),
		logging.Int("ops", result.OpsApplied),
		logging.Int("checkpoints", result.CheckpointsVerified),
		logging.String("backend", result.Backend),
	)
	return result
}

// judge evaluates one checkpoint: BEHAVIOURAL invariants first, then the checkpoint itself.
// Between checkpoints a run is never judged.
func (r *Runner) judge(w world.World, guard *invariantGuard, cp Checkpoint, result *Result) error {
	if r.packet.ValidationMode == Behavioural {
		if err := guard.check(w, cp.Step); err != nil {
			return err
		}
	}
	return r.checkpoint(w, cp, result)
}

func (r *Runner) checkpoint(w world.World, cp Checkpoint, result *Result) error {
	report := CheckpointReport{Step: cp.Step, Expected: cp.SHA256, Match: true}
	if r.packet.ValidationMode == Strict {
		actual, err := w.Hash()
		if err != nil {
			return fmt.Errorf("hash at step %d: %w", cp.Step, err)
		}
		report.Actual = actual
		report.Match = actual == cp.SHA256
	}
	if r.opts.OnCheckpoint != nil {
		r.opts.OnCheckpoint(report)
	}
	if !report.Match {
		return &CheckpointMismatchError{Step: cp.Step, Expected: cp.SHA256, Actual: report.Actual}
	}
	result.CheckpointsVerified++
	return nil
}

func (r *Runner) fail(result Result, started time.Time, err error) Result {
	result.Success = false
	result.Err = err
	result.Message = err.Error()
	result.Duration = r.now().Sub(started)
	level := r.log.Warn
	if errors.Is(err, ErrPacketFraming) {
		level = r.log.Error
	}
	level("replay failed", logging.Uint32("step", result.Step), logging.Error(err))
	return result
}

// invariantGuard tracks the bodies BEHAVIOURAL checks apply to.
type invariantGuard struct {
	bounds   Invariants
	bodies   map[state.StableID]bool
	rigs     map[rigRef]bool
	expected int
}

func newInvariantGuard(bounds Invariants, bodyCount int) *invariantGuard {
	return &invariantGuard{
		bounds:   bounds,
		bodies:   make(map[state.StableID]bool),
		rigs:     make(map[rigRef]bool),
		expected: bodyCount,
	}
}

func (g *invariantGuard) observe(op Op) {
	op.touched(g.bodies, g.rigs)
	switch op.Op {
	case OpSpawnBody:
		g.expected++
	case OpDestroyBody:
		g.expected--
	}
}

// touched resolves the body set now, following rigs to the bodies they drive.
func (g *invariantGuard) touched(w world.World) map[state.StableID]bool {
	out := make(map[state.StableID]bool, len(g.bodies))
	for id := range g.bodies {
		out[id] = true
	}
	for ref := range g.rigs {
		rig, err := w.Rig(ref.kind, ref.id)
		if err != nil {
			continue
		}
		for _, id := range rig.Bodies() {
			out[id] = true
		}
	}
	return out
}

func (g *invariantGuard) check(w world.World, step uint32) error {
	if g.bounds.RequireBodyCountStable {
		if count := len(w.BodyIDs()); count != g.expected {
			return &InvariantViolationError{Step: step, Bound: "bodyCount", Observed: float64(count), Limit: float64(g.expected)}
		}
	}
	touched := g.touched(w)
	for _, id := range w.BodyIDs() {
		if !touched[id] {
			continue
		}
		rec, err := w.Body(id)
		if err != nil {
			continue
		}
		st := rec.State
		if g.bounds.RequireFinite && !st.IsFinite() {
			return &InvariantViolationError{Step: step, Body: uint32(id), Bound: "finite", Observed: math.NaN()}
		}
		if st.Position.Y < g.bounds.MinY {
			return &InvariantViolationError{Step: step, Body: uint32(id), Bound: "minY", Observed: st.Position.Y, Limit: g.bounds.MinY}
		}
		if speed := st.LinearVelocity.Length(); speed > g.bounds.MaxSpeed {
			return &InvariantViolationError{Step: step, Body: uint32(id), Bound: "maxLinearSpeed", Observed: speed, Limit: g.bounds.MaxSpeed}
		}
		if spin := st.AngularVelocity.Length(); spin > g.bounds.MaxSpeed {
			return &InvariantViolationError{Step: step, Body: uint32(id), Bound: "maxAngularSpeed", Observed: spin, Limit: g.bounds.MaxSpeed}
		}
	}
	return nil
}
