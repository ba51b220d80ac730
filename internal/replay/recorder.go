package replay

import (
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"rigidsync/broker/internal/backend"
	"rigidsync/broker/internal/logging"
	"rigidsync/broker/internal/physics"
	"rigidsync/broker/internal/state"
	"rigidsync/broker/internal/world"
)

// DefaultCheckpointEvery is the checkpoint cadence used when the config leaves it unset.
const DefaultCheckpointEvery = 60

// RecorderConfig describes what the recorder stamps into the packet it builds.
type RecorderConfig struct {
	Scene           SceneRef
	Mode            Mode
	Invariants      *Invariants
	Seed            uint64
	CheckpointEvery uint32
	Clock           func() time.Time
	Logger          *logging.Logger
	// OnCheckpoint observes every checkpoint as it is taken.
	OnCheckpoint func(Checkpoint)
}

// RecorderStats summarises recorder progress for status endpoints.
type RecorderStats struct {
	Step          uint32
	BaselineStep  uint32
	HasBaseline   bool
	Frames        int
	Ops           int
	Checkpoints   int
	Sealed        bool
	IgnoredSealed int
}

// Recorder wraps a world, forwarding every call and logging successful mutations against the step
// they were issued at. It satisfies world.World so callers drive it exactly like the bare world.
type Recorder struct {
	mu          sync.Mutex
	inner       world.World
	cfg         RecorderConfig
	log         *logging.Logger
	now         func() time.Time
	baseline    []byte
	baseStep    uint32
	frames      []InputFrame
	checkpoints []Checkpoint
	ops         int
	sealed      bool
	ignored     int
}

var _ world.World = (*Recorder)(nil)

// NewRecorder starts a recording over inner.
func NewRecorder(inner world.World, cfg RecorderConfig) (*Recorder, error) {
	if inner == nil {
		return nil, fmt.Errorf("recorder requires a world")
	}
	if cfg.Mode == "" {
		cfg.Mode = Strict
	}
	if _, err := ParseMode(string(cfg.Mode)); err != nil {
		return nil, err
	}
	//1.- STRICT recordings are only worth their hashes on a reproducible tuning.
	if cfg.Mode == Strict && !inner.Tuning().StrictCapable() {
		return nil, fmt.Errorf("%w: profile %q", ErrNonDeterministicTuning, inner.Tuning().Profile)
	}
	if cfg.CheckpointEvery == 0 {
		cfg.CheckpointEvery = DefaultCheckpointEvery
	}
	if cfg.Invariants == nil {
		defaults := DefaultInvariants()
		cfg.Invariants = &defaults
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.L()
	}
	logger = logger.With(logging.String("component", "replay_recorder"), logging.String("scene", cfg.Scene.Name))
	return &Recorder{inner: inner, cfg: cfg, log: logger, now: cfg.Clock}, nil
}

// Inner exposes the wrapped world.
func (r *Recorder) Inner() world.World { return r.inner }

// SetScene names the scene stamped into the packet. Scene builders resolve their params only after
// the recorder exists, so callers set it once the build returns.
func (r *Recorder) SetScene(ref SceneRef) {
	r.mu.Lock()
	r.cfg.Scene = ref
	r.mu.Unlock()
}

// CaptureInitialSnapshot fixes the baseline. Earlier operations are discarded and the live world is
// rebased onto the decoded baseline so recording and replay share one restore lineage.
func (r *Recorder) CaptureInitialSnapshot() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return ErrSealed
	}
	if r.baseline != nil {
		r.log.Warn("initial snapshot already captured", logging.Uint32("baseline_step", r.baseStep))
		return nil
	}
	//1.- Encode then restore so later steps run on exactly the state a replay starts from.
	buf, err := r.inner.Snapshot()
	if err != nil {
		return fmt.Errorf("capture baseline: %w", err)
	}
	if err := r.inner.Restore(buf); err != nil {
		return fmt.Errorf("rebase onto baseline: %w", err)
	}
	r.baseline = buf
	r.baseStep = r.inner.StepCount()
	r.frames = nil
	r.ops = 0
	r.checkpoints = nil
	r.log.Info("replay baseline captured",
		logging.Uint32("step", r.baseStep),
		logging.Int("bytes", len(buf)),
		logging.String("mode", string(r.cfg.Mode)),
	)
	return nil
}

// BuildPacket seals the recording into an immutable packet.
func (r *Recorder) BuildPacket() (*Packet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return nil, ErrSealed
	}
	if r.baseline == nil {
		return nil, ErrNoBaseline
	}
	//1.- Close the tail with a checkpoint so the last steps are verified too.
	current := r.inner.StepCount()
	if current > r.baseStep && (len(r.checkpoints) == 0 || r.checkpoints[len(r.checkpoints)-1].Step != current) {
		if err := r.checkpointLocked(current); err != nil {
			return nil, err
		}
	}
	p := &Packet{
		Magic:              PacketMagic,
		FormatVersion:      PacketFormatVersion,
		CreatedUTC:         r.now().UTC(),
		EngineVersion:      world.EngineVersion,
		Backend:            r.inner.Backend(),
		Tuning:             r.inner.Tuning(),
		WorldConfig:        WorldConfig{FixedTimeStep: r.inner.FixedTimeStep(), MaxSubSteps: r.inner.MaxSubSteps()},
		Scene:              r.cfg.Scene,
		ValidationMode:     r.cfg.Mode,
		Invariants:         *r.cfg.Invariants,
		Seed:               r.cfg.Seed,
		InitialSnapshotB64: base64.StdEncoding.EncodeToString(r.baseline),
		Inputs:             append([]InputFrame{}, r.frames...),
		Checkpoints:        append([]Checkpoint{}, r.checkpoints...),
	}
	//2.- Hand out a deep copy so later calls can never reach the sealed ops.
	sealed, err := p.Clone()
	if err != nil {
		return nil, fmt.Errorf("seal packet: %w", err)
	}
	r.sealed = true
	r.log.Info("replay packet sealed",
		logging.Int("frames", len(sealed.Inputs)),
		logging.Int("ops", r.ops),
		logging.Int("checkpoints", len(sealed.Checkpoints)),
		logging.Uint32("last_step", current),
	)
	return sealed, nil
}

// Stats reports recorder progress.
func (r *Recorder) Stats() RecorderStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RecorderStats{
		Step:          r.inner.StepCount(),
		BaselineStep:  r.baseStep,
		HasBaseline:   r.baseline != nil,
		Frames:        len(r.frames),
		Ops:           r.ops,
		Checkpoints:   len(r.checkpoints),
		Sealed:        r.sealed,
		IgnoredSealed: r.ignored,
	}
}

func (r *Recorder) checkpointLocked(step uint32) error {
	hash, err := r.inner.Hash()
	if err != nil {
		return fmt.Errorf("checkpoint at step %d: %w", step, err)
	}
	cp := Checkpoint{Step: step, SHA256: hash}
	r.checkpoints = append(r.checkpoints, cp)
	if r.cfg.OnCheckpoint != nil {
		r.cfg.OnCheckpoint(cp)
	}
	return nil
}

// mutate validates op, forwards it through apply and logs it on success.
func (r *Recorder) mutate(op Op, apply func(*Op) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := op.Validate(); err != nil {
		return err
	}
	step := r.inner.StepCount()
	if err := apply(&op); err != nil {
		return err
	}
	switch {
	case r.sealed:
		r.ignored++
	case r.baseline == nil:
	default:
		if n := len(r.frames); n > 0 && r.frames[n-1].Step == step {
			r.frames[n-1].Ops = append(r.frames[n-1].Ops, op)
		} else {
			r.frames = append(r.frames, InputFrame{Step: step, Ops: []Op{op}})
		}
		r.ops++
	}
	return nil
}

func (r *Recorder) Backend() string           { return r.inner.Backend() }
func (r *Recorder) Tuning() backend.Tuning    { return r.inner.Tuning() }
func (r *Recorder) FixedTimeStep() float64    { return r.inner.FixedTimeStep() }
func (r *Recorder) MaxSubSteps() int          { return r.inner.MaxSubSteps() }
func (r *Recorder) StepCount() uint32         { return r.inner.StepCount() }
func (r *Recorder) BodyIDs() []state.StableID { return r.inner.BodyIDs() }
func (r *Recorder) ConstraintIDs() []state.StableID {
	return r.inner.ConstraintIDs()
}
func (r *Recorder) Events() []state.Event { return r.inner.Events() }

// Step advances the world by the fixed timestep and takes a checkpoint when one is due.
func (r *Recorder) Step(dt float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		r.ignored++
		return r.inner.Step(dt)
	}
	if dt != r.inner.FixedTimeStep() {
		return fmt.Errorf("%w: got %g, fixed %g", ErrVariableTimestep, dt, r.inner.FixedTimeStep())
	}
	if err := r.inner.Step(dt); err != nil {
		return err
	}
	if r.baseline == nil {
		return nil
	}
	current := r.inner.StepCount()
	if (current-r.baseStep)%r.cfg.CheckpointEvery == 0 {
		return r.checkpointLocked(current)
	}
	return nil
}

func (r *Recorder) SpawnBody(rec state.BodyRecord) (state.StableID, error) {
	var id state.StableID
	err := r.mutate(Op{Op: OpSpawnBody, Spawn: &rec}, func(op *Op) error {
		var err error
		if id, err = r.inner.SpawnBody(rec); err != nil {
			return err
		}
		stamped := rec.Clone()
		stamped.ID = id
		op.Spawn = &stamped
		return nil
	})
	return id, err
}

func (r *Recorder) DestroyBody(id state.StableID) error {
	return r.mutate(Op{Op: OpDestroyBody, Body: id}, func(*Op) error { return r.inner.DestroyBody(id) })
}

func (r *Recorder) Body(id state.StableID) (state.BodyRecord, error) { return r.inner.Body(id) }

func (r *Recorder) SetBodyState(id state.StableID, st state.BodyState) error {
	return r.mutate(Op{Op: OpSetBodyState, Body: id, State: &st}, func(*Op) error { return r.inner.SetBodyState(id, st) })
}

func (r *Recorder) ApplyImpulse(id state.StableID, impulse, point physics.Vec3) error {
	return r.mutate(Op{Op: OpApplyImpulse, Body: id, Vector: vec(impulse), Point: vec(point)}, func(*Op) error {
		return r.inner.ApplyImpulse(id, impulse, point)
	})
}

func (r *Recorder) ApplyForce(id state.StableID, force physics.Vec3) error {
	return r.mutate(Op{Op: OpApplyForce, Body: id, Vector: vec(force)}, func(*Op) error { return r.inner.ApplyForce(id, force) })
}

func (r *Recorder) ApplyTorque(id state.StableID, torque physics.Vec3) error {
	return r.mutate(Op{Op: OpApplyTorque, Body: id, Vector: vec(torque)}, func(*Op) error { return r.inner.ApplyTorque(id, torque) })
}

func (r *Recorder) SetVelocity(id state.StableID, linear, angular physics.Vec3) error {
	return r.mutate(Op{Op: OpSetVelocity, Body: id, Vector: vec(linear), Angular: vec(angular)}, func(*Op) error {
		return r.inner.SetVelocity(id, linear, angular)
	})
}

func (r *Recorder) Teleport(id state.StableID, position physics.Vec3, orientation physics.Quat) error {
	return r.mutate(Op{Op: OpTeleport, Body: id, Vector: vec(position), Orientation: &orientation}, func(*Op) error {
		return r.inner.Teleport(id, position, orientation)
	})
}

func (r *Recorder) AddConstraint(rec state.ConstraintRecord) (state.StableID, error) {
	var id state.StableID
	err := r.mutate(Op{Op: OpAddConstraint, Joint: &rec}, func(op *Op) error {
		var err error
		if id, err = r.inner.AddConstraint(rec); err != nil {
			return err
		}
		stamped := rec
		stamped.ID = id
		op.Joint = &stamped
		return nil
	})
	return id, err
}

func (r *Recorder) RemoveConstraint(id state.StableID) error {
	return r.mutate(Op{Op: OpRemoveConstraint, Constraint: id}, func(*Op) error { return r.inner.RemoveConstraint(id) })
}

func (r *Recorder) Constraint(id state.StableID) (state.ConstraintRecord, error) {
	return r.inner.Constraint(id)
}

func (r *Recorder) AddRig(rec state.RigRecord) (state.StableID, error) {
	var id state.StableID
	install := rec.Clone()
	err := r.mutate(Op{Op: OpAddRig, Install: &install}, func(op *Op) error {
		var err error
		if id, err = r.inner.AddRig(rec); err != nil {
			return err
		}
		stamped := rec.Clone()
		stamped.ID = id
		op.Install = &stamped
		return nil
	})
	return id, err
}

func (r *Recorder) RemoveRig(kind state.Kind, id state.StableID) error {
	return r.mutate(Op{Op: OpRemoveRig, RigKind: kind, Rig: id}, func(*Op) error { return r.inner.RemoveRig(kind, id) })
}

func (r *Recorder) Rig(kind state.Kind, id state.StableID) (state.RigRecord, error) {
	return r.inner.Rig(kind, id)
}

func (r *Recorder) ApplyThrottle(id state.StableID, value float64) error {
	return r.mutate(Op{Op: OpApplyThrottle, Rig: id, Value: num(value)}, func(*Op) error { return r.inner.ApplyThrottle(id, value) })
}

func (r *Recorder) ApplyBrake(id state.StableID, value float64) error {
	return r.mutate(Op{Op: OpApplyBrake, Rig: id, Value: num(value)}, func(*Op) error { return r.inner.ApplyBrake(id, value) })
}

func (r *Recorder) ApplySteer(id state.StableID, value float64) error {
	return r.mutate(Op{Op: OpApplySteer, Rig: id, Value: num(value)}, func(*Op) error { return r.inner.ApplySteer(id, value) })
}

func (r *Recorder) SetHandbrake(id state.StableID, engaged bool) error {
	return r.mutate(Op{Op: OpSetHandbrake, Rig: id, Engaged: &engaged}, func(*Op) error { return r.inner.SetHandbrake(id, engaged) })
}

func (r *Recorder) MoveCharacter(id state.StableID, direction physics.Vec3) error {
	return r.mutate(Op{Op: OpMoveCharacter, Rig: id, Vector: vec(direction)}, func(*Op) error {
		return r.inner.MoveCharacter(id, direction)
	})
}

func (r *Recorder) JumpCharacter(id state.StableID) error {
	return r.mutate(Op{Op: OpJumpCharacter, Rig: id}, func(*Op) error { return r.inner.JumpCharacter(id) })
}

func (r *Recorder) ActivateRagdoll(id state.StableID) error {
	return r.mutate(Op{Op: OpActivateRagdoll, Rig: id}, func(*Op) error { return r.inner.ActivateRagdoll(id) })
}

func (r *Recorder) DeactivateRagdoll(id state.StableID) error {
	return r.mutate(Op{Op: OpDeactivateRagdoll, Rig: id}, func(*Op) error { return r.inner.DeactivateRagdoll(id) })
}

func (r *Recorder) SetRagdollBlendTarget(id state.StableID, pose []physics.Quat, weight float64) error {
	copied := append([]physics.Quat(nil), pose...)
	return r.mutate(Op{Op: OpSetRagdollBlendTarget, Rig: id, Pose: copied, Value: num(weight)}, func(*Op) error {
		return r.inner.SetRagdollBlendTarget(id, pose, weight)
	})
}

func (r *Recorder) State() (*state.WorldState, error) { return r.inner.State() }
func (r *Recorder) Snapshot() ([]byte, error)         { return r.inner.Snapshot() }
func (r *Recorder) Hash() (string, error)             { return r.inner.Hash() }

// Restore is only allowed before the baseline is captured.
func (r *Recorder) Restore(buf []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.baseline != nil && !r.sealed {
		return ErrBaselineFixed
	}
	return r.inner.Restore(buf)
}

// RestoreState is only allowed before the baseline is captured.
func (r *Recorder) RestoreState(ws *state.WorldState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.baseline != nil && !r.sealed {
		return ErrBaselineFixed
	}
	return r.inner.RestoreState(ws)
}

// Close closes the wrapped world.
func (r *Recorder) Close() error { return r.inner.Close() }
