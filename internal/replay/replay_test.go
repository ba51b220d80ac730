package replay

import (
	"errors"
	"math"
	"testing"
	"time"

	"rigidsync/broker/internal/backend"
	"rigidsync/broker/internal/logging"
	"rigidsync/broker/internal/physics"
	"rigidsync/broker/internal/scene"
	"rigidsync/broker/internal/state"
	"rigidsync/broker/internal/world"
)

var fixedClock = func() time.Time { return time.Date(2026, 5, 4, 10, 30, 0, 0, time.UTC) }

func newWorld(t *testing.T, backendName, profile string) *world.Sim {
	t.Helper()
	cfg := world.DefaultConfig()
	cfg.Backend = backendName
	cfg.Tuning = backend.BuiltinProfiles()[profile]
	cfg.Logger = logging.NewTestLogger()
	w, err := world.New(cfg)
	if err != nil {
		t.Fatalf("new world: %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func newRecorder(t *testing.T, w world.World, sceneName string, mode Mode) *Recorder {
	t.Helper()
	rec, err := NewRecorder(w, RecorderConfig{Mode: mode, Seed: 42, Clock: fixedClock, Logger: logging.NewTestLogger()})
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	params, err := scene.Build(rec, sceneName, nil)
	if err != nil {
		t.Fatalf("build %s: %v", sceneName, err)
	}
	rec.SetScene(SceneRef{Name: sceneName, Params: params})
	if err := rec.CaptureInitialSnapshot(); err != nil {
		t.Fatalf("capture baseline: %v", err)
	}
	return rec
}

func advance(t *testing.T, w world.World, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := w.Step(w.FixedTimeStep()); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}
}

func runnerFor(t *testing.T, p *Packet, opts Options) *Runner {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = logging.NewTestLogger()
	}
	runner, err := NewRunner(p, opts)
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	return runner
}

// recordStack records a sphere stack with a few nudges spread over the run.
func recordStack(t *testing.T, backendName string, steps int) *Packet {
	t.Helper()
	rec := newRecorder(t, newWorld(t, backendName, "deterministic"), "sphere-stack", Strict)
	ids := rec.BodyIDs()
	top := ids[len(ids)-1]
	for i := 0; i < steps; i++ {
		//1.- Interleave impulses and forces so ops land at several distinct steps.
		switch {
		case i == 10:
			if err := rec.ApplyImpulse(top, physics.V3(0.8, 0, 0), physics.V3(0, 0, 0)); err != nil {
				t.Fatalf("impulse: %v", err)
			}
		case i%250 == 125:
			if err := rec.ApplyForce(ids[1], physics.V3(0, 0, 15)); err != nil {
				t.Fatalf("force: %v", err)
			}
		}
		if err := rec.Step(rec.FixedTimeStep()); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}
	p, err := rec.BuildPacket()
	if err != nil {
		t.Fatalf("build packet: %v", err)
	}
	return p
}

func TestStrictReplayReproducesThousandSteps(t *testing.T) {
	p := recordStack(t, "impulse", 1020)
	if len(p.Checkpoints) != 17 {
		t.Fatalf("expected 17 checkpoints at a 60 step cadence, got %d", len(p.Checkpoints))
	}
	if p.Checkpoints[0].Step != 60 || p.Checkpoints[16].Step != 1020 {
		t.Fatalf("unexpected checkpoint steps %d..%d", p.Checkpoints[0].Step, p.Checkpoints[16].Step)
	}

	var reports []CheckpointReport
	result := runnerFor(t, p, Options{OnCheckpoint: func(r CheckpointReport) { reports = append(reports, r) }}).Run()
	if !result.Success {
		t.Fatalf("strict replay failed: %v", result.Err)
	}
	if result.CheckpointsVerified != 17 || result.StepsRun != 1020 || result.OpsApplied != p.OpCount() {
		t.Fatalf("unexpected result %+v", result)
	}
	if len(reports) != 17 || !reports[16].Match || reports[16].Actual != p.Checkpoints[16].SHA256 {
		t.Fatalf("unexpected checkpoint reports %+v", reports)
	}
}

func TestStrictReplayOnXPBD(t *testing.T) {
	rec := newRecorder(t, newWorld(t, "xpbd", "deterministic"), "gear-pair", Strict)
	advance(t, rec, 130)
	p, err := rec.BuildPacket()
	if err != nil {
		t.Fatalf("build packet: %v", err)
	}
	//1.- 130 is off the cadence so sealing adds a tail checkpoint.
	if n := len(p.Checkpoints); n != 3 || p.Checkpoints[n-1].Step != 130 {
		t.Fatalf("expected checkpoints at 60, 120 and 130, got %+v", p.Checkpoints)
	}
	if result := runnerFor(t, p, Options{}).Run(); !result.Success {
		t.Fatalf("xpbd strict replay failed: %v", result.Err)
	}
}

func TestReplayIsIdempotentAndLeavesPacketAlone(t *testing.T) {
	p := recordStack(t, "impulse", 180)
	before, err := p.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	runner := runnerFor(t, p, Options{})
	first, second := runner.Run(), runner.Run()
	if !first.Success || !second.Success {
		t.Fatalf("expected both runs to pass: %v / %v", first.Err, second.Err)
	}
	after, _ := p.Encode()
	if string(before) != string(after) {
		t.Fatalf("running the replay mutated the packet")
	}
}

func TestStrictReplayReportsFirstDivergence(t *testing.T) {
	p := recordStack(t, "impulse", 240)
	//1.- Corrupt the second checkpoint only.
	p.Checkpoints[1].SHA256 = "0000000000000000000000000000000000000000000000000000000000000000"
	result := runnerFor(t, p, Options{}).Run()
	if result.Success {
		t.Fatalf("expected mismatch")
	}
	var mismatch *CheckpointMismatchError
	if !errors.As(result.Err, &mismatch) || !errors.Is(result.Err, ErrCheckpointMismatch) {
		t.Fatalf("expected CheckpointMismatchError, got %v", result.Err)
	}
	if mismatch.Step != 120 || mismatch.Actual == mismatch.Expected || result.CheckpointsVerified != 1 {
		t.Fatalf("unexpected mismatch %+v (verified %d)", mismatch, result.CheckpointsVerified)
	}
}

func TestStrictReplayDetectsAlteredInput(t *testing.T) {
	p := recordStack(t, "impulse", 120)
	p.Inputs[0].Ops[0].Vector = vec(physics.V3(3, 0, 0))
	result := runnerFor(t, p, Options{}).Run()
	if !errors.Is(result.Err, ErrCheckpointMismatch) {
		t.Fatalf("expected a checkpoint mismatch after altering an op, got %v", result.Err)
	}
}

func TestStrictReplayRefusesNonDeterministicSetups(t *testing.T) {
	p := recordStack(t, "impulse", 60)
	fast := backend.BuiltinProfiles()["fast"]
	if result := runnerFor(t, p, Options{Tuning: &fast}).Run(); !errors.Is(result.Err, ErrNonDeterministicTuning) {
		t.Fatalf("expected ErrNonDeterministicTuning, got %v", result.Err)
	}
	if result := runnerFor(t, p, Options{Backend: "xpbd"}).Run(); !errors.Is(result.Err, ErrBackendMismatch) {
		t.Fatalf("expected ErrBackendMismatch, got %v", result.Err)
	}
	if _, err := NewRecorder(newWorld(t, "impulse", "fast"), RecorderConfig{Mode: Strict}); !errors.Is(err, ErrNonDeterministicTuning) {
		t.Fatalf("expected strict recorder on fast profile to be refused, got %v", err)
	}
}

func TestBehaviouralReplayUnderFastProfile(t *testing.T) {
	rec := newRecorder(t, newWorld(t, "impulse", "deterministic"), "falling-sphere", Behavioural)
	sphere := rec.BodyIDs()[1]
	//1.- The impulse makes the sphere a touched body for the invariant checks.
	if err := rec.ApplyImpulse(sphere, physics.V3(0.5, 0, 0), physics.V3(0, 5, 0)); err != nil {
		t.Fatalf("impulse: %v", err)
	}
	advance(t, rec, 200)
	p, err := rec.BuildPacket()
	if err != nil {
		t.Fatalf("build packet: %v", err)
	}

	fast := backend.BuiltinProfiles()["fast"]
	result := runnerFor(t, p, Options{Tuning: &fast}).Run()
	if !result.Success {
		t.Fatalf("behavioural replay failed: %v", result.Err)
	}
	if result.Profile != "fast" || result.StepsRun != 200 {
		t.Fatalf("unexpected result %+v", result)
	}

	//2.- The same packet on the other backend still satisfies the bounds.
	if result := runnerFor(t, p, Options{Backend: "xpbd", Tuning: &fast}).Run(); !result.Success {
		t.Fatalf("cross-backend behavioural replay failed: %v", result.Err)
	}
}

func TestBehaviouralReplayReportsViolation(t *testing.T) {
	rec := newRecorder(t, newWorld(t, "impulse", "deterministic"), "falling-sphere", Behavioural)
	sphere := rec.BodyIDs()[1]
	if err := rec.ApplyImpulse(sphere, physics.V3(0, 0, 0), physics.V3(0, 5, 0)); err != nil {
		t.Fatalf("impulse: %v", err)
	}
	advance(t, rec, 120)
	p, err := rec.BuildPacket()
	if err != nil {
		t.Fatalf("build packet: %v", err)
	}
	//1.- The sphere starts at y=5 and falls below 2 well inside the run.
	p.Invariants.MinY = 2
	result := runnerFor(t, p, Options{}).Run()
	var violation *InvariantViolationError
	if !errors.As(result.Err, &violation) || !errors.Is(result.Err, ErrInvariantViolation) {
		t.Fatalf("expected InvariantViolationError, got %v", result.Err)
	}
	if violation.Body != uint32(sphere) || violation.Bound != "minY" || violation.Observed >= 2 {
		t.Fatalf("unexpected violation %+v", violation)
	}
}

func TestBehaviouralBoundsApplyOnlyAtCheckpoints(t *testing.T) {
	rec := newRecorder(t, newWorld(t, "impulse", "deterministic"), "falling-sphere", Behavioural)
	sphere := rec.BodyIDs()[1]
	//1.- The sphere exceeds maxSpeed for one step and is calmed before any checkpoint.
	advance(t, rec, 5)
	if err := rec.SetVelocity(sphere, physics.V3(2000, 0, 0), physics.Vec3{}); err != nil {
		t.Fatalf("set velocity: %v", err)
	}
	advance(t, rec, 1)
	if err := rec.SetVelocity(sphere, physics.Vec3{}, physics.Vec3{}); err != nil {
		t.Fatalf("reset velocity: %v", err)
	}
	advance(t, rec, 54)
	p, err := rec.BuildPacket()
	if err != nil {
		t.Fatalf("build packet: %v", err)
	}
	for _, cp := range p.Checkpoints {
		if cp.Step == 6 {
			t.Fatalf("fixture needs no checkpoint at the fast step")
		}
	}

	result := runnerFor(t, p, Options{}).Run()
	if !result.Success {
		t.Fatalf("expected a pass when bounds hold at every checkpoint, got %v", result.Err)
	}
	if result.StepsRun != 60 || result.CheckpointsVerified != len(p.Checkpoints) {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestUnknownIDFailsTheStep(t *testing.T) {
	rec := newRecorder(t, newWorld(t, "impulse", "deterministic"), "falling-sphere", Strict)
	advance(t, rec, 5)
	p, err := rec.BuildPacket()
	if err != nil {
		t.Fatalf("build packet: %v", err)
	}
	//1.- Inject an op against a body that never existed.
	p.Inputs = []InputFrame{{Step: 3, Ops: []Op{{Op: OpApplyForce, Body: 999, Vector: vec(physics.V3(1, 0, 0))}}}}
	result := runnerFor(t, p, Options{}).Run()
	if result.Success || !errors.Is(result.Err, ErrUnknownStableID) {
		t.Fatalf("expected ErrUnknownStableID, got %v", result.Err)
	}
	if result.Step != 3 {
		t.Fatalf("expected failure at step 3, got %d", result.Step)
	}

	//2.- Rig ids live in their own space and fail the same way.
	p.Inputs = []InputFrame{{Step: 0, Ops: []Op{{Op: OpApplyThrottle, Rig: 7, Value: num(1)}}}}
	if result := runnerFor(t, p, Options{}).Run(); !errors.Is(result.Err, ErrUnknownStableID) {
		t.Fatalf("expected ErrUnknownStableID for rig, got %v", result.Err)
	}
}

func TestRecorderLogsStructuralOpsWithAssignedIDs(t *testing.T) {
	rec := newRecorder(t, newWorld(t, "impulse", "deterministic"), "falling-sphere", Strict)
	crate := state.NewBody(state.Dynamic, state.Box(physics.V3(0.5, 0.5, 0.5)), 2, physics.V3(3, 1, 0))
	id, err := rec.SpawnBody(crate)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	advance(t, rec, 30)
	joint := state.ConstraintRecord{Type: state.ConstraintBallSocket, BodyA: id, BodyB: state.WorldAnchor, PivotB: physics.V3(3, 3, 0)}
	jointID, err := rec.AddConstraint(joint)
	if err != nil {
		t.Fatalf("add constraint: %v", err)
	}
	advance(t, rec, 30)
	if err := rec.RemoveConstraint(jointID); err != nil {
		t.Fatalf("remove constraint: %v", err)
	}
	if err := rec.DestroyBody(id); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	advance(t, rec, 10)

	p, err := rec.BuildPacket()
	if err != nil {
		t.Fatalf("build packet: %v", err)
	}
	if len(p.Inputs) != 3 || p.Inputs[0].Ops[0].Spawn.ID != id || p.Inputs[1].Ops[0].Joint.ID != jointID {
		t.Fatalf("unexpected inputs %+v", p.Inputs)
	}
	if p.Inputs[2].Step != 60 || len(p.Inputs[2].Ops) != 2 {
		t.Fatalf("expected two ops at step 60, got %+v", p.Inputs[2])
	}
	if result := runnerFor(t, p, Options{}).Run(); !result.Success {
		t.Fatalf("structural replay failed: %v", result.Err)
	}
}

func TestRecorderRejectsBadCallsWithoutForwarding(t *testing.T) {
	rec := newRecorder(t, newWorld(t, "impulse", "deterministic"), "falling-sphere", Strict)
	sphere := rec.BodyIDs()[1]
	before, _ := rec.Body(sphere)

	//1.- Non-finite inputs never reach the world.
	if err := rec.SetVelocity(sphere, physics.V3(math.NaN(), 0, 0), physics.Vec3{}); !errors.Is(err, ErrInvalidOp) {
		t.Fatalf("expected ErrInvalidOp, got %v", err)
	}
	after, _ := rec.Body(sphere)
	if after.State != before.State {
		t.Fatalf("rejected op changed the body")
	}
	//2.- Variable timesteps and late restores are refused.
	if err := rec.Step(rec.FixedTimeStep() / 2); !errors.Is(err, ErrVariableTimestep) {
		t.Fatalf("expected ErrVariableTimestep, got %v", err)
	}
	buf, _ := rec.Snapshot()
	if err := rec.Restore(buf); !errors.Is(err, ErrBaselineFixed) {
		t.Fatalf("expected ErrBaselineFixed, got %v", err)
	}
	if stats := rec.Stats(); stats.Ops != 0 || stats.Frames != 0 {
		t.Fatalf("rejected calls were logged: %+v", stats)
	}
}

func TestRecorderLifecycle(t *testing.T) {
	w := newWorld(t, "impulse", "deterministic")
	rec, err := NewRecorder(w, RecorderConfig{Clock: fixedClock, Logger: logging.NewTestLogger()})
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	if _, err := rec.BuildPacket(); !errors.Is(err, ErrNoBaseline) {
		t.Fatalf("expected ErrNoBaseline, got %v", err)
	}
	//1.- Ops before the baseline are forwarded but discarded.
	if _, err := scene.Build(rec, "falling-sphere", nil); err != nil {
		t.Fatalf("build scene: %v", err)
	}
	if err := rec.CaptureInitialSnapshot(); err != nil {
		t.Fatalf("capture: %v", err)
	}
	if err := rec.CaptureInitialSnapshot(); err != nil {
		t.Fatalf("second capture should be a no-op: %v", err)
	}
	if stats := rec.Stats(); !stats.HasBaseline || stats.Ops != 0 || len(rec.BodyIDs()) != 2 {
		t.Fatalf("unexpected stats after capture: %+v", stats)
	}
	p, err := rec.BuildPacket()
	if err != nil {
		t.Fatalf("build packet: %v", err)
	}
	if !p.CreatedUTC.Equal(fixedClock()) || p.EngineVersion != world.EngineVersion || p.Seed != 0 {
		t.Fatalf("unexpected packet stamp %+v", p)
	}
	//2.- Sealed recorders forward calls without logging them.
	if _, err := rec.BuildPacket(); !errors.Is(err, ErrSealed) {
		t.Fatalf("expected ErrSealed, got %v", err)
	}
	if err := rec.ApplyForce(rec.BodyIDs()[1], physics.V3(0, 1, 0)); err != nil {
		t.Fatalf("sealed forward: %v", err)
	}
	advance(t, rec, 2)
	if stats := rec.Stats(); stats.IgnoredSealed != 3 || stats.Ops != 0 || stats.Step != 2 {
		t.Fatalf("unexpected sealed stats %+v", stats)
	}
	if len(p.Inputs) != 0 {
		t.Fatalf("sealed packet changed")
	}
}
