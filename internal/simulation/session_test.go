package simulation

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"rigidsync/broker/internal/logging"
	"rigidsync/broker/internal/physics"
	"rigidsync/broker/internal/replay"
	"rigidsync/broker/internal/state"
)

func fixedClock() time.Time { return time.Date(2026, 5, 4, 10, 30, 0, 0, time.UTC) }

func newManager(t *testing.T, opts ...ManagerOption) *Manager {
	t.Helper()
	base := []ManagerOption{WithLogger(logging.NewTestLogger()), WithClock(fixedClock)}
	m := NewManager(append(base, opts...)...)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func impulse(body state.StableID, y float64) replay.Op {
	v := physics.V3(0, y, 0)
	point := physics.V3(0, 0, 0)
	return replay.Op{Op: replay.OpApplyImpulse, Body: body, Vector: &v, Point: &point}
}

func TestSessionRecordsQueuedOpsAndSealsReplayablePacket(t *testing.T) {
	var mu sync.Mutex
	var checkpoints []replay.Checkpoint
	var sealedID string
	root := t.TempDir()
	m := newManager(t, WithArchiveRoot(root), WithHooks(Hooks{
		OnCheckpoint: func(id string, cp replay.Checkpoint) {
			mu.Lock()
			checkpoints = append(checkpoints, cp)
			mu.Unlock()
		},
		OnSealed: func(id string, p *replay.Packet, dir string) { sealedID = id },
	}))

	//1.- Open a stepped session and queue an impulse on the falling sphere.
	session, err := m.Create(SessionConfig{Scene: "falling-sphere", CheckpointEvery: 30})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if _, err := session.Enqueue(impulse(2, 3)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := session.Advance(75); err != nil {
		t.Fatalf("advance: %v", err)
	}
	status := session.Status()
	if status.Step != 75 || status.Recorder.Ops != 1 || status.Pending != 0 {
		t.Fatalf("unexpected status %+v", status)
	}

	//2.- Seal and confirm the packet and archive.
	result, err := m.Seal(session.ID())
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if sealedID != session.ID() {
		t.Fatalf("sealed hook not invoked")
	}
	if result.Packet.LastStep() != 75 || result.Packet.OpCount() != 1 {
		t.Fatalf("unexpected packet shape last=%d ops=%d", result.Packet.LastStep(), result.Packet.OpCount())
	}
	if len(checkpoints) != 3 || checkpoints[2].Step != 75 {
		t.Fatalf("expected checkpoints at 30, 60 and the tail, got %+v", checkpoints)
	}
	if _, err := os.Stat(filepath.Join(result.ArchiveDir, replay.PacketFile)); err != nil {
		t.Fatalf("archived packet missing: %v", err)
	}

	//3.- The sealed packet replays under STRICT.
	runner, err := replay.NewRunner(result.Packet, replay.Options{Logger: logging.NewTestLogger()})
	if err != nil {
		t.Fatalf("runner: %v", err)
	}
	if res := runner.Run(); !res.Success {
		t.Fatalf("replay failed: %s", res.Message)
	}
	if _, err := m.Get(session.ID()); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("sealed session should be forgotten, got %v", err)
	}
}

func TestSessionRejectsInvalidAndUnknownOps(t *testing.T) {
	m := newManager(t)
	session, err := m.Create(SessionConfig{Scene: "falling-sphere"})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	//1.- Structurally invalid ops never reach the queue.
	if _, err := session.Enqueue(replay.Op{Op: replay.OpApplyImpulse, Body: 2}); !errors.Is(err, replay.ErrInvalidOp) {
		t.Fatalf("expected invalid op error, got %v", err)
	}
	//2.- Unknown ids are dropped at apply time and the step still runs.
	if _, err := session.Enqueue(impulse(999, 1)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := session.Advance(1); err != nil {
		t.Fatalf("advance: %v", err)
	}
	status := session.Status()
	if status.Rejected != 1 || status.Recorder.Ops != 0 || status.LastError == "" {
		t.Fatalf("expected rejected op in status, got %+v", status)
	}
}

func TestManagerRefusesStrictOnFastProfile(t *testing.T) {
	m := newManager(t)
	if _, err := m.Create(SessionConfig{Scene: "falling-sphere", Profile: "fast"}); !errors.Is(err, replay.ErrNonDeterministicTuning) {
		t.Fatalf("expected non-deterministic refusal, got %v", err)
	}
	if _, err := m.Create(SessionConfig{Scene: "nope"}); err == nil {
		t.Fatalf("expected unknown scene to fail")
	}
	if m.Len() != 0 {
		t.Fatalf("failed creates must not register sessions")
	}
	session, err := m.Create(SessionConfig{Scene: "falling-sphere", Profile: "fast", Mode: replay.Behavioural})
	if err != nil {
		t.Fatalf("behavioural on fast profile: %v", err)
	}
	if session.Status().Profile != "fast" {
		t.Fatalf("unexpected profile %q", session.Status().Profile)
	}
}

func TestManagerCapacityAndDiscard(t *testing.T) {
	var opened, closed int
	m := newManager(t, WithMaxSessions(1), WithHooks(Hooks{
		OnOpened: func(string) { opened++ },
		OnClosed: func(string) { closed++ },
	}))
	first, err := m.Create(SessionConfig{Scene: "falling-sphere"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := m.Create(SessionConfig{Scene: "falling-sphere"}); !errors.Is(err, ErrTooManySessions) {
		t.Fatalf("expected capacity error, got %v", err)
	}
	if err := m.Discard(first.ID()); err != nil {
		t.Fatalf("discard: %v", err)
	}
	if _, err := first.Enqueue(impulse(2, 1)); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected closed session, got %v", err)
	}
	if opened != 1 || closed != 1 {
		t.Fatalf("unexpected hook counts opened=%d closed=%d", opened, closed)
	}
}

func TestRealtimeSessionStepsOnItsOwnLoop(t *testing.T) {
	m := newManager(t)
	session, err := m.Create(SessionConfig{Scene: "falling-sphere", Realtime: true, FixedTimeStep: 1.0 / 200})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := session.Advance(1); !errors.Is(err, ErrRealtime) {
		t.Fatalf("expected realtime refusal, got %v", err)
	}
	//1.- Wait for the loop to make progress then seal while it runs.
	deadline := time.Now().Add(2 * time.Second)
	for session.Status().Step < 5 {
		if time.Now().After(deadline) {
			t.Fatalf("realtime loop did not advance")
		}
		time.Sleep(5 * time.Millisecond)
	}
	result, err := m.Seal(session.ID())
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if result.Packet.LastStep() < 5 {
		t.Fatalf("unexpected last step %d", result.Packet.LastStep())
	}
	if _, err := m.Seal(session.ID()); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected second seal to miss, got %v", err)
	}
}
