package xpbd

import (
	"testing"

	"rigidsync/broker/internal/backend"
	"rigidsync/broker/internal/physics"
	"rigidsync/broker/internal/state"
)

func newWorld(t *testing.T) *World {
	t.Helper()
	b, err := backend.Open(Name, backend.Config{
		Tuning:  backend.Tuning{Deterministic: true, Threads: 1, SolverIterations: 4},
		Gravity: physics.V3(0, -9.81, 0),
	})
	if err != nil {
		t.Fatalf("open backend: %v", err)
	}
	return b.(*World)
}

func TestNativeIDsHonourHints(t *testing.T) {
	w := newWorld(t)
	rec := state.NewBody(state.Dynamic, state.Sphere(0.5), 1, physics.Vec3{})
	//1.- Without a hint the backend numbers bodies itself.
	h1, _ := w.SpawnBody(rec)
	if id, ok := w.NativeID(state.KindBody, h1); !ok || id != 1 {
		t.Fatalf("expected native id 1, got %d %v", id, ok)
	}
	//2.- A recorded id is kept and the counter moves past it.
	rec.ID = 10
	h2, _ := w.SpawnBody(rec)
	if id, _ := w.NativeID(state.KindBody, h2); id != 10 {
		t.Fatalf("expected hinted id 10, got %d", id)
	}
	rec.ID = 0
	h3, _ := w.SpawnBody(rec)
	if id, _ := w.NativeID(state.KindBody, h3); id != 11 {
		t.Fatalf("expected id past the hint, got %d", id)
	}
	if err := w.DestroyBody(h3); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	if _, ok := w.NativeID(state.KindBody, h3); ok {
		t.Fatalf("destroyed body should lose its native id")
	}
}

func TestSphereRestsOnGround(t *testing.T) {
	w := newWorld(t)
	if _, err := w.SpawnBody(state.NewBody(state.Static, state.Plane(physics.V3(0, 1, 0), 0), 0, physics.Vec3{})); err != nil {
		t.Fatalf("spawn ground: %v", err)
	}
	sphere, _ := w.SpawnBody(state.NewBody(state.Dynamic, state.Sphere(0.5), 1, physics.V3(0, 3, 0)))
	for i := 0; i < 180; i++ {
		if err := w.Step(1.0/60.0, 1); err != nil {
			t.Fatalf("step: %v", err)
		}
	}
	st, _ := w.BodyState(sphere)
	if st.Position.Y < 0.4 || st.Position.Y > 0.6 {
		t.Fatalf("expected sphere resting near y=0.5, got %.3f", st.Position.Y)
	}
	if st.LinearVelocity.Length() > 0.5 {
		t.Fatalf("expected sphere at rest, got %+v", st.LinearVelocity)
	}
}

func TestSettingsDefaults(t *testing.T) {
	w := newWorld(t)
	settings := w.Settings()
	if settings.Substeps != defaultSubsteps || settings.Compliance != defaultCompliance {
		t.Fatalf("unexpected settings %+v", settings)
	}
	w.Configure(backend.Settings{SolverIterations: 2})
	if got := w.Settings(); got.Substeps != defaultSubsteps || got.TimeScale != 1 || got.SolverIterations != 2 {
		t.Fatalf("configure should keep defaults for unset fields, got %+v", got)
	}
}
