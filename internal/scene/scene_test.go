package scene

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"rigidsync/broker/internal/logging"
	"rigidsync/broker/internal/state"
	"rigidsync/broker/internal/world"
)

func newWorld(t *testing.T) *world.Sim {
	t.Helper()
	cfg := world.DefaultConfig()
	cfg.Logger = logging.NewTestLogger()
	w, err := world.New(cfg)
	if err != nil {
		t.Fatalf("world: %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func TestEverySceneBuildsAndSteps(t *testing.T) {
	for _, name := range Names() {
		t.Run(name, func(t *testing.T) {
			w := newWorld(t)
			resolved, err := Build(w, name, nil)
			if err != nil {
				t.Fatalf("build: %v", err)
			}
			if len(resolved.GetFields()) == 0 {
				t.Fatalf("expected resolved defaults")
			}
			for i := 0; i < 60; i++ {
				if err := w.Step(w.FixedTimeStep()); err != nil {
					t.Fatalf("step %d: %v", i, err)
				}
			}
			if len(w.BodyIDs()) == 0 {
				t.Fatalf("scene produced no bodies")
			}
		})
	}
}

func TestParamsOverrideDefaults(t *testing.T) {
	params, err := NewParams(map[string]any{"count": 3, "radius": 0.25})
	if err != nil {
		t.Fatalf("params: %v", err)
	}
	w := newWorld(t)
	resolved, err := Build(w, "sphere-stack", params)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	//1.- Ground plus three spheres.
	if got := len(w.BodyIDs()); got != 4 {
		t.Fatalf("expected 4 bodies, got %d", got)
	}
	if gap := resolved.GetFields()["gap"].GetNumberValue(); math.Abs(gap-0.05) > 1e-12 {
		t.Fatalf("expected default gap in resolved params, got %v", gap)
	}
}

func TestGearPairStartsSpinning(t *testing.T) {
	w := newWorld(t)
	if _, err := Build(w, "gear-pair", nil); err != nil {
		t.Fatalf("build: %v", err)
	}
	a, _ := w.Body(1)
	if a.State.AngularVelocity.Z != 8 || a.GravityScale != 0 {
		t.Fatalf("unexpected driving wheel %+v", a)
	}
	ids := w.ConstraintIDs()
	if len(ids) != 1 {
		t.Fatalf("expected one coupling, got %v", ids)
	}
	rec, _ := w.Constraint(ids[0])
	if rec.Type != state.ConstraintGear || rec.Ratio() != 2 {
		t.Fatalf("unexpected coupling %+v", rec)
	}
}

func TestBadParamsAreRejected(t *testing.T) {
	params, _ := NewParams(map[string]any{"radius": "big"})
	if _, err := Build(newWorld(t), "falling-sphere", params); err == nil {
		t.Fatalf("expected a string radius to be rejected")
	}
	params, _ = NewParams(map[string]any{"count": 2.5})
	if _, err := Build(newWorld(t), "sphere-stack", params); err == nil {
		t.Fatalf("expected a fractional count to be rejected")
	}
	if _, err := Build(newWorld(t), "orbit", nil); !errors.Is(err, ErrUnknownScene) {
		t.Fatalf("expected unknown scene, got %v", err)
	}
}

func TestParamsJSONRoundTrip(t *testing.T) {
	params, _ := NewParams(map[string]any{"ratio": 2, "label": "demo"})
	raw, err := MarshalParams(params)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil || generic["ratio"] != 2.0 {
		t.Fatalf("unexpected json %s: %v", raw, err)
	}
	back, err := UnmarshalParams(raw)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.GetFields()["label"].GetStringValue() != "demo" {
		t.Fatalf("lost string param: %s", raw)
	}
	empty, err := UnmarshalParams(nil)
	if err != nil || len(empty.GetFields()) != 0 {
		t.Fatalf("expected empty params, got %v %v", empty, err)
	}
}
