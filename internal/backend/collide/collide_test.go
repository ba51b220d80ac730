package collide

import (
	"math"
	"testing"

	"rigidsync/broker/internal/physics"
	"rigidsync/broker/internal/state"
)

func pose(x, y, z float64) Pose {
	return Pose{Position: physics.V3(x, y, z), Orientation: physics.IdentityQuat()}
}

func TestSpherePlaneContact(t *testing.T) {
	contacts := Detect(state.Sphere(0.5), pose(0, 0.4, 0), state.Plane(physics.V3(0, 1, 0), 0), pose(0, 0, 0))
	if len(contacts) != 1 {
		t.Fatalf("expected one contact, got %d", len(contacts))
	}
	c := contacts[0]
	if math.Abs(c.Depth-0.1) > 1e-9 || c.Normal.Y != -1 {
		t.Fatalf("unexpected contact %+v", c)
	}
	//1.- Swapping the arguments flips the normal.
	swapped := Detect(state.Plane(physics.V3(0, 1, 0), 0), pose(0, 0, 0), state.Sphere(0.5), pose(0, 0.4, 0))
	if len(swapped) != 1 || swapped[0].Normal.Y != 1 {
		t.Fatalf("expected flipped normal, got %+v", swapped)
	}
}

func TestSphereSphereSeparated(t *testing.T) {
	if got := Detect(state.Sphere(1), pose(0, 0, 0), state.Sphere(1), pose(2.5, 0, 0)); len(got) != 0 {
		t.Fatalf("expected no contacts, got %+v", got)
	}
	got := Detect(state.Sphere(1), pose(0, 0, 0), state.Sphere(1), pose(1.5, 0, 0))
	if len(got) != 1 || math.Abs(got[0].Depth-0.5) > 1e-9 || got[0].Normal.X != 1 {
		t.Fatalf("unexpected overlap %+v", got)
	}
}

func TestBoxRestingOnPlaneProducesFourContacts(t *testing.T) {
	box := state.Box(physics.V3(0.5, 0.5, 0.5))
	got := Detect(box, pose(0, 0.45, 0), state.Plane(physics.V3(0, 1, 0), 0), pose(0, 0, 0))
	if len(got) != 4 {
		t.Fatalf("expected four corner contacts, got %d", len(got))
	}
}

func TestSphereInsideBoxUsesNearestFace(t *testing.T) {
	got := Detect(state.Sphere(0.25), pose(0, 0.9, 0), state.Box(physics.V3(1, 1, 1)), pose(0, 0, 0))
	if len(got) != 1 {
		t.Fatalf("expected a contact, got %d", len(got))
	}
	if got[0].Normal.Y != -1 {
		t.Fatalf("expected push along +Y for the sphere, got %+v", got[0].Normal)
	}
}

func TestHeightfieldSampling(t *testing.T) {
	field := state.Shape{Type: state.ShapeHeightfield, Rows: 2, Cols: 2, Heights: []float64{0, 1, 0, 1}, Scale: physics.V3(2, 1, 2)}
	h, ok := SampleHeight(field, 0, 0)
	if !ok || math.Abs(h-0.5) > 1e-9 {
		t.Fatalf("unexpected height %v %v", h, ok)
	}
	if _, ok := SampleHeight(field, 5, 0); ok {
		t.Fatalf("expected out of range sample to fail")
	}
}

func TestPairTrackerBeginEnd(t *testing.T) {
	tracker := NewPairTracker()
	tracker.Touch(MakePair(2, 1))
	began, ended := tracker.Flush()
	if len(began) != 1 || began[0] != (Pair{A: 1, B: 2}) || len(ended) != 0 {
		t.Fatalf("unexpected first flush %v %v", began, ended)
	}
	began, ended = tracker.Flush()
	if len(began) != 0 || len(ended) != 1 {
		t.Fatalf("unexpected second flush %v %v", began, ended)
	}
}

func TestBoundingRadius(t *testing.T) {
	compound := state.Shape{Type: state.ShapeCompound, Children: []state.CompoundChild{{Position: physics.V3(1, 0, 0), Orientation: physics.IdentityQuat(), Shape: state.Sphere(0.5)}}}
	if r := BoundingRadius(compound); math.Abs(r-1.5) > 1e-9 {
		t.Fatalf("unexpected compound radius %v", r)
	}
	if Bounded(state.Plane(physics.V3(0, 1, 0), 0)) {
		t.Fatalf("plane should be unbounded")
	}
}
