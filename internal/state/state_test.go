package state

import (
	"testing"

	"rigidsync/broker/internal/physics"
)

func TestShapeCloneIsDeep(t *testing.T) {
	//1.- Build a compound with a nested hull so mutation of the clone can be detected.
	original := Shape{Type: ShapeCompound, Children: []CompoundChild{{
		Orientation: physics.IdentityQuat(),
		Shape:       Shape{Type: ShapeConvexHull, Points: []physics.Vec3{{X: 1}}},
	}}}
	clone := original.Clone()
	clone.Children[0].Shape.Points[0].X = 9
	if original.Children[0].Shape.Points[0].X != 1 {
		t.Fatalf("clone mutated the original shape")
	}
}

func TestShapeValidateRejectsBadPayloads(t *testing.T) {
	if err := Sphere(0).Validate(); err == nil {
		t.Fatalf("expected zero radius sphere to fail")
	}
	mesh := Shape{Type: ShapeTriangleMesh, Points: []physics.Vec3{{}, {}}, Indices: []uint32{0, 1, 2}}
	if err := mesh.Validate(); err == nil {
		t.Fatalf("expected out of range index to fail")
	}
	if err := (Shape{Type: 99}).Validate(); err == nil {
		t.Fatalf("expected unknown tag to fail")
	}
	field := Shape{Type: ShapeHeightfield, Rows: 2, Cols: 2, Heights: []float64{0, 0, 0, 0}}
	if err := field.Validate(); err != nil {
		t.Fatalf("unexpected heightfield error: %v", err)
	}
}

func TestCouplingFieldOverloads(t *testing.T) {
	gear := Gear(1, 2, physics.V3(0, 0, 1), physics.V3(0, 0, 1), 2)
	if gear.Ratio() != 2 || !gear.Type.IsCoupling() {
		t.Fatalf("unexpected gear ratio %v", gear.Ratio())
	}
	pulley := Pulley(1, 2, physics.V3(-1, 5, 0), physics.V3(1, 5, 0), physics.V3(0, -1, 0), physics.V3(0, -1, 0), 1, 4)
	if pulley.Ratio() != 1 || pulley.RopeLength() != 4 {
		t.Fatalf("unexpected pulley parameters %v %v", pulley.Ratio(), pulley.RopeLength())
	}
	if ConstraintHinge.IsCoupling() {
		t.Fatalf("hinge must not be a coupling")
	}
}

func TestDynamicBodyRequiresMass(t *testing.T) {
	body := NewBody(Dynamic, Sphere(0.5), 0, physics.Vec3{})
	if err := body.Validate(); err == nil {
		t.Fatalf("expected massless dynamic body to fail")
	}
	body.Mass = 1
	if err := body.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestWorldStateSortOrdersRecords(t *testing.T) {
	ws := &WorldState{
		Bodies: []BodyRecord{{ID: 3}, {ID: 1}, {ID: 2}},
		Rigs:   []RigRecord{{Kind: KindRagdoll, ID: 1}, {Kind: KindVehicle, ID: 2}, {Kind: KindVehicle, ID: 1}},
	}
	ws.Sort()
	if ws.Bodies[0].ID != 1 || ws.Bodies[2].ID != 3 {
		t.Fatalf("bodies not sorted: %+v", ws.Bodies)
	}
	if ws.Rigs[0].Kind != KindVehicle || ws.Rigs[0].ID != 1 || ws.Rigs[2].Kind != KindRagdoll {
		t.Fatalf("rigs not sorted: %+v", ws.Rigs)
	}
}

func TestEventStoreDrainResets(t *testing.T) {
	store := NewEventStore()
	store.Add(Event{Kind: EventContactBegin, BodyA: 1, BodyB: 2})
	if got := store.Drain(); len(got) != 1 {
		t.Fatalf("expected one event, got %d", len(got))
	}
	if got := store.Drain(); len(got) != 0 {
		t.Fatalf("expected empty drain, got %d", len(got))
	}
}
