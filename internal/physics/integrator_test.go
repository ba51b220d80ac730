package physics

import (
	"math"
	"testing"
)

func TestIntegrateLinearAdvancesPosition(t *testing.T) {
	//1.- Construct a body moving along every axis.
	position := Vec3{X: 1, Y: 2, Z: 3}
	velocity := Vec3{X: 4, Y: -2, Z: 0.5}
	//2.- Advance the state by half a second and verify results.
	IntegrateLinear(&position, &velocity, 0.5, Limits{})
	if math.Abs(position.X-3) > 1e-9 {
		t.Fatalf("unexpected X %.2f", position.X)
	}
	if math.Abs(position.Y-1) > 1e-9 {
		t.Fatalf("unexpected Y %.2f", position.Y)
	}
	if math.Abs(position.Z-3.25) > 1e-9 {
		t.Fatalf("unexpected Z %.2f", position.Z)
	}
}

func TestIntegrateLinearClampsSpeed(t *testing.T) {
	position := Vec3{}
	velocity := Vec3{X: 30, Y: 40}
	IntegrateLinear(&position, &velocity, 1, Limits{MaxLinearSpeed: 5})
	if math.Abs(velocity.Length()-5) > 1e-9 {
		t.Fatalf("expected clamped speed 5, got %.4f", velocity.Length())
	}
	if math.Abs(position.X-3) > 1e-9 || math.Abs(position.Y-4) > 1e-9 {
		t.Fatalf("unexpected position %+v", position)
	}
}

func TestIntegrateAngularRotatesAboutAxis(t *testing.T) {
	//1.- Spin a quarter turn per second about +Y in many small steps.
	orientation := IdentityQuat()
	omega := Vec3{Y: math.Pi / 2}
	for i := 0; i < 1000; i++ {
		IntegrateAngular(&orientation, &omega, 0.001, Limits{})
	}
	//2.- The local +Z axis should now point along +X.
	forward := orientation.Rotate(Vec3{Z: 1})
	if math.Abs(forward.X-1) > 1e-3 || math.Abs(forward.Z) > 1e-3 {
		t.Fatalf("unexpected forward %+v", forward)
	}
}

func TestIntegrateHandlesInvalidInput(t *testing.T) {
	//1.- Use nil pointers and a negative timestep to ensure safe no-op behaviour.
	IntegrateLinear(nil, nil, 0.5, Limits{})
	position := Vec3{X: 1}
	velocity := Vec3{X: 1}
	IntegrateLinear(&position, &velocity, -1, Limits{})
	if position.X != 1 {
		t.Fatalf("integration should not move with invalid timestep")
	}
}

func TestQuatRotateMatchesAxisAngle(t *testing.T) {
	q := AxisAngle(Vec3{Z: 1}, math.Pi/2)
	got := q.Rotate(Vec3{X: 1})
	if math.Abs(got.X) > 1e-12 || math.Abs(got.Y-1) > 1e-12 {
		t.Fatalf("unexpected rotation %+v", got)
	}
	back := q.Conjugate().Rotate(got)
	if math.Abs(back.X-1) > 1e-12 || math.Abs(back.Y) > 1e-12 {
		t.Fatalf("conjugate should undo rotation, got %+v", back)
	}
}

func TestUnitizeKeepsNearUnitQuaternions(t *testing.T) {
	//1.- A component snapped to a coarse grid must survive untouched.
	q := Quat{W: 0.707107, X: 0.707107}
	if got := q.Unitize(); got != q {
		t.Fatalf("expected near-unit quaternion to be kept, got %+v", got)
	}
	//2.- Clearly scaled input is normalised.
	scaled := Quat{W: 2}
	if got := scaled.Unitize(); got != IdentityQuat() {
		t.Fatalf("expected identity, got %+v", got)
	}
}
