package rigid

import (
	"math"

	"rigidsync/broker/internal/physics"
	"rigidsync/broker/internal/state"
)

// Joint is a native constraint between two bodies. A nil body is the world anchor and its
// pivot is then a world-space point.
type Joint struct {
	Handle state.Handle
	Record state.ConstraintRecord
	A, B   *Body

	// LinearImpulse and AngularImpulse accumulate the magnitude applied in the current substep.
	LinearImpulse  float64
	AngularImpulse float64
}

// Anchors returns the world-space pivot points on each side.
func (j *Joint) Anchors() (physics.Vec3, physics.Vec3) {
	return worldPoint(j.A, j.Record.PivotA), worldPoint(j.B, j.Record.PivotB)
}

// Axis returns the joint axis in world space taken from A, or from B when A is the world.
func (j *Joint) Axis() physics.Vec3 {
	if j.A != nil {
		return j.A.State.Orientation.Rotate(j.Record.AxisA).Normalize()
	}
	if j.B != nil {
		return j.B.State.Orientation.Rotate(j.Record.AxisB).Normalize()
	}
	return physics.Vec3{}
}

func worldPoint(b *Body, local physics.Vec3) physics.Vec3 {
	if b == nil {
		return local
	}
	return b.State.Position.Add(b.State.Orientation.Rotate(local))
}

// LocksRotation reports whether the joint removes every relative rotational freedom.
func (j *Joint) LocksRotation() bool {
	return j.Record.Type == state.ConstraintFixed || j.Record.Type == state.ConstraintSlider
}

// Broken reports whether the substep's impulses exceeded the break thresholds.
func (j *Joint) Broken(h float64) bool {
	if h <= 0 {
		return false
	}
	rec := j.Record
	if rec.BreakForce > 0 && j.LinearImpulse/h > rec.BreakForce {
		return true
	}
	return rec.BreakTorque > 0 && j.AngularImpulse/h > rec.BreakTorque
}

func invMass(b *Body) float64 {
	if b == nil {
		return 0
	}
	return b.EffectiveInvMass()
}

func invInertia(b *Body) float64 {
	if b == nil {
		return 0
	}
	return b.EffectiveInvInertia()
}

func angularVelocity(b *Body) physics.Vec3 {
	if b == nil {
		return physics.Vec3{}
	}
	return b.State.AngularVelocity
}

// SolveAngularVelocity removes disallowed relative rotation and drives hinge motors.
func (j *Joint) SolveAngularVelocity(h float64) {
	wA, wB := invInertia(j.A), invInertia(j.B)
	if wA+wB == 0 {
		return
	}
	rel := angularVelocity(j.B).Sub(angularVelocity(j.A))
	var err physics.Vec3
	switch j.Record.Type {
	case state.ConstraintFixed, state.ConstraintSlider:
		//1.- Lock all relative spin.
		err = rel
	case state.ConstraintHinge, state.ConstraintHinge2:
		//2.- Hinges keep spin about their axis and drop the rest.
		axis := j.Axis()
		err = rel.Sub(axis.Scale(rel.Dot(axis)))
		if j.Record.Motor.Enabled && j.Record.Motor.MaxTorque > 0 {
			speed := rel.Dot(axis)
			limit := j.Record.Motor.MaxTorque * h
			impulse := clamp((j.Record.Motor.TargetVelocity-speed)/(wA+wB), -limit, limit)
			j.apply(axis.Scale(impulse))
		}
	default:
		return
	}
	if err.LengthSq() == 0 {
		return
	}
	impulse := err.Scale(-1 / (wA + wB))
	j.apply(impulse)
}

func (j *Joint) apply(angular physics.Vec3) {
	if j.A != nil {
		j.A.ApplyAngularImpulse(angular.Neg())
	}
	if j.B != nil {
		j.B.ApplyAngularImpulse(angular)
	}
	j.AngularImpulse += angular.Length()
}

// SolvePointVelocity drives the pivots together at the velocity level with a Baumgarte bias.
func (j *Joint) SolvePointVelocity(h, beta float64) {
	pA, pB := j.Anchors()
	rA := pA.Sub(j.A.Position())
	rB := pB.Sub(j.B.Position())
	k := invMass(j.A) + invMass(j.B) + invInertia(j.A)*rA.LengthSq() + invInertia(j.B)*rB.LengthSq()
	if k == 0 {
		return
	}
	rel := j.B.VelocityAt(pB).Sub(j.A.VelocityAt(pA))
	target := pB.Sub(pA).Scale(beta / h)
	err := rel.Add(target)
	if j.Record.Type == state.ConstraintSlider {
		//1.- Sliders leave travel along the axis free and optionally motorised.
		axis := j.Axis()
		err = err.Sub(axis.Scale(err.Dot(axis)))
		if j.Record.Motor.Enabled && j.Record.Motor.MaxForce > 0 {
			speed := rel.Dot(axis)
			limit := j.Record.Motor.MaxForce * h
			drive := clamp((j.Record.Motor.TargetVelocity-speed)/k, -limit, limit)
			j.applyLinear(axis.Scale(drive), pA, pB)
		}
	}
	j.applyLinear(err.Scale(-1/k), pA, pB)
}

func (j *Joint) applyLinear(impulse, pA, pB physics.Vec3) {
	if j.A != nil {
		j.A.ApplyImpulseAt(impulse.Neg(), pA)
	}
	if j.B != nil {
		j.B.ApplyImpulseAt(impulse, pB)
	}
	j.LinearImpulse += impulse.Length()
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
