// Package rigid holds the body and joint bookkeeping shared by the reference backends.
package rigid

import (
	"rigidsync/broker/internal/backend/collide"
	"rigidsync/broker/internal/physics"
	"rigidsync/broker/internal/state"
)

// Body is the engine-side representation of a rigid body.
type Body struct {
	Handle       state.Handle
	Mode         state.MotionMode
	Shape        state.Shape
	Mass         float64
	InvMass      float64
	InvInertia   float64
	Material     state.Material
	Layer        uint32
	Mask         uint32
	GravityScale float64
	State        state.BodyState
	Force        physics.Vec3
	Torque       physics.Vec3
	Radius       float64
	Bounded      bool

	// PrevPosition and PrevOrientation are scratch space for position-based solvers.
	PrevPosition    physics.Vec3
	PrevOrientation physics.Quat
}

func newBody(h state.Handle, rec state.BodyRecord) *Body {
	b := &Body{
		Handle:       h,
		Shape:        rec.Shape.Clone(),
		Mass:         rec.Mass,
		Material:     rec.Material,
		Layer:        rec.Layer,
		Mask:         rec.Mask,
		GravityScale: rec.GravityScale,
		State:        rec.State,
		Radius:       collide.BoundingRadius(rec.Shape),
		Bounded:      collide.Bounded(rec.Shape),
	}
	b.State.Orientation = b.State.Orientation.Unitize()
	b.setMode(rec.Mode)
	return b
}

func (b *Body) setMode(mode state.MotionMode) {
	b.Mode = mode
	b.InvMass, b.InvInertia = 0, 0
	if mode != state.Dynamic {
		return
	}
	b.InvMass = 1 / b.Mass
	if inertia := momentOfInertia(b.Shape, b.Mass); inertia > 0 {
		b.InvInertia = 1 / inertia
	}
}

// momentOfInertia approximates the shape's inertia tensor by its mean diagonal.
func momentOfInertia(s state.Shape, mass float64) float64 {
	switch s.Type {
	case state.ShapeSphere:
		return 0.4 * mass * s.Radius * s.Radius
	case state.ShapeBox:
		h := s.HalfExtents
		return 2 * mass * (h.X*h.X + h.Y*h.Y + h.Z*h.Z) / 9
	default:
		r := collide.BoundingRadius(s)
		return 0.4 * mass * r * r
	}
}

// Dynamic reports whether the solver moves the body.
func (b *Body) Dynamic() bool { return b != nil && b.Mode == state.Dynamic }

// Awake reports whether the body is dynamic and not sleeping.
func (b *Body) Awake() bool { return b.Dynamic() && !b.State.Sleeping }

// Wake clears the sleeping flag.
func (b *Body) Wake() {
	if b != nil {
		b.State.Sleeping = false
	}
}

// EffectiveInvMass is the inverse mass the solver uses; sleeping and world bodies are immovable.
func (b *Body) EffectiveInvMass() float64 {
	if !b.Awake() {
		return 0
	}
	return b.InvMass
}

// EffectiveInvInertia is the inverse inertia the solver uses.
func (b *Body) EffectiveInvInertia() float64 {
	if !b.Awake() {
		return 0
	}
	return b.InvInertia
}

// Position returns the world position, or the origin for the world anchor.
func (b *Body) Position() physics.Vec3 {
	if b == nil {
		return physics.Vec3{}
	}
	return b.State.Position
}

// VelocityAt returns the velocity of a world-space point attached to the body.
func (b *Body) VelocityAt(point physics.Vec3) physics.Vec3 {
	if b == nil {
		return physics.Vec3{}
	}
	r := point.Sub(b.State.Position)
	return b.State.LinearVelocity.Add(b.State.AngularVelocity.Cross(r))
}

// ApplyImpulseAt changes the body's momentum by impulse applied at a world-space point.
func (b *Body) ApplyImpulseAt(impulse, point physics.Vec3) {
	if !b.Awake() {
		return
	}
	r := point.Sub(b.State.Position)
	b.State.LinearVelocity = b.State.LinearVelocity.Add(impulse.Scale(b.InvMass))
	b.State.AngularVelocity = b.State.AngularVelocity.Add(r.Cross(impulse).Scale(b.InvInertia))
}

// ApplyAngularImpulse changes the body's angular momentum.
func (b *Body) ApplyAngularImpulse(impulse physics.Vec3) {
	if !b.Awake() {
		return
	}
	b.State.AngularVelocity = b.State.AngularVelocity.Add(impulse.Scale(b.InvInertia))
}

// Pose returns the collision pose.
func (b *Body) Pose() collide.Pose {
	return collide.Pose{Position: b.State.Position, Orientation: b.State.Orientation}
}

// IntegrateVelocity applies gravity and accumulated forces over h.
func (b *Body) IntegrateVelocity(gravity physics.Vec3, h float64) {
	if !b.Awake() {
		return
	}
	accel := gravity.Scale(b.GravityScale).Add(b.Force.Scale(b.InvMass))
	physics.ApplyAcceleration(&b.State.LinearVelocity, accel, h)
	physics.ApplyAcceleration(&b.State.AngularVelocity, b.Torque.Scale(b.InvInertia), h)
}

// IntegratePosition advances position and orientation over h.
func (b *Body) IntegratePosition(h float64) {
	if b.Mode == state.Static || (b.Mode == state.Dynamic && b.State.Sleeping) {
		return
	}
	physics.IntegrateLinear(&b.State.Position, &b.State.LinearVelocity, h, physics.Limits{})
	physics.IntegrateAngular(&b.State.Orientation, &b.State.AngularVelocity, h, physics.Limits{})
}
