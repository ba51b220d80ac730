package state

import (
	"fmt"

	"rigidsync/broker/internal/physics"
)

// MotionMode describes how the backend moves a body.
type MotionMode uint8

const (
	Static MotionMode = iota + 1
	Kinematic
	Dynamic
)

// String names the motion mode.
func (m MotionMode) String() string {
	switch m {
	case Static:
		return "static"
	case Kinematic:
		return "kinematic"
	case Dynamic:
		return "dynamic"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// Material captures the surface response parameters of a body.
type Material struct {
	Friction         float64 `json:"friction"`
	Restitution      float64 `json:"restitution"`
	RollingFriction  float64 `json:"rollingFriction,omitempty"`
	SpinningFriction float64 `json:"spinningFriction,omitempty"`
	Tag              string  `json:"tag,omitempty"`
}

// BodyState is the kinematic state of a body in world space.
type BodyState struct {
	Position        physics.Vec3 `json:"position"`
	Orientation     physics.Quat `json:"orientation"`
	LinearVelocity  physics.Vec3 `json:"linearVelocity"`
	AngularVelocity physics.Vec3 `json:"angularVelocity"`
	Sleeping        bool         `json:"sleeping,omitempty"`
}

// IsFinite reports whether every numeric component is finite.
func (s BodyState) IsFinite() bool {
	return s.Position.IsFinite() && s.Orientation.IsFinite() && s.LinearVelocity.IsFinite() && s.AngularVelocity.IsFinite()
}

// BodyRecord is the full persisted description of a rigid body.
type BodyRecord struct {
	ID           StableID   `json:"id"`
	Mode         MotionMode `json:"mode"`
	Shape        Shape      `json:"shape"`
	Mass         float64    `json:"mass"`
	Material     Material   `json:"material"`
	Layer        uint32     `json:"layer"`
	Mask         uint32     `json:"mask"`
	GravityScale float64    `json:"gravityScale"`
	State        BodyState  `json:"state"`
}

// NewBody fills the defaults most scenes expect for a body record.
func NewBody(mode MotionMode, shape Shape, mass float64, position physics.Vec3) BodyRecord {
	return BodyRecord{
		Mode:         mode,
		Shape:        shape,
		Mass:         mass,
		Material:     Material{Friction: 0.5},
		Layer:        1,
		Mask:         0xFFFFFFFF,
		GravityScale: 1,
		State:        BodyState{Position: position, Orientation: physics.IdentityQuat()},
	}
}

// Clone returns a deep copy of the record.
func (b BodyRecord) Clone() BodyRecord {
	out := b
	out.Shape = b.Shape.Clone()
	return out
}

// Validate checks the record can be spawned.
func (b BodyRecord) Validate() error {
	//1.- Motion mode and mass must agree so dynamic bodies can be integrated.
	switch b.Mode {
	case Static, Kinematic:
	case Dynamic:
		if !(b.Mass > 0) || !physics.IsFinite(b.Mass) {
			return fmt.Errorf("dynamic body requires positive mass")
		}
	default:
		return fmt.Errorf("unknown motion mode %d", b.Mode)
	}
	//2.- Shape payloads and kinematic state must be well formed.
	if err := b.Shape.Validate(); err != nil {
		return err
	}
	if !b.State.IsFinite() {
		return fmt.Errorf("body state must be finite")
	}
	return nil
}
