package state

import (
	"fmt"

	"rigidsync/broker/internal/physics"
)

// ConstraintType tags the joint family of a constraint record.
type ConstraintType uint8

const (
	ConstraintFixed ConstraintType = iota + 1
	ConstraintBallSocket
	ConstraintHinge
	ConstraintHinge2
	ConstraintSlider
	ConstraintConeTwist
	ConstraintSixDOF
	ConstraintSixDOFSpring
	ConstraintGear
	ConstraintRackPinion
	ConstraintPulley
)

// String names the constraint type.
func (t ConstraintType) String() string {
	switch t {
	case ConstraintFixed:
		return "fixed"
	case ConstraintBallSocket:
		return "ball-socket"
	case ConstraintHinge:
		return "hinge"
	case ConstraintHinge2:
		return "hinge2"
	case ConstraintSlider:
		return "slider"
	case ConstraintConeTwist:
		return "cone-twist"
	case ConstraintSixDOF:
		return "six-dof"
	case ConstraintSixDOFSpring:
		return "six-dof-spring"
	case ConstraintGear:
		return "gear"
	case ConstraintRackPinion:
		return "rack-pinion"
	case ConstraintPulley:
		return "pulley"
	default:
		return fmt.Sprintf("constraint(%d)", uint8(t))
	}
}

// IsCoupling reports whether the type is a mechanical coupling solved outside the backend.
func (t ConstraintType) IsCoupling() bool {
	return t == ConstraintGear || t == ConstraintRackPinion || t == ConstraintPulley
}

// Limit is a lower/upper pair.
type Limit struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// Motor drives a joint degree of freedom.
type Motor struct {
	Enabled        bool    `json:"enabled"`
	TargetVelocity float64 `json:"targetVelocity"`
	TargetPosition float64 `json:"targetPosition"`
	MaxForce       float64 `json:"maxForce"`
	MaxTorque      float64 `json:"maxTorque"`
}

// ConstraintRecord is the persisted description of a joint between two bodies.
//
// Coupling types reuse the limit fields instead of carrying true limits:
//
//	gear         AngularLimit.Lower = ratio
//	rack-pinion  LinearLimit.Lower  = ratio
//	pulley       LinearLimit.Lower  = ratio, LinearLimit.Upper = rope length,
//	             PivotA/PivotB = world-space pulley anchors, AxisA/AxisB = rope directions
//
// Pivots and axes are otherwise expressed in each body's local frame. A zero break
// threshold means unbreakable.
type ConstraintRecord struct {
	ID           StableID       `json:"id"`
	Type         ConstraintType `json:"type"`
	BodyA        StableID       `json:"bodyA"`
	BodyB        StableID       `json:"bodyB"`
	PivotA       physics.Vec3   `json:"pivotA"`
	PivotB       physics.Vec3   `json:"pivotB"`
	AxisA        physics.Vec3   `json:"axisA"`
	AxisB        physics.Vec3   `json:"axisB"`
	LinearLimit  Limit          `json:"linearLimit"`
	AngularLimit Limit          `json:"angularLimit"`
	Motor        Motor          `json:"motor"`
	BreakForce   float64        `json:"breakForce"`
	BreakTorque  float64        `json:"breakTorque"`
}

// Gear builds a gear coupling between two bodies' rotation axes.
func Gear(bodyA, bodyB StableID, axisA, axisB physics.Vec3, ratio float64) ConstraintRecord {
	return ConstraintRecord{Type: ConstraintGear, BodyA: bodyA, BodyB: bodyB, AxisA: axisA, AxisB: axisB, AngularLimit: Limit{Lower: ratio}}
}

// RackPinion couples the rack's linear axis to the pinion's rotation axis.
func RackPinion(rack, pinion StableID, rackAxis, pinionAxis physics.Vec3, ratio float64) ConstraintRecord {
	return ConstraintRecord{Type: ConstraintRackPinion, BodyA: rack, BodyB: pinion, AxisA: rackAxis, AxisB: pinionAxis, LinearLimit: Limit{Lower: ratio}}
}

// Pulley couples two bodies hanging from world anchors by a rope of fixed length.
func Pulley(bodyA, bodyB StableID, anchorA, anchorB, axisA, axisB physics.Vec3, ratio, ropeLength float64) ConstraintRecord {
	return ConstraintRecord{
		Type:        ConstraintPulley,
		BodyA:       bodyA,
		BodyB:       bodyB,
		PivotA:      anchorA,
		PivotB:      anchorB,
		AxisA:       axisA,
		AxisB:       axisB,
		LinearLimit: Limit{Lower: ratio, Upper: ropeLength},
	}
}

// Ratio returns the raw coupling ratio stored in the overloaded limit field.
func (c ConstraintRecord) Ratio() float64 {
	switch c.Type {
	case ConstraintGear:
		return c.AngularLimit.Lower
	case ConstraintRackPinion, ConstraintPulley:
		return c.LinearLimit.Lower
	default:
		return 0
	}
}

// RopeLength returns the pulley rope length.
func (c ConstraintRecord) RopeLength() float64 {
	if c.Type != ConstraintPulley {
		return 0
	}
	return c.LinearLimit.Upper
}

// Participants lists the non-anchor bodies referenced by the constraint.
func (c ConstraintRecord) Participants() []StableID {
	ids := make([]StableID, 0, 2)
	if c.BodyA != WorldAnchor {
		ids = append(ids, c.BodyA)
	}
	if c.BodyB != WorldAnchor {
		ids = append(ids, c.BodyB)
	}
	return ids
}

// Validate checks the record is structurally usable.
func (c ConstraintRecord) Validate() error {
	if c.Type < ConstraintFixed || c.Type > ConstraintPulley {
		return fmt.Errorf("unknown constraint type %d", c.Type)
	}
	if c.BodyA == WorldAnchor && c.BodyB == WorldAnchor {
		return fmt.Errorf("constraint must reference at least one body")
	}
	if c.BreakForce < 0 || c.BreakTorque < 0 {
		return fmt.Errorf("break thresholds must be non-negative")
	}
	return nil
}
