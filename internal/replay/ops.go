package replay

import (
	"fmt"

	"rigidsync/broker/internal/physics"
	"rigidsync/broker/internal/state"
	"rigidsync/broker/internal/world"
)

// OpKind discriminates replay operations in packet JSON.
type OpKind string

const (
	OpApplyImpulse          OpKind = "applyImpulse"
	OpApplyForce            OpKind = "applyForce"
	OpApplyTorque           OpKind = "applyTorque"
	OpSetVelocity           OpKind = "setVelocity"
	OpTeleport              OpKind = "teleport"
	OpApplyThrottle         OpKind = "applyThrottle"
	OpApplyBrake            OpKind = "applyBrake"
	OpApplySteer            OpKind = "applySteer"
	OpSetHandbrake          OpKind = "setHandbrake"
	OpMoveCharacter         OpKind = "moveCharacter"
	OpJumpCharacter         OpKind = "jumpCharacter"
	OpActivateRagdoll       OpKind = "activateRagdoll"
	OpDeactivateRagdoll     OpKind = "deactivateRagdoll"
	OpSetRagdollBlendTarget OpKind = "setRagdollBlendTarget"
	OpSpawnBody             OpKind = "spawnBody"
	OpDestroyBody           OpKind = "destroyBody"
	OpSetBodyState          OpKind = "setBodyState"
	OpAddConstraint         OpKind = "addConstraint"
	OpRemoveConstraint      OpKind = "removeConstraint"
	OpAddRig                OpKind = "addRig"
	OpRemoveRig             OpKind = "removeRig"
)

// OpKinds lists every operation name in packet order of documentation.
var OpKinds = []OpKind{
	OpApplyImpulse, OpApplyForce, OpApplyTorque, OpSetVelocity, OpTeleport,
	OpApplyThrottle, OpApplyBrake, OpApplySteer, OpSetHandbrake,
	OpMoveCharacter, OpJumpCharacter,
	OpActivateRagdoll, OpDeactivateRagdoll, OpSetRagdollBlendTarget,
	OpSpawnBody, OpDestroyBody, OpSetBodyState, OpAddConstraint, OpRemoveConstraint,
	OpAddRig, OpRemoveRig,
}

// Op is one recorded world mutation. Only the fields its kind needs are set.
type Op struct {
	Op          OpKind                  `json:"op"`
	Body        state.StableID          `json:"body,omitempty"`
	Rig         state.StableID          `json:"rig,omitempty"`
	RigKind     state.Kind              `json:"rigKind,omitempty"`
	Constraint  state.StableID          `json:"constraint,omitempty"`
	Vector      *physics.Vec3           `json:"vector,omitempty"`
	Point       *physics.Vec3           `json:"point,omitempty"`
	Angular     *physics.Vec3           `json:"angular,omitempty"`
	Orientation *physics.Quat           `json:"orientation,omitempty"`
	Value       *float64                `json:"value,omitempty"`
	Engaged     *bool                   `json:"engaged,omitempty"`
	Pose        []physics.Quat          `json:"pose,omitempty"`
	Spawn       *state.BodyRecord       `json:"spawn,omitempty"`
	State       *state.BodyState        `json:"state,omitempty"`
	Joint       *state.ConstraintRecord `json:"joint,omitempty"`
	Install     *state.RigRecord        `json:"install,omitempty"`
}

func vec(v physics.Vec3) *physics.Vec3 { return &v }
func num(v float64) *float64           { return &v }

func needVec(op OpKind, name string, v *physics.Vec3) error {
	if v == nil {
		return fmt.Errorf("%w: %s requires %s", ErrInvalidOp, op, name)
	}
	if !v.IsFinite() {
		return fmt.Errorf("%w: %s %s must be finite", ErrInvalidOp, op, name)
	}
	return nil
}

func needID(op OpKind, name string, id state.StableID) error {
	if id == state.WorldAnchor {
		return fmt.Errorf("%w: %s requires %s", ErrInvalidOp, op, name)
	}
	return nil
}

func needValue(op OpKind, v *float64) error {
	if v == nil || !physics.IsFinite(*v) {
		return fmt.Errorf("%w: %s requires a finite value", ErrInvalidOp, op)
	}
	return nil
}

// Validate checks the op carries every field its kind needs and that all numbers are finite.
func (o Op) Validate() error {
	switch o.Op {
	case OpApplyImpulse:
		if err := needID(o.Op, "body", o.Body); err != nil {
			return err
		}
		if err := needVec(o.Op, "vector", o.Vector); err != nil {
			return err
		}
		return needVec(o.Op, "point", o.Point)
	case OpApplyForce, OpApplyTorque:
		if err := needID(o.Op, "body", o.Body); err != nil {
			return err
		}
		return needVec(o.Op, "vector", o.Vector)
	case OpSetVelocity:
		if err := needID(o.Op, "body", o.Body); err != nil {
			return err
		}
		if err := needVec(o.Op, "vector", o.Vector); err != nil {
			return err
		}
		return needVec(o.Op, "angular", o.Angular)
	case OpTeleport:
		if err := needID(o.Op, "body", o.Body); err != nil {
			return err
		}
		if err := needVec(o.Op, "vector", o.Vector); err != nil {
			return err
		}
		if o.Orientation == nil || !o.Orientation.IsFinite() {
			return fmt.Errorf("%w: teleport requires a finite orientation", ErrInvalidOp)
		}
		return nil
	case OpApplyThrottle, OpApplyBrake, OpApplySteer:
		if err := needID(o.Op, "rig", o.Rig); err != nil {
			return err
		}
		return needValue(o.Op, o.Value)
	case OpSetHandbrake:
		if err := needID(o.Op, "rig", o.Rig); err != nil {
			return err
		}
		if o.Engaged == nil {
			return fmt.Errorf("%w: setHandbrake requires engaged", ErrInvalidOp)
		}
		return nil
	case OpMoveCharacter:
		if err := needID(o.Op, "rig", o.Rig); err != nil {
			return err
		}
		return needVec(o.Op, "vector", o.Vector)
	case OpJumpCharacter, OpActivateRagdoll, OpDeactivateRagdoll:
		return needID(o.Op, "rig", o.Rig)
	case OpSetRagdollBlendTarget:
		if err := needID(o.Op, "rig", o.Rig); err != nil {
			return err
		}
		for i, q := range o.Pose {
			if !q.IsFinite() {
				return fmt.Errorf("%w: pose entry %d must be finite", ErrInvalidOp, i)
			}
		}
		return needValue(o.Op, o.Value)
	case OpSpawnBody:
		if o.Spawn == nil {
			return fmt.Errorf("%w: spawnBody requires spawn", ErrInvalidOp)
		}
		if err := o.Spawn.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidOp, err)
		}
		return nil
	case OpDestroyBody:
		return needID(o.Op, "body", o.Body)
	case OpSetBodyState:
		if err := needID(o.Op, "body", o.Body); err != nil {
			return err
		}
		if o.State == nil || !o.State.IsFinite() {
			return fmt.Errorf("%w: setBodyState requires a finite state", ErrInvalidOp)
		}
		return nil
	case OpAddConstraint:
		if o.Joint == nil {
			return fmt.Errorf("%w: addConstraint requires joint", ErrInvalidOp)
		}
		if err := o.Joint.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidOp, err)
		}
		j := o.Joint
		if !j.PivotA.IsFinite() || !j.PivotB.IsFinite() || !j.AxisA.IsFinite() || !j.AxisB.IsFinite() {
			return fmt.Errorf("%w: addConstraint frames must be finite", ErrInvalidOp)
		}
		return nil
	case OpRemoveConstraint:
		return needID(o.Op, "constraint", o.Constraint)
	case OpAddRig:
		if o.Install == nil {
			return fmt.Errorf("%w: addRig requires install", ErrInvalidOp)
		}
		return nil
	case OpRemoveRig:
		if o.RigKind < state.KindVehicle || o.RigKind > state.KindRagdoll {
			return fmt.Errorf("%w: removeRig requires a rig kind", ErrInvalidOp)
		}
		return needID(o.Op, "rig", o.Rig)
	default:
		return fmt.Errorf("%w: unknown op %q", ErrInvalidOp, o.Op)
	}
}

// Apply performs the op against w.
func (o Op) Apply(w world.World) error {
	if err := o.Validate(); err != nil {
		return err
	}
	switch o.Op {
	case OpApplyImpulse:
		return w.ApplyImpulse(o.Body, *o.Vector, *o.Point)
	case OpApplyForce:
		return w.ApplyForce(o.Body, *o.Vector)
	case OpApplyTorque:
		return w.ApplyTorque(o.Body, *o.Vector)
	case OpSetVelocity:
		return w.SetVelocity(o.Body, *o.Vector, *o.Angular)
	case OpTeleport:
		return w.Teleport(o.Body, *o.Vector, *o.Orientation)
	case OpApplyThrottle:
		return w.ApplyThrottle(o.Rig, *o.Value)
	case OpApplyBrake:
		return w.ApplyBrake(o.Rig, *o.Value)
	case OpApplySteer:
		return w.ApplySteer(o.Rig, *o.Value)
	case OpSetHandbrake:
		return w.SetHandbrake(o.Rig, *o.Engaged)
	case OpMoveCharacter:
		return w.MoveCharacter(o.Rig, *o.Vector)
	case OpJumpCharacter:
		return w.JumpCharacter(o.Rig)
	case OpActivateRagdoll:
		return w.ActivateRagdoll(o.Rig)
	case OpDeactivateRagdoll:
		return w.DeactivateRagdoll(o.Rig)
	case OpSetRagdollBlendTarget:
		return w.SetRagdollBlendTarget(o.Rig, o.Pose, *o.Value)
	case OpSpawnBody:
		_, err := w.SpawnBody(*o.Spawn)
		return err
	case OpDestroyBody:
		return w.DestroyBody(o.Body)
	case OpSetBodyState:
		return w.SetBodyState(o.Body, *o.State)
	case OpAddConstraint:
		_, err := w.AddConstraint(*o.Joint)
		return err
	case OpRemoveConstraint:
		return w.RemoveConstraint(o.Constraint)
	case OpAddRig:
		_, err := w.AddRig(*o.Install)
		return err
	case OpRemoveRig:
		return w.RemoveRig(o.RigKind, o.Rig)
	}
	return nil
}

// rigKind maps rig-driving ops to the id space they address.
func (o Op) rigKind() state.Kind {
	switch o.Op {
	case OpApplyThrottle, OpApplyBrake, OpApplySteer, OpSetHandbrake:
		return state.KindVehicle
	case OpMoveCharacter, OpJumpCharacter:
		return state.KindCharacter
	case OpActivateRagdoll, OpDeactivateRagdoll, OpSetRagdollBlendTarget:
		return state.KindRagdoll
	case OpRemoveRig:
		return o.RigKind
	case OpAddRig:
		if o.Install != nil {
			return o.Install.Kind
		}
	}
	return 0
}

// touched collects the bodies and rigs an op refers to.
func (o Op) touched(bodies map[state.StableID]bool, rigs map[rigRef]bool) {
	if o.Body != state.WorldAnchor {
		bodies[o.Body] = true
	}
	if o.Spawn != nil && o.Spawn.ID != state.WorldAnchor {
		bodies[o.Spawn.ID] = true
	}
	if o.Joint != nil {
		for _, id := range o.Joint.Participants() {
			bodies[id] = true
		}
	}
	if o.Install != nil {
		for _, id := range o.Install.Bodies() {
			bodies[id] = true
		}
	}
	if kind := o.rigKind(); kind != 0 && o.Rig != state.WorldAnchor {
		rigs[rigRef{kind: kind, id: o.Rig}] = true
	}
}

type rigRef struct {
	kind state.Kind
	id   state.StableID
}
