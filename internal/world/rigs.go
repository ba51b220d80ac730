package world

import (
	"fmt"
	"math"
	"sort"

	"rigidsync/broker/internal/physics"
	"rigidsync/broker/internal/registry"
	"rigidsync/broker/internal/state"
)

var rigKinds = []state.Kind{state.KindVehicle, state.KindCharacter, state.KindRagdoll}

var (
	vehicleForward = physics.V3(0, 0, 1)
	vehicleUp      = physics.V3(0, 1, 0)
)

// AddRig installs a vehicle, character or ragdoll controller over existing bodies.
func (s *Sim) AddRig(rec state.RigRecord) (state.StableID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(); err != nil {
		return 0, err
	}
	return s.addRig(rec)
}

func (s *Sim) addRig(rec state.RigRecord) (state.StableID, error) {
	//1.- The payload must match the kind and reference live resources.
	if err := s.checkRig(rec); err != nil {
		return 0, err
	}
	if err := s.ensureFree(rec.Kind, rec.ID); err != nil {
		return 0, err
	}
	//2.- Rigs are world-side controllers, so they sit on virtual handles.
	h := s.nextVirtual()
	id := rec.ID
	if id == state.WorldAnchor {
		id = s.reg.Register(rec.Kind, h)
	} else if err := s.reg.Adopt(rec.Kind, h, id); err != nil {
		return 0, err
	}
	stored := rec.Clone()
	stored.ID = id
	s.rigs[rec.Kind][id] = &stored
	return id, nil
}

func (s *Sim) checkRig(rec state.RigRecord) error {
	switch {
	case rec.Kind == state.KindVehicle && rec.Vehicle != nil:
	case rec.Kind == state.KindCharacter && rec.Character != nil:
	case rec.Kind == state.KindRagdoll && rec.Ragdoll != nil:
		for _, cid := range rec.Ragdoll.Constraints {
			if _, ok := s.constraints[cid]; !ok {
				return &registry.UnknownIDError{Kind: state.KindConstraint, ID: cid}
			}
		}
		if n := len(rec.Ragdoll.BlendPose); n != 0 && n != len(rec.Ragdoll.Bodies) {
			return fmt.Errorf("ragdoll blend pose has %d entries for %d bodies: %w", n, len(rec.Ragdoll.Bodies), ErrWrongMode)
		}
	default:
		return fmt.Errorf("rig kind %s without matching payload: %w", rec.Kind, ErrWrongMode)
	}
	bodies := rec.Bodies()
	if len(bodies) == 0 {
		return fmt.Errorf("%s rig drives no bodies: %w", rec.Kind, ErrWrongMode)
	}
	for _, id := range bodies {
		if _, err := s.bodyEntry(id); err != nil {
			return err
		}
	}
	return nil
}

// RemoveRig detaches a controller; its bodies stay in the world.
func (s *Sim) RemoveRig(kind state.Kind, id state.StableID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(); err != nil {
		return err
	}
	if _, err := s.rig(kind, id); err != nil {
		return err
	}
	s.dropRig(kind, id)
	return nil
}

func (s *Sim) dropRig(kind state.Kind, id state.StableID) {
	delete(s.rigs[kind], id)
	_ = s.reg.Release(kind, id)
}

// Rig returns a copy of a rig record.
func (s *Sim) Rig(kind state.Kind, id state.StableID) (state.RigRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rig, err := s.rig(kind, id)
	if err != nil {
		return state.RigRecord{}, err
	}
	return rig.Clone(), nil
}

func (s *Sim) rig(kind state.Kind, id state.StableID) (*state.RigRecord, error) {
	if rig, ok := s.rigs[kind][id]; ok {
		return rig, nil
	}
	return nil, &registry.UnknownIDError{Kind: kind, ID: id}
}

func (s *Sim) mutateRig(kind state.Kind, id state.StableID, fn func(*state.RigRecord) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(); err != nil {
		return err
	}
	rig, err := s.rig(kind, id)
	if err != nil {
		return err
	}
	return fn(rig)
}

func finiteInput(name string, value float64) error {
	if !physics.IsFinite(value) {
		return fmt.Errorf("%s must be finite: %w", name, ErrWrongMode)
	}
	return nil
}

func clamp(value, lo, hi float64) float64 { return math.Max(lo, math.Min(hi, value)) }

// ApplyThrottle sets the vehicle throttle in [-1, 1].
func (s *Sim) ApplyThrottle(id state.StableID, value float64) error {
	return s.mutateRig(state.KindVehicle, id, func(rig *state.RigRecord) error {
		if err := finiteInput("throttle", value); err != nil {
			return err
		}
		rig.Vehicle.Throttle = clamp(value, -1, 1)
		return nil
	})
}

// ApplyBrake sets the vehicle brake in [0, 1].
func (s *Sim) ApplyBrake(id state.StableID, value float64) error {
	return s.mutateRig(state.KindVehicle, id, func(rig *state.RigRecord) error {
		if err := finiteInput("brake", value); err != nil {
			return err
		}
		rig.Vehicle.Brake = clamp(value, 0, 1)
		return nil
	})
}

// ApplySteer sets the vehicle steering in [-1, 1].
func (s *Sim) ApplySteer(id state.StableID, value float64) error {
	return s.mutateRig(state.KindVehicle, id, func(rig *state.RigRecord) error {
		if err := finiteInput("steer", value); err != nil {
			return err
		}
		rig.Vehicle.Steer = clamp(value, -1, 1)
		return nil
	})
}

// SetHandbrake engages or releases the vehicle handbrake.
func (s *Sim) SetHandbrake(id state.StableID, engaged bool) error {
	return s.mutateRig(state.KindVehicle, id, func(rig *state.RigRecord) error {
		rig.Vehicle.Handbrake = engaged
		return nil
	})
}

// MoveCharacter sets the horizontal walk direction; the length is capped at 1.
func (s *Sim) MoveCharacter(id state.StableID, direction physics.Vec3) error {
	return s.mutateRig(state.KindCharacter, id, func(rig *state.RigRecord) error {
		if !direction.IsFinite() {
			return fmt.Errorf("move direction must be finite: %w", ErrWrongMode)
		}
		direction.Y = 0
		rig.Character.Move = direction.ClampMagnitude(1)
		return nil
	})
}

// JumpCharacter queues a jump for the next step.
func (s *Sim) JumpCharacter(id state.StableID) error {
	return s.mutateRig(state.KindCharacter, id, func(rig *state.RigRecord) error {
		rig.Character.PendingJump = true
		return nil
	})
}

// ActivateRagdoll hands the ragdoll bodies to the dynamic solver.
func (s *Sim) ActivateRagdoll(id state.StableID) error {
	return s.mutateRig(state.KindRagdoll, id, func(rig *state.RigRecord) error {
		if err := s.setRagdollMode(rig.Ragdoll, state.Dynamic); err != nil {
			return err
		}
		rig.Ragdoll.Active = true
		return nil
	})
}

// DeactivateRagdoll freezes the ragdoll bodies as kinematic.
func (s *Sim) DeactivateRagdoll(id state.StableID) error {
	return s.mutateRig(state.KindRagdoll, id, func(rig *state.RigRecord) error {
		if err := s.setRagdollMode(rig.Ragdoll, state.Kinematic); err != nil {
			return err
		}
		rig.Ragdoll.Active = false
		return nil
	})
}

func (s *Sim) setRagdollMode(rd *state.RagdollRig, mode state.MotionMode) error {
	for _, bid := range rd.Bodies {
		entry, err := s.bodyEntry(bid)
		if err != nil {
			return err
		}
		if err := s.be.SetMotionMode(entry.handle, mode); err != nil {
			return fmt.Errorf("ragdoll body %d: %w", bid, err)
		}
		if mode == state.Kinematic {
			if err := s.be.SetVelocity(entry.handle, physics.Vec3{}, physics.Vec3{}); err != nil {
				return fmt.Errorf("ragdoll body %d: %w", bid, err)
			}
		}
		entry.rec.Mode = mode
	}
	return nil
}

// SetRagdollBlendTarget stores the pose the ragdoll should blend toward and its weight in [0, 1].
func (s *Sim) SetRagdollBlendTarget(id state.StableID, pose []physics.Quat, weight float64) error {
	return s.mutateRig(state.KindRagdoll, id, func(rig *state.RigRecord) error {
		if err := finiteInput("blend weight", weight); err != nil {
			return err
		}
		if len(pose) != 0 && len(pose) != len(rig.Ragdoll.Bodies) {
			return fmt.Errorf("blend pose has %d entries for %d bodies: %w", len(pose), len(rig.Ragdoll.Bodies), ErrWrongMode)
		}
		target := make([]physics.Quat, len(pose))
		for i, q := range pose {
			if !q.IsFinite() {
				return fmt.Errorf("blend pose entry %d must be finite: %w", i, ErrWrongMode)
			}
			target[i] = q.Unitize()
		}
		rig.Ragdoll.BlendPose = target
		rig.Ragdoll.BlendWeight = clamp(weight, 0, 1)
		return nil
	})
}

// driveRigs converts vehicle and character commands into engine inputs in ascending id order.
func (s *Sim) driveRigs(dt float64) error {
	for _, id := range sortedRigIDs(s.rigs[state.KindVehicle]) {
		if err := s.driveVehicle(s.rigs[state.KindVehicle][id].Vehicle, dt); err != nil {
			return fmt.Errorf("vehicle %d: %w", id, err)
		}
	}
	for _, id := range sortedRigIDs(s.rigs[state.KindCharacter]) {
		if err := s.driveCharacter(s.rigs[state.KindCharacter][id].Character); err != nil {
			return fmt.Errorf("character %d: %w", id, err)
		}
	}
	return nil
}

func (s *Sim) driveVehicle(v *state.VehicleRig, dt float64) error {
	entry, err := s.bodyEntry(v.Chassis)
	if err != nil || entry.rec.Mode != state.Dynamic {
		return err
	}
	live, err := s.be.BodyState(entry.handle)
	if err != nil {
		return err
	}
	//1.- Engine force along the chassis forward axis.
	forward := live.Orientation.Rotate(vehicleForward)
	force := forward.Scale(v.EngineForce * v.Throttle)
	//2.- Brakes oppose forward motion but never reverse it within one step.
	brake := v.Brake
	if v.Handbrake {
		brake = 1
	}
	if speed := live.LinearVelocity.Dot(forward); brake > 0 && speed != 0 {
		limit := math.Abs(speed) * entry.rec.Mass / dt
		magnitude := math.Min(v.BrakeForce*brake, limit)
		force = force.Sub(forward.Scale(math.Copysign(magnitude, speed)))
	}
	if force != (physics.Vec3{}) {
		if err := s.be.ApplyForce(entry.handle, force); err != nil {
			return err
		}
	}
	//3.- Steering is a yaw torque about the chassis up axis.
	if v.Steer != 0 {
		torque := live.Orientation.Rotate(vehicleUp).Scale(v.SteerTorque * v.Steer)
		if err := s.be.ApplyTorque(entry.handle, torque); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sim) driveCharacter(c *state.CharacterRig) error {
	entry, err := s.bodyEntry(c.Body)
	if err != nil || entry.rec.Mode != state.Dynamic {
		return err
	}
	live, err := s.be.BodyState(entry.handle)
	if err != nil {
		return err
	}
	//1.- Walking overrides horizontal velocity and keeps the capsule upright.
	target := c.Move.Scale(c.MoveSpeed)
	velocity := physics.V3(target.X, live.LinearVelocity.Y, target.Z)
	if velocity != live.LinearVelocity || live.AngularVelocity != (physics.Vec3{}) {
		if err := s.be.SetVelocity(entry.handle, velocity, physics.Vec3{}); err != nil {
			return err
		}
	}
	//2.- A queued jump is spent as one upward impulse.
	if c.PendingJump {
		c.PendingJump = false
		if err := s.be.ApplyImpulse(entry.handle, physics.V3(0, c.JumpImpulse, 0), live.Position); err != nil {
			return err
		}
	}
	return nil
}

func sortedRigIDs(rigs map[state.StableID]*state.RigRecord) []state.StableID {
	ids := make([]state.StableID, 0, len(rigs))
	for id := range rigs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func rigReferences(rig *state.RigRecord, body state.StableID) bool {
	for _, id := range rig.Bodies() {
		if id == body {
			return true
		}
	}
	return false
}
