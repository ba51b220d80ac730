package state

import "rigidsync/broker/internal/physics"

// VehicleRig drives a chassis body from throttle, brake and steer inputs.
type VehicleRig struct {
	Chassis     StableID `json:"chassis"`
	EngineForce float64  `json:"engineForce"`
	BrakeForce  float64  `json:"brakeForce"`
	SteerTorque float64  `json:"steerTorque"`
	Throttle    float64  `json:"throttle"`
	Brake       float64  `json:"brake"`
	Steer       float64  `json:"steer"`
	Handbrake   bool     `json:"handbrake"`
}

// CharacterRig moves a capsule body from walk and jump requests.
type CharacterRig struct {
	Body        StableID     `json:"body"`
	MoveSpeed   float64      `json:"moveSpeed"`
	JumpImpulse float64      `json:"jumpImpulse"`
	Move        physics.Vec3 `json:"move"`
	PendingJump bool         `json:"pendingJump"`
}

// RagdollRig groups the bodies and joints that make up a ragdoll.
type RagdollRig struct {
	Bodies      []StableID     `json:"bodies"`
	Constraints []StableID     `json:"constraints"`
	Active      bool           `json:"active"`
	BlendPose   []physics.Quat `json:"blendPose,omitempty"`
	BlendWeight float64        `json:"blendWeight"`
}

// RigRecord is a tagged union over the rig controllers. Exactly one payload matches Kind.
type RigRecord struct {
	Kind      Kind          `json:"kind"`
	ID        StableID      `json:"id"`
	Vehicle   *VehicleRig   `json:"vehicle,omitempty"`
	Character *CharacterRig `json:"character,omitempty"`
	Ragdoll   *RagdollRig   `json:"ragdoll,omitempty"`
}

// Bodies lists every body the rig drives.
func (r RigRecord) Bodies() []StableID {
	switch {
	case r.Vehicle != nil:
		return []StableID{r.Vehicle.Chassis}
	case r.Character != nil:
		return []StableID{r.Character.Body}
	case r.Ragdoll != nil:
		return append([]StableID(nil), r.Ragdoll.Bodies...)
	default:
		return nil
	}
}

// Clone deep copies the rig payload.
func (r RigRecord) Clone() RigRecord {
	out := r
	if r.Vehicle != nil {
		v := *r.Vehicle
		out.Vehicle = &v
	}
	if r.Character != nil {
		c := *r.Character
		out.Character = &c
	}
	if r.Ragdoll != nil {
		rd := *r.Ragdoll
		rd.Bodies = append([]StableID(nil), r.Ragdoll.Bodies...)
		rd.Constraints = append([]StableID(nil), r.Ragdoll.Constraints...)
		if r.Ragdoll.BlendPose != nil {
			rd.BlendPose = append([]physics.Quat(nil), r.Ragdoll.BlendPose...)
		}
		out.Ragdoll = &rd
	}
	return out
}
