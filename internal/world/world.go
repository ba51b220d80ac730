// Package world binds a physics backend, the stable id registry, the mechanical coupling layer
// and the rig controllers into one steppable simulation.
package world

import (
	"errors"

	"rigidsync/broker/internal/backend"
	"rigidsync/broker/internal/logging"
	"rigidsync/broker/internal/physics"
	"rigidsync/broker/internal/state"
)

// EngineVersion identifies the simulation core in replay packets.
const EngineVersion = "rigidsync-core/1.0.0"

var (
	// ErrInvalidTimestep is returned when Step receives a non-positive or non-finite dt.
	ErrInvalidTimestep = errors.New("world: timestep must be positive and finite")
	// ErrInconsistentState rejects a world state whose records reference missing resources.
	ErrInconsistentState = errors.New("world: inconsistent state")
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("world: closed")
	// ErrWrongMode rejects rig or body operations whose target cannot honour them.
	ErrWrongMode = errors.New("world: operation not valid for target")
)

// World is the capability set every simulation exposes, whether bare or wrapped by a recorder.
type World interface {
	Backend() string
	Tuning() backend.Tuning
	FixedTimeStep() float64
	MaxSubSteps() int
	StepCount() uint32
	Step(dt float64) error

	SpawnBody(rec state.BodyRecord) (state.StableID, error)
	DestroyBody(id state.StableID) error
	Body(id state.StableID) (state.BodyRecord, error)
	BodyIDs() []state.StableID
	SetBodyState(id state.StableID, st state.BodyState) error
	ApplyImpulse(id state.StableID, impulse, point physics.Vec3) error
	ApplyForce(id state.StableID, force physics.Vec3) error
	ApplyTorque(id state.StableID, torque physics.Vec3) error
	SetVelocity(id state.StableID, linear, angular physics.Vec3) error
	Teleport(id state.StableID, position physics.Vec3, orientation physics.Quat) error

	AddConstraint(rec state.ConstraintRecord) (state.StableID, error)
	RemoveConstraint(id state.StableID) error
	Constraint(id state.StableID) (state.ConstraintRecord, error)
	ConstraintIDs() []state.StableID

	AddRig(rec state.RigRecord) (state.StableID, error)
	RemoveRig(kind state.Kind, id state.StableID) error
	Rig(kind state.Kind, id state.StableID) (state.RigRecord, error)
	ApplyThrottle(id state.StableID, value float64) error
	ApplyBrake(id state.StableID, value float64) error
	ApplySteer(id state.StableID, value float64) error
	SetHandbrake(id state.StableID, engaged bool) error
	MoveCharacter(id state.StableID, direction physics.Vec3) error
	JumpCharacter(id state.StableID) error
	ActivateRagdoll(id state.StableID) error
	DeactivateRagdoll(id state.StableID) error
	SetRagdollBlendTarget(id state.StableID, pose []physics.Quat, weight float64) error

	State() (*state.WorldState, error)
	Snapshot() ([]byte, error)
	Restore(buf []byte) error
	RestoreState(ws *state.WorldState) error
	Hash() (string, error)
	Events() []state.Event
	Close() error
}

// Config selects the backend and the fixed stepping parameters of a world.
type Config struct {
	Backend       string
	Tuning        backend.Tuning
	Gravity       physics.Vec3
	FixedTimeStep float64
	MaxSubSteps   int
	Logger        *logging.Logger
}

// DefaultGravity is the standard downward acceleration.
var DefaultGravity = physics.V3(0, -9.81, 0)

// DefaultConfig returns a deterministic impulse world stepping at 60 Hz.
func DefaultConfig() Config {
	return Config{
		Backend:       "impulse",
		Tuning:        backend.BuiltinProfiles()["deterministic"],
		Gravity:       DefaultGravity,
		FixedTimeStep: 1.0 / 60.0,
		MaxSubSteps:   1,
	}
}

func (c Config) withDefaults() Config {
	if c.Backend == "" {
		c.Backend = "impulse"
	}
	if !(c.FixedTimeStep > 0) {
		c.FixedTimeStep = 1.0 / 60.0
	}
	if c.MaxSubSteps < 1 {
		c.MaxSubSteps = 1
	}
	if c.Logger == nil {
		c.Logger = logging.L()
	}
	c.Tuning = c.Tuning.WithDefaults()
	return c
}
