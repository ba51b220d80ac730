// Package backend defines the narrow interface the simulation core consumes from a physics engine.
package backend

import (
	"errors"

	"rigidsync/broker/internal/physics"
	"rigidsync/broker/internal/state"
)

// NoHandle denotes the world anchor when passed as a constraint participant.
const NoHandle state.Handle = 0

var (
	// ErrUnknownHandle is returned when a handle does not name a live resource.
	ErrUnknownHandle = errors.New("unknown backend handle")
	// ErrUnknownBackend is returned by Open for names nobody registered.
	ErrUnknownBackend = errors.New("unknown backend")
)

// Settings are the solver parameters captured in snapshot headers.
type Settings struct {
	SolverIterations uint16
	Substeps         uint16
	TimeScale        float64
	Compliance       float64
}

// Event is a backend notification expressed on live handles.
type Event struct {
	Kind       state.EventKind
	BodyA      state.Handle
	BodyB      state.Handle
	Constraint state.Handle
}

// Backend is the black-box simulation engine driven by a world.
// Implementations are single-writer; callers serialise access.
type Backend interface {
	Name() string
	Step(dt float64, substeps int) error

	SpawnBody(rec state.BodyRecord) (state.Handle, error)
	DestroyBody(h state.Handle) error
	BodyState(h state.Handle) (state.BodyState, error)
	SetBodyState(h state.Handle, s state.BodyState) error
	SetMotionMode(h state.Handle, mode state.MotionMode) error

	// AddConstraint joins two bodies; NoHandle anchors that side to the world.
	AddConstraint(rec state.ConstraintRecord, a, b state.Handle) (state.Handle, error)
	RemoveConstraint(h state.Handle) error

	// ApplyImpulse applies an impulse at a world-space point.
	ApplyImpulse(h state.Handle, impulse, point physics.Vec3) error
	ApplyForce(h state.Handle, force physics.Vec3) error
	ApplyTorque(h state.Handle, torque physics.Vec3) error
	SetVelocity(h state.Handle, linear, angular physics.Vec3) error
	Teleport(h state.Handle, position physics.Vec3, orientation physics.Quat) error

	SetGravity(g physics.Vec3)
	Gravity() physics.Vec3
	Settings() Settings
	Configure(s Settings)

	DrainEvents() []Event
	Close() error
}

// NativeIdentifier is implemented by backends whose resources carry their own stable ids.
type NativeIdentifier interface {
	NativeID(kind state.Kind, h state.Handle) (state.StableID, bool)
}
