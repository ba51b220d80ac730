package replay

import (
	"errors"
	"fmt"

	"rigidsync/broker/internal/registry"
)

var (
	// ErrUnknownStableID marks an operation that names an id with no live resource.
	ErrUnknownStableID = registry.ErrUnknownID
	// ErrCheckpointMismatch marks a STRICT run whose state hash diverged.
	ErrCheckpointMismatch = errors.New("replay checkpoint mismatch")
	// ErrInvariantViolation marks a BEHAVIOURAL run that broke a physical bound.
	ErrInvariantViolation = errors.New("replay invariant violation")
	// ErrPacketFraming rejects packets with bad magic, version, schema or ordering.
	ErrPacketFraming = errors.New("replay packet framing")
	// ErrNonDeterministicTuning rejects STRICT runs on tunings that cannot reproduce hashes.
	ErrNonDeterministicTuning = errors.New("strict replay requires deterministic single-threaded tuning")
	// ErrBackendMismatch rejects STRICT runs against a different backend.
	ErrBackendMismatch = errors.New("strict replay requires the recording backend")
	// ErrSealed is returned by recorder operations that need an open recording.
	ErrSealed = errors.New("recorder sealed")
	// ErrNoBaseline is returned when a packet is built before the initial snapshot was captured.
	ErrNoBaseline = errors.New("recorder has no initial snapshot")
	// ErrVariableTimestep rejects recorded steps whose dt differs from the fixed timestep.
	ErrVariableTimestep = errors.New("recorded steps must use the fixed timestep")
	// ErrBaselineFixed rejects restores once the recording lineage has started.
	ErrBaselineFixed = errors.New("recorder baseline already captured")
	// ErrInvalidOp rejects malformed or non-finite operations.
	ErrInvalidOp = errors.New("invalid replay operation")
)

// CheckpointMismatchError reports the first diverging checkpoint of a STRICT run.
type CheckpointMismatchError struct {
	Step     uint32
	Expected string
	Actual   string
}

func (e *CheckpointMismatchError) Error() string {
	return fmt.Sprintf("checkpoint at step %d: expected %s, got %s", e.Step, e.Expected, e.Actual)
}

// Is reports ErrCheckpointMismatch identity.
func (e *CheckpointMismatchError) Is(target error) bool { return target == ErrCheckpointMismatch }

// InvariantViolationError names the body and bound that failed a BEHAVIOURAL check.
type InvariantViolationError struct {
	Step     uint32
	Body     uint32
	Bound    string
	Observed float64
	Limit    float64
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("step %d body %d violates %s: observed %g, limit %g", e.Step, e.Body, e.Bound, e.Observed, e.Limit)
}

// Is reports ErrInvariantViolation identity.
func (e *InvariantViolationError) Is(target error) bool { return target == ErrInvariantViolation }

func framing(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrPacketFraming, fmt.Sprintf(format, args...))
}
