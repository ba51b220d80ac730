package snapshot

import (
	"errors"
	"fmt"
)

// ErrCorruptSnapshot is returned for any buffer that cannot be decoded exactly.
var ErrCorruptSnapshot = errors.New("corrupt snapshot")

// CorruptError locates the first framing problem in a snapshot buffer.
type CorruptError struct {
	Offset int
	Reason string
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("%s at byte %d: %s", ErrCorruptSnapshot, e.Offset, e.Reason)
}

// Is lets errors.Is match the sentinel.
func (e *CorruptError) Is(target error) bool { return target == ErrCorruptSnapshot }
