package dynamo

import (
	"errors"
	"fmt"
)

// Domain errors for engine operations.
var (
	// ErrInvalidConfig indicates a configuration that violates an invariant.
	ErrInvalidConfig = errors.New("dynamo: invalid configuration")

	// ErrNonFinite indicates a NaN or Inf command input.
	ErrNonFinite = errors.New("dynamo: value is not finite")

	// ErrOutOfRange indicates a command input outside its declared domain.
	ErrOutOfRange = errors.New("dynamo: value out of range")

	// ErrUnknownKind indicates an unrecognized gain or disturbance kind.
	ErrUnknownKind = errors.New("dynamo: unknown kind")

	// ErrEngineRunning indicates Start was called on a running loop.
	ErrEngineRunning = errors.New("dynamo: engine loop already running")

	// ErrEngineStopped indicates an operation that needs a running loop.
	ErrEngineStopped = errors.New("dynamo: engine loop not running")
)

// ValidationError reports a rejected value. The previous value is retained.
type ValidationError struct {
	Field   string
	Value   float64
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s=%g: %v", e.Field, e.Value, e.Wrapped)
}

func (e *ValidationError) Unwrap() error {
	return e.Wrapped
}

// CheckRange validates v against [lo, hi]. Use open=true to exclude lo.
func CheckRange(field string, v, lo, hi float64, open bool) error {
	if !IsFinite(v) {
		return &ValidationError{Field: field, Value: v, Wrapped: ErrNonFinite}
	}
	if v > hi || v < lo || (open && v == lo) {
		return &ValidationError{Field: field, Value: v, Wrapped: ErrOutOfRange}
	}
	return nil
}
