package microbatch

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by Submit once the dispatcher has been shut down.
var ErrClosed = errors.New("dispatcher is closed")

// ErrRejected is delivered to every request of a batch that the executor refused
// under the [Reject] saturation policy.
var ErrRejected = errors.New("batch rejected by saturated executor")

// ValidationError reports an invalid dispatcher configuration.
// No dispatcher is created when Run returns this error.
type ValidationError struct {
	// Field the name of the offending option.
	Field string
	// Reason why the value was refused.
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func newValidationError(field string, format string, args ...any) error {
	return &ValidationError{
		Field:  field,
		Reason: fmt.Sprintf(format, args...),
	}
}

// PanicError wraps a value recovered from a panicking process function.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Unwrap return the recovered value if it is an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
