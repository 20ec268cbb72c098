package store

import "fmt"

// ConflictError indicates an operation collided with state already held by
// someone else, such as re-subscribing with divergent configuration. The
// broker package translates this into its own *broker.Error with
// ErrCodeConflict so callers never need to depend on this package directly.
type ConflictError struct {
	msg string
}

func (e *ConflictError) Error() string { return e.msg }

// NewConflictError builds a ConflictError with a formatted message.
func NewConflictError(format string, args ...interface{}) *ConflictError {
	return &ConflictError{msg: fmt.Sprintf(format, args...)}
}
