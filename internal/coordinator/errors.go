package coordinator

import (
	"errors"
	"fmt"
)

// Sentinel errors for coordinator operations.
var (
	// ErrNotConnected is returned when an operation names a connection id
	// with no live registry entry. Callers treat it as a benign race.
	ErrNotConnected = errors.New("connection not registered")

	// ErrRoomNotFound is returned when an operation names a room that does
	// not exist (it was never created or its last connection has left).
	ErrRoomNotFound = errors.New("room not found")

	// ErrAlreadyRegistered is returned when a connection registers a second device.
	ErrAlreadyRegistered = errors.New("device already registered")
)

// ValidationError reports a malformed or disallowed client request. It is
// answered with an error event to the originating connection only.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation reports whether err is, or wraps, a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
