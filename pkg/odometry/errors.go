package odometry

import (
	"errors"
	"fmt"
)

// ErrInvalidWheelRadius is returned when a wheel radius falls outside the
// supported range.
var ErrInvalidWheelRadius = errors.New("odometry: invalid wheel radius")

// ValidationError reports a rejected configuration value.
type ValidationError struct {
	Field string
	Value float64
	Min   float64
	Max   float64
	Err   error
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("odometry: %s must be between %gm and %gm, got %g", e.Field, e.Min, e.Max, e.Value)
}

// Unwrap returns the underlying sentinel.
func (e *ValidationError) Unwrap() error {
	return e.Err
}
