package platform

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	// ErrDevice is wrapped by every DeviceError.
	ErrDevice = errors.New("platform: device error")

	// ErrInvalid is wrapped by every ValidationError.
	ErrInvalid = errors.New("platform: invalid request")
)

// DeviceError reports a reply the device marked as failed, or no usable
// reply at all.
type DeviceError struct {
	Op      string
	Message string
}

// Error implements the error interface.
func (e *DeviceError) Error() string {
	return fmt.Sprintf("platform: %s: ESP32 error: %s", e.Op, e.Message)
}

// Is matches ErrDevice.
func (e *DeviceError) Is(target error) bool {
	return target == ErrDevice
}

// ValidationError reports a request rejected before reaching the device.
type ValidationError struct {
	Err error
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("platform: invalid request: %v", e.Err)
}

// Unwrap returns the cause.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Is matches ErrInvalid.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalid
}
