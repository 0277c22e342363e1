package channel

import (
	"errors"
	"fmt"

	"github.com/teslashibe/go-rover/pkg/protocol"
)

// Sentinel errors for transport conditions.
var (
	// ErrConnection is returned when a transport session cannot be established.
	ErrConnection = errors.New("channel: connection failed")

	// ErrDisconnected resolves requests that were pending when the session ended.
	ErrDisconnected = errors.New("channel: disconnected")

	// ErrTimeout is returned when no correlated reply arrives in time.
	ErrTimeout = errors.New("channel: request timed out")

	// ErrNotConnected is returned when sending without an open session.
	ErrNotConnected = errors.New("channel: not connected")
)

// ConnectionError reports a failed Connect on a specific transport.
type ConnectionError struct {
	Protocol protocol.Protocol
	Target   string
	Err      error
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	return fmt.Sprintf("channel [%s]: connect %s: %v", e.Protocol, e.Target, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match ErrConnection for any ConnectionError.
func (e *ConnectionError) Is(target error) bool {
	return target == ErrConnection
}
