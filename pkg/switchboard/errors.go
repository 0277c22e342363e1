package switchboard

import (
	"errors"
	"fmt"

	"github.com/teslashibe/go-rover/pkg/protocol"
)

// Sentinel errors.
var (
	// ErrSwitchFailed is wrapped by every SwitchError.
	ErrSwitchFailed = errors.New("switchboard: protocol switch failed")

	// ErrNoChannel is returned when no channel is registered for a protocol.
	ErrNoChannel = errors.New("switchboard: no channel for protocol")

	// ErrHTTPRequired is returned by New when no HTTP channel is supplied.
	ErrHTTPRequired = errors.New("switchboard: an HTTP channel is required")
)

// SwitchError reports a failed transition. The switchboard is back on HTTP
// when this is returned.
type SwitchError struct {
	From protocol.Protocol
	To   protocol.Protocol
	Err  error
}

// Error implements the error interface.
func (e *SwitchError) Error() string {
	return fmt.Sprintf("switchboard: switch %s -> %s failed, using %s fallback: %v", e.From, e.To, protocol.HTTP, e.Err)
}

// Unwrap returns the cause.
func (e *SwitchError) Unwrap() error {
	return e.Err
}

// Is matches ErrSwitchFailed for any SwitchError.
func (e *SwitchError) Is(target error) bool {
	return target == ErrSwitchFailed
}
