// Package protocol defines the command and reply shapes exchanged with the
// rover's motor controller, independent of the transport carrying them.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Speed limits accepted by the motor controller (8-bit PWM duty).
const (
	MinSpeed = 0
	MaxSpeed = 255
)

// Sentinel errors for command validation.
var (
	// ErrUnknownProtocol is returned when a protocol name is not recognised.
	ErrUnknownProtocol = errors.New("protocol: unknown protocol")

	// ErrUnknownDirection is returned when a direction name is not recognised.
	ErrUnknownDirection = errors.New("protocol: unknown direction")

	// ErrSpeedRange is returned when a speed falls outside [0, 255].
	ErrSpeedRange = errors.New("protocol: speed must be between 0 and 255")
)

// Protocol identifies the transport used to reach the device.
type Protocol string

const (
	HTTP      Protocol = "HTTP"
	WebSocket Protocol = "WEBSOCKET"
	MQTT      Protocol = "MQTT"
)

// Protocols lists every supported transport.
var Protocols = []Protocol{HTTP, WebSocket, MQTT}

// ParseProtocol parses a protocol name case-insensitively.
func ParseProtocol(s string) (Protocol, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "HTTP":
		return HTTP, nil
	case "WEBSOCKET", "WS":
		return WebSocket, nil
	case "MQTT":
		return MQTT, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownProtocol, s)
}

// UnmarshalJSON accepts any casing of a known protocol name.
func (p *Protocol) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseProtocol(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Direction is a motion primitive understood by the motor controller.
type Direction string

const (
	Forward  Direction = "forward"
	Backward Direction = "backward"
	Left     Direction = "left"
	Right    Direction = "right"
)

// ParseDirection parses a direction name case-insensitively.
func ParseDirection(s string) (Direction, error) {
	d := Direction(strings.ToLower(strings.TrimSpace(s)))
	if !d.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownDirection, s)
	}
	return d, nil
}

// Valid reports whether d is one of the four motion primitives.
func (d Direction) Valid() bool {
	switch d {
	case Forward, Backward, Left, Right:
		return true
	}
	return false
}

// UnmarshalJSON accepts any casing of a known direction.
func (d *Direction) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseDirection(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// MoveCommand is a single motion request. Angle, when set, is the absolute
// heading in degrees the caller wants the platform to assume.
type MoveCommand struct {
	Direction Direction `json:"direction"`
	Speed     int       `json:"speed"`
	Angle     *float64  `json:"angle,omitempty"`
	Protocol  Protocol  `json:"protocol"`
}

// Validate checks direction, speed range, and protocol.
func (m MoveCommand) Validate() error {
	if !m.Direction.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownDirection, m.Direction)
	}
	if m.Speed < MinSpeed || m.Speed > MaxSpeed {
		return fmt.Errorf("%w: got %d", ErrSpeedRange, m.Speed)
	}
	if _, err := ParseProtocol(string(m.Protocol)); err != nil {
		return err
	}
	return nil
}
