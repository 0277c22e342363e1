package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Reply status values.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// CommandKind discriminates asynchronous command frames.
type CommandKind string

const (
	CommandMove   CommandKind = "move"
	CommandStop   CommandKind = "stop"
	CommandStatus CommandKind = "status"
	CommandInfo   CommandKind = "info"
)

// CommandMessage is the frame sent over WebSocket and MQTT. ID is echoed by
// the device in its reply and used for correlation.
type CommandMessage struct {
	ID        string      `json:"id,omitempty"`
	Command   CommandKind `json:"command"`
	Direction Direction   `json:"direction,omitempty"`
	Speed     *int        `json:"speed,omitempty"`
	Angle     *float64    `json:"angle,omitempty"`
}

// NewMoveMessage builds the asynchronous move frame for cmd.
func NewMoveMessage(cmd MoveCommand) CommandMessage {
	speed := cmd.Speed
	return CommandMessage{
		Command:   CommandMove,
		Direction: cmd.Direction,
		Speed:     &speed,
		Angle:     cmd.Angle,
	}
}

// NewCommandMessage builds a frame that carries only the discriminator.
func NewCommandMessage(kind CommandKind) CommandMessage {
	return CommandMessage{Command: kind}
}

// MoveBody is the HTTP request body for POST /move.
type MoveBody struct {
	Direction Direction `json:"direction"`
	Speed     int       `json:"speed"`
	Angle     *float64  `json:"angle,omitempty"`
}

// NewMoveBody builds the HTTP move body for cmd.
func NewMoveBody(cmd MoveCommand) MoveBody {
	return MoveBody{Direction: cmd.Direction, Speed: cmd.Speed, Angle: cmd.Angle}
}

// DeviceReply is the device's answer to move and stop commands.
type DeviceReply struct {
	Status      string   `json:"status"`
	Message     string   `json:"message,omitempty"`
	Direction   string   `json:"direction,omitempty"`
	Speed       *int     `json:"speed,omitempty"`
	Angle       *float64 `json:"angle,omitempty"`
	Timestamp   *int64   `json:"timestamp,omitempty"`
	OperationID *int     `json:"operationId,omitempty"`
	IsMoving    *bool    `json:"isMoving,omitempty"`
}

// OK reports whether the device accepted the command.
func (r *DeviceReply) OK() bool {
	return r != nil && r.Status == StatusOK
}

// ErrorReply synthesizes a failed DeviceReply from a transport-side error.
func ErrorReply(transport string, err error) *DeviceReply {
	return &DeviceReply{
		Status:    StatusError,
		Message:   fmt.Sprintf("%s error: %v", transport, err),
		Timestamp: ptr(time.Now().UnixMilli()),
	}
}

// StatusReply is the device's answer to a status query.
type StatusReply struct {
	Status            string   `json:"status"`
	Message           string   `json:"message,omitempty"`
	CurrentDirection  string   `json:"currentDirection,omitempty"`
	CurrentSpeed      *int     `json:"currentSpeed,omitempty"`
	CurrentAngle      *float64 `json:"currentAngle,omitempty"`
	IsMoving          *bool    `json:"isMoving,omitempty"`
	Uptime            *int64   `json:"uptime,omitempty"`
	OperationDuration *int64   `json:"operationDuration,omitempty"`
	WifiStatus        string   `json:"wifiStatus,omitempty"`
	IP                string   `json:"ip,omitempty"`
}

// OK reports whether the status query succeeded.
func (r *StatusReply) OK() bool {
	return r != nil && r.Status != StatusError
}

// ErrorStatus synthesizes a failed StatusReply.
func ErrorStatus(transport string, err error) *StatusReply {
	return &StatusReply{Status: StatusError, Message: fmt.Sprintf("%s error: %v", transport, err)}
}

// Capabilities describes what the firmware supports.
type Capabilities struct {
	Directions string `json:"directions,omitempty"`
	SpeedRange string `json:"speedRange,omitempty"`
}

// InfoReply is the device's self-description.
type InfoReply struct {
	Status       string        `json:"status"`
	Message      string        `json:"message,omitempty"`
	PlatformName string        `json:"platformName,omitempty"`
	Version      string        `json:"version,omitempty"`
	IP           string        `json:"ip,omitempty"`
	Endpoints    []string      `json:"endpoints,omitempty"`
	Capabilities *Capabilities `json:"capabilities,omitempty"`
}

// OK reports whether the info query succeeded.
func (r *InfoReply) OK() bool {
	return r != nil && r.Status != StatusError
}

// ErrorInfo synthesizes a failed InfoReply.
func ErrorInfo(transport string, err error) *InfoReply {
	return &InfoReply{Status: StatusError, Message: fmt.Sprintf("%s error: %v", transport, err)}
}

// ExtractID returns the correlation id of a raw reply. Firmware echoes the
// id either as a string or as a number; both map to the same string form.
// ok is false when the payload carries no id (or a null one).
func ExtractID(raw []byte) (id string, ok bool, err error) {
	var envelope struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return "", false, fmt.Errorf("parse reply: %w", err)
	}

	v := bytes.TrimSpace(envelope.ID)
	if len(v) == 0 || bytes.Equal(v, []byte("null")) {
		return "", false, nil
	}

	if v[0] == '"' {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return "", false, fmt.Errorf("parse reply id: %w", err)
		}
		return s, s != "", nil
	}

	var n json.Number
	if err := json.Unmarshal(v, &n); err != nil {
		return "", false, fmt.Errorf("parse reply id: %w", err)
	}
	if i, err := n.Int64(); err == nil {
		return strconv.FormatInt(i, 10), true, nil
	}
	return n.String(), true, nil
}

func ptr[T any](v T) *T {
	return &v
}
