// Package channel provides the transports used to reach the rover's motor
// controller: synchronous HTTP, duplex WebSocket, and MQTT pub/sub.
//
// Every transport exposes the same small capability set so that callers can
// switch between them at runtime. Send operations never fail with a Go error;
// transport problems come back as replies with status "error". Only Connect
// reports errors, so that a caller can fall back to another transport.
package channel

import (
	"context"

	"github.com/teslashibe/go-rover/pkg/protocol"
)

// Connector manages transport-level readiness.
type Connector interface {
	Connect(ctx context.Context) error
	Disconnect() error
	IsConnected() bool
}

// Commander sends motion commands.
type Commander interface {
	SendMove(cmd protocol.MoveCommand) *protocol.DeviceReply
	SendStop() *protocol.DeviceReply
}

// Querier reads device state.
type Querier interface {
	GetStatus() *protocol.StatusReply
	GetInfo() *protocol.InfoReply
}

// Channel is the full capability set of one transport.
type Channel interface {
	Connector
	Commander
	Querier

	// Protocol identifies the transport.
	Protocol() protocol.Protocol
}

// Ensure all transports implement Channel
var (
	_ Channel = (*HTTPChannel)(nil)
	_ Channel = (*WebSocketChannel)(nil)
	_ Channel = (*MQTTChannel)(nil)
)
