package channel

import (
	"log/slog"
	"time"

	"github.com/teslashibe/go-rover/pkg/protocol"
)

// asyncTransport is the part of a correlation-based channel that differs
// between WebSocket and MQTT.
type asyncTransport interface {
	ensureConnected() error
	publish(data []byte) error
	correlator() *correlator
	requestTimeout() time.Duration
	transportName() string
	log() *slog.Logger
}

// request connects lazily, sends msg, and waits for its correlated reply.
func request[T any](t asyncTransport, msg protocol.CommandMessage) (*T, error) {
	if err := t.ensureConnected(); err != nil {
		return nil, err
	}
	return exchange[T](t.correlator(), t.requestTimeout(), t.publish, msg)
}

func sendCommand(t asyncTransport, msg protocol.CommandMessage) *protocol.DeviceReply {
	reply, err := request[protocol.DeviceReply](t, msg)
	if err != nil {
		t.log().Error("command failed", "command", msg.Command, "error", err)
		return protocol.ErrorReply(t.transportName(), err)
	}
	return reply
}

func queryStatus(t asyncTransport) *protocol.StatusReply {
	reply, err := request[protocol.StatusReply](t, protocol.NewCommandMessage(protocol.CommandStatus))
	if err != nil {
		t.log().Error("status query failed", "error", err)
		return protocol.ErrorStatus(t.transportName(), err)
	}
	return reply
}

func queryInfo(t asyncTransport) *protocol.InfoReply {
	reply, err := request[protocol.InfoReply](t, protocol.NewCommandMessage(protocol.CommandInfo))
	if err != nil {
		t.log().Error("info query failed", "error", err)
		return protocol.ErrorInfo(t.transportName(), err)
	}
	return reply
}
