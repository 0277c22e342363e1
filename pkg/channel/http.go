package channel

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/teslashibe/go-rover/internal/httpc"
	"github.com/teslashibe/go-rover/pkg/protocol"
)

// HTTPConfig configures the HTTP transport.
type HTTPConfig struct {
	// BaseURL is the device API root, e.g. "http://192.168.0.70".
	BaseURL string

	// Timeout bounds each request/response exchange.
	Timeout time.Duration
}

// HTTPChannel talks to the device's REST endpoints. It is stateless, so it
// is always considered connected.
type HTTPChannel struct {
	baseURL string
	timeout time.Duration
	client  *http.Client
	logger  *slog.Logger
}

// NewHTTPChannel creates an HTTP transport.
func NewHTTPChannel(cfg HTTPConfig, logger *slog.Logger) *HTTPChannel {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = httpc.DefaultTimeout
	}
	return &HTTPChannel{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		timeout: cfg.Timeout,
		client:  httpc.NewClient(cfg.Timeout),
		logger:  logger.With("transport", protocol.HTTP),
	}
}

// Protocol returns protocol.HTTP.
func (h *HTTPChannel) Protocol() protocol.Protocol {
	return protocol.HTTP
}

// Connect is a no-op; HTTP needs no session.
func (h *HTTPChannel) Connect(context.Context) error {
	return nil
}

// Disconnect is a no-op.
func (h *HTTPChannel) Disconnect() error {
	return nil
}

// IsConnected always reports true.
func (h *HTTPChannel) IsConnected() bool {
	return true
}

// SendMove posts the move body to /move.
func (h *HTTPChannel) SendMove(cmd protocol.MoveCommand) *protocol.DeviceReply {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	var reply protocol.DeviceReply
	if err := httpc.PostJSON(ctx, h.client, h.baseURL+"/move", protocol.NewMoveBody(cmd), &reply); err != nil {
		h.logger.Error("move request failed", "direction", cmd.Direction, "speed", cmd.Speed, "error", err)
		return protocol.ErrorReply("HTTP", err)
	}
	return &reply
}

// SendStop requests /stop.
func (h *HTTPChannel) SendStop() *protocol.DeviceReply {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	var reply protocol.DeviceReply
	if err := httpc.GetJSON(ctx, h.client, h.baseURL+"/stop", &reply); err != nil {
		h.logger.Error("stop request failed", "error", err)
		return protocol.ErrorReply("HTTP", err)
	}
	return &reply
}

// GetStatus requests /status.
func (h *HTTPChannel) GetStatus() *protocol.StatusReply {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	var reply protocol.StatusReply
	if err := httpc.GetJSON(ctx, h.client, h.baseURL+"/status", &reply); err != nil {
		h.logger.Error("status request failed", "error", err)
		return protocol.ErrorStatus("HTTP", err)
	}
	return &reply
}

// GetInfo requests the device root document.
func (h *HTTPChannel) GetInfo() *protocol.InfoReply {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	var reply protocol.InfoReply
	if err := httpc.GetJSON(ctx, h.client, h.baseURL+"/", &reply); err != nil {
		h.logger.Error("info request failed", "error", err)
		return protocol.ErrorInfo("HTTP", err)
	}
	return &reply
}
