package channel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/teslashibe/go-rover/pkg/protocol"
)

// WebSocketConfig configures the WebSocket transport.
type WebSocketConfig struct {
	// URL is the device socket, e.g. "ws://192.168.0.70:81".
	URL string

	// ConnectTimeout bounds the handshake.
	ConnectTimeout time.Duration

	// RequestTimeout bounds the wait for each correlated reply.
	RequestTimeout time.Duration

	// WriteTimeout bounds a single frame write.
	WriteTimeout time.Duration
}

func (c *WebSocketConfig) applyDefaults() {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 5 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 2 * time.Second
	}
}

// WebSocketChannel keeps one duplex socket to the device. Replies are matched
// to requests by the id the device echoes back.
type WebSocketChannel struct {
	cfg    WebSocketConfig
	logger *slog.Logger
	dialer websocket.Dialer
	corr   *correlator

	mu        sync.RWMutex
	conn      *websocket.Conn
	connected bool

	// closed is set by Disconnect and cleared by Connect. A closed channel
	// never reconnects lazily.
	closed bool

	// Only one goroutine may write frames at a time.
	writeMu sync.Mutex
}

// NewWebSocketChannel creates a WebSocket transport. Call Connect, or let the
// first command connect lazily.
func NewWebSocketChannel(cfg WebSocketConfig, logger *slog.Logger) *WebSocketChannel {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()
	logger = logger.With("transport", protocol.WebSocket)

	return &WebSocketChannel{
		cfg:    cfg,
		logger: logger,
		dialer: websocket.Dialer{HandshakeTimeout: cfg.ConnectTimeout},
		corr:   newCorrelator(string(protocol.WebSocket), logger),
	}
}

// Protocol returns protocol.WebSocket.
func (w *WebSocketChannel) Protocol() protocol.Protocol {
	return protocol.WebSocket
}

// Connect dials the device and starts the reader.
func (w *WebSocketChannel) Connect(ctx context.Context) error {
	return w.connect(ctx, false)
}

func (w *WebSocketChannel) connect(ctx context.Context, lazy bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.connected && w.conn != nil {
		return nil
	}
	if lazy && w.closed {
		return ErrNotConnected
	}

	dctx, cancel := context.WithTimeout(ctx, w.cfg.ConnectTimeout)
	defer cancel()

	w.logger.Info("connecting", "url", w.cfg.URL)

	conn, _, err := w.dialer.DialContext(dctx, w.cfg.URL, nil)
	if err != nil {
		w.connected = false
		return &ConnectionError{Protocol: protocol.WebSocket, Target: w.cfg.URL, Err: err}
	}

	w.conn = conn
	w.connected = true
	w.closed = false
	w.corr.start()
	go w.readLoop(conn)

	w.logger.Info("connected", "url", w.cfg.URL)
	return nil
}

// Disconnect closes the socket and fails all pending requests. Commands sent
// afterwards fail with ErrNotConnected until Connect is called again. Safe to
// call repeatedly.
func (w *WebSocketChannel) Disconnect() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	conn := w.conn
	w.conn = nil
	w.connected = false
	w.closed = true

	if conn != nil {
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		if err := conn.Close(); err != nil {
			w.logger.Warn("error closing socket", "error", err)
		}
		w.logger.Info("disconnected")
	}

	w.corr.failAll(ErrDisconnected)
	w.corr.halt()
	return nil
}

// IsConnected reports whether the socket is open and usable.
func (w *WebSocketChannel) IsConnected() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.connected && w.conn != nil
}

// SendMove sends a move frame and waits for the reply.
func (w *WebSocketChannel) SendMove(cmd protocol.MoveCommand) *protocol.DeviceReply {
	return sendCommand(w, protocol.NewMoveMessage(cmd))
}

// SendStop sends a stop frame and waits for the reply.
func (w *WebSocketChannel) SendStop() *protocol.DeviceReply {
	return sendCommand(w, protocol.NewCommandMessage(protocol.CommandStop))
}

// GetStatus queries device status.
func (w *WebSocketChannel) GetStatus() *protocol.StatusReply {
	return queryStatus(w)
}

// GetInfo queries device info.
func (w *WebSocketChannel) GetInfo() *protocol.InfoReply {
	return queryInfo(w)
}

// PendingCount returns the number of requests awaiting a reply.
func (w *WebSocketChannel) PendingCount() int {
	return w.corr.pendingCount()
}

// readLoop feeds inbound frames to the correlator until the socket fails.
func (w *WebSocketChannel) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			w.handleClosed(conn, err)
			return
		}
		w.corr.deliver(data)
	}
}

// handleClosed tears down state after the peer or network ended the session.
func (w *WebSocketChannel) handleClosed(conn *websocket.Conn, cause error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	// Explicit Disconnect or a newer session already owns the state.
	if w.conn != conn {
		return
	}

	w.conn = nil
	w.connected = false
	conn.Close()

	if websocket.IsCloseError(cause, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		w.logger.Info("connection closed by device", "reason", cause)
	} else {
		w.logger.Warn("connection lost", "error", cause)
	}

	w.corr.failAll(fmt.Errorf("%w: %v", ErrDisconnected, cause))
	w.corr.halt()
}

// ensureConnected reconnects after a lost session, but not after Disconnect.
func (w *WebSocketChannel) ensureConnected() error {
	if w.IsConnected() {
		return nil
	}
	return w.connect(context.Background(), true)
}

func (w *WebSocketChannel) publish(data []byte) error {
	w.mu.RLock()
	conn := w.conn
	w.mu.RUnlock()

	if conn == nil {
		return ErrNotConnected
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(w.cfg.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	w.logger.Debug("frame sent", "bytes", len(data))
	return nil
}

func (w *WebSocketChannel) correlator() *correlator       { return w.corr }
func (w *WebSocketChannel) requestTimeout() time.Duration { return w.cfg.RequestTimeout }
func (w *WebSocketChannel) transportName() string         { return "WebSocket" }
func (w *WebSocketChannel) log() *slog.Logger             { return w.logger }
