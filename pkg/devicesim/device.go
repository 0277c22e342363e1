// Package devicesim simulates the rover's ESP32 motor controller. It speaks
// the same HTTP, WebSocket and MQTT dialects as the firmware so the control
// service can be run and tested without hardware.
package devicesim

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/teslashibe/go-rover/pkg/protocol"
)

// Options tune the simulated firmware.
type Options struct {
	// OmitIDs drops the correlation id from asynchronous replies, like
	// older firmware builds.
	OmitIDs bool

	// Silent swallows asynchronous commands without replying.
	Silent bool

	// FailMoves answers every move with status "error".
	FailMoves bool

	// Latency delays every reply.
	Latency time.Duration

	PlatformName string
	Version      string
	IP           string
}

func (o *Options) applyDefaults() {
	if o.PlatformName == "" {
		o.PlatformName = "ESP32 Rover (simulated)"
	}
	if o.Version == "" {
		o.Version = "sim-1.0"
	}
	if o.IP == "" {
		o.IP = "127.0.0.1"
	}
}

// motorState is what the firmware remembers between commands.
type motorState struct {
	direction protocol.Direction
	speed     int
	angle     *float64
	moving    bool
	since     time.Time
}

// socket is one connected controller.
type socket struct {
	ID        string
	Conn      *websocket.Conn
	Connected time.Time

	mu sync.Mutex
}

func (s *socket) write(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Conn.WriteMessage(websocket.TextMessage, data)
}

// Device is a simulated motor controller.
type Device struct {
	opts    Options
	logger  *slog.Logger
	started time.Time

	mu          sync.Mutex
	state       motorState
	operationID int

	socketsMu sync.RWMutex
	sockets   map[string]*socket

	received atomic.Uint64
	sent     atomic.Uint64
}

// New creates a simulated device at rest.
func New(opts Options, logger *slog.Logger) *Device {
	if logger == nil {
		logger = slog.Default()
	}
	opts.applyDefaults()
	return &Device{
		opts:    opts,
		logger:  logger.With("component", "devicesim"),
		started: time.Now(),
		sockets: make(map[string]*socket),
	}
}

// Stats contains traffic counters.
type Stats struct {
	Sockets          int    `json:"sockets"`
	MessagesReceived uint64 `json:"messages_received"`
	MessagesSent     uint64 `json:"messages_sent"`
}

// Stats returns traffic counters.
func (d *Device) Stats() Stats {
	return Stats{
		Sockets:          d.SocketCount(),
		MessagesReceived: d.received.Load(),
		MessagesSent:     d.sent.Load(),
	}
}

// SocketCount returns the number of connected WebSocket clients.
func (d *Device) SocketCount() int {
	d.socketsMu.RLock()
	defer d.socketsMu.RUnlock()
	return len(d.sockets)
}

// App builds a fiber app serving the device API.
func (d *Device) App() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "Rover Device Simulator",
		DisableStartupMessage: true,
	})
	d.RegisterRoutes(app)
	return app
}

// RegisterRoutes mounts the firmware's REST endpoints and its socket. The
// socket answers on /ws and also on / for upgrade requests, as the firmware
// does.
func (d *Device) RegisterRoutes(app *fiber.App) {
	ws := websocket.New(d.handleSocket)

	app.Post("/move", d.handleMove)
	app.Get("/stop", d.handleStop)
	app.Get("/status", d.handleStatus)
	app.Get("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return ws(c)
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return ws(c)
		}
		return d.handleInfo(c)
	})
	app.Get("/sim/stats", func(c *fiber.Ctx) error {
		return c.JSON(d.Stats())
	})
}

func (d *Device) handleMove(c *fiber.Ctx) error {
	d.received.Add(1)
	var body protocol.MoveBody
	if err := json.Unmarshal(c.Body(), &body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorReply("Invalid JSON"))
	}
	d.delay()
	d.sent.Add(1)
	return c.JSON(d.move(string(body.Direction), body.Speed, body.Angle))
}

func (d *Device) handleStop(c *fiber.Ctx) error {
	d.received.Add(1)
	d.delay()
	d.sent.Add(1)
	return c.JSON(d.stop())
}

func (d *Device) handleStatus(c *fiber.Ctx) error {
	d.received.Add(1)
	d.delay()
	d.sent.Add(1)
	return c.JSON(d.status())
}

func (d *Device) handleInfo(c *fiber.Ctx) error {
	d.received.Add(1)
	d.delay()
	d.sent.Add(1)
	return c.JSON(d.info())
}

func (d *Device) handleSocket(c *websocket.Conn) {
	s := &socket{ID: uuid.NewString(), Conn: c, Connected: time.Now()}

	d.socketsMu.Lock()
	d.sockets[s.ID] = s
	count := len(d.sockets)
	d.socketsMu.Unlock()
	d.logger.Info("socket connected", "id", s.ID, "sockets", count)

	var inflight sync.WaitGroup
	defer func() {
		inflight.Wait()
		d.socketsMu.Lock()
		delete(d.sockets, s.ID)
		count := len(d.sockets)
		d.socketsMu.Unlock()
		d.logger.Info("socket disconnected", "id", s.ID, "sockets", count)
	}()

	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			d.logger.Debug("socket read ended", "id", s.ID, "error", err)
			return
		}

		// Replies may overtake each other when Latency is set.
		inflight.Add(1)
		go func() {
			defer inflight.Done()
			reply := d.Handle(data)
			if reply == nil {
				return
			}
			if err := s.write(reply); err != nil {
				d.logger.Warn("socket write failed", "id", s.ID, "error", err)
			}
		}()
	}
}

// Handle processes one asynchronous command frame and returns the encoded
// reply, or nil when nothing should be sent.
func (d *Device) Handle(frame []byte) []byte {
	d.received.Add(1)

	var msg protocol.CommandMessage
	if err := json.Unmarshal(frame, &msg); err != nil {
		d.logger.Warn("invalid command frame", "error", err)
		return d.encode("", errorReply("Invalid JSON"))
	}

	if d.opts.Silent {
		d.logger.Debug("silent, ignoring command", "command", msg.Command, "id", msg.ID)
		return nil
	}
	d.delay()

	var reply any
	switch msg.Command {
	case protocol.CommandMove:
		speed := 0
		if msg.Speed != nil {
			speed = *msg.Speed
		}
		reply = d.move(string(msg.Direction), speed, msg.Angle)
	case protocol.CommandStop:
		reply = d.stop()
	case protocol.CommandStatus:
		reply = d.status()
	case protocol.CommandInfo:
		reply = d.info()
	default:
		reply = errorReply("Unknown command")
	}

	return d.encode(msg.ID, reply)
}

// encode marshals reply and attaches id unless ids are omitted.
func (d *Device) encode(id string, reply any) []byte {
	data, err := json.Marshal(reply)
	if err != nil {
		d.logger.Error("encode reply", "error", err)
		return nil
	}
	if id != "" && !d.opts.OmitIDs {
		var fields map[string]any
		if err := json.Unmarshal(data, &fields); err == nil {
			fields["id"] = id
			if withID, err := json.Marshal(fields); err == nil {
				data = withID
			}
		}
	}
	d.sent.Add(1)
	return data
}

func (d *Device) move(direction string, speed int, angle *float64) *protocol.DeviceReply {
	if d.opts.FailMoves {
		return errorReply("Motor driver fault")
	}

	dir, err := protocol.ParseDirection(direction)
	if err != nil {
		return errorReply("Invalid direction")
	}
	if speed < protocol.MinSpeed || speed > protocol.MaxSpeed {
		return errorReply("Speed must be between 0 and 255")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.operationID++
	d.state = motorState{direction: dir, speed: speed, angle: angle, moving: true, since: time.Now()}
	d.logger.Debug("motors running", "direction", dir, "speed", speed)

	return &protocol.DeviceReply{
		Status:      protocol.StatusOK,
		Direction:   string(dir),
		Speed:       ptr(speed),
		Angle:       angle,
		Timestamp:   ptr(d.uptime()),
		OperationID: ptr(d.operationID),
		IsMoving:    ptr(true),
	}
}

func (d *Device) stop() *protocol.DeviceReply {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.state.moving = false
	d.state.speed = 0
	d.state.since = time.Now()
	d.logger.Debug("motors stopped")

	return &protocol.DeviceReply{
		Status:    protocol.StatusOK,
		Message:   "Stopped",
		Timestamp: ptr(d.uptime()),
		IsMoving:  ptr(false),
	}
}

func (d *Device) status() *protocol.StatusReply {
	d.mu.Lock()
	defer d.mu.Unlock()

	direction := "stop"
	if d.state.moving {
		direction = string(d.state.direction)
	}
	var opDuration int64
	if !d.state.since.IsZero() {
		opDuration = time.Since(d.state.since).Milliseconds()
	}

	return &protocol.StatusReply{
		Status:            protocol.StatusOK,
		CurrentDirection:  direction,
		CurrentSpeed:      ptr(d.state.speed),
		CurrentAngle:      d.state.angle,
		IsMoving:          ptr(d.state.moving),
		Uptime:            ptr(d.uptime()),
		OperationDuration: ptr(opDuration),
		WifiStatus:        "connected",
		IP:                d.opts.IP,
	}
}

func (d *Device) info() *protocol.InfoReply {
	return &protocol.InfoReply{
		Status:       protocol.StatusOK,
		PlatformName: d.opts.PlatformName,
		Version:      d.opts.Version,
		IP:           d.opts.IP,
		Endpoints:    []string{"/move", "/stop", "/status", "/"},
		Capabilities: &protocol.Capabilities{
			Directions: strings.Join([]string{
				string(protocol.Forward), string(protocol.Backward),
				string(protocol.Left), string(protocol.Right),
			}, ","),
			SpeedRange: "0-255",
		},
	}
}

func (d *Device) uptime() int64 {
	return time.Since(d.started).Milliseconds()
}

func (d *Device) delay() {
	if d.opts.Latency > 0 {
		time.Sleep(d.opts.Latency)
	}
}

func errorReply(msg string) *protocol.DeviceReply {
	return &protocol.DeviceReply{Status: protocol.StatusError, Message: msg}
}

func ptr[T any](v T) *T {
	return &v
}
