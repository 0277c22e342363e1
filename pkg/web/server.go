// Package web serves the rover control API and its live update sockets.
package web

import (
	"context"
	"log/slog"
	"net"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/teslashibe/go-rover/pkg/hub"
	"github.com/teslashibe/go-rover/pkg/platform"
	"github.com/teslashibe/go-rover/pkg/protocol"
	"golang.org/x/time/rate"
)

// Platform is the command surface the API drives.
type Platform interface {
	Move(ctx context.Context, cmd protocol.MoveCommand) (*platform.Result, error)
	Stop(ctx context.Context) (*platform.Result, error)
	Status(ctx context.Context) (*protocol.StatusReply, error)
	Info(ctx context.Context) (*protocol.InfoReply, error)
	Position() platform.PositionReport
	History() []platform.HistoryEntry
	ResetPose() platform.Result
	SetWheelRadius(r float64) error
	WheelRadius() float64
	Protocol() protocol.Protocol
	Connected() bool
}

// Config configures the API server.
type Config struct {
	Port        string
	CORSOrigins []string

	// MoveRate and MoveBurst bound POST /move. MoveRate <= 0 disables the limit.
	MoveRate  float64
	MoveBurst int
}

// Server is the API server. It also implements platform.Notifier by pushing
// events to its websocket hubs.
type Server struct {
	app      *fiber.App
	cfg      Config
	logger   *slog.Logger
	platform Platform
	limiter  *rate.Limiter

	updatesHub *hub.Hub
	errorsHub  *hub.Hub
	statusHub  *hub.Hub
}

var _ platform.Notifier = (*Server)(nil)

// NewServer builds the app and its routes. Call SetPlatform before serving.
func NewServer(cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "web")

	s := &Server{
		cfg:        cfg,
		logger:     logger,
		updatesHub: hub.New("updates", logger),
		errorsHub:  hub.New("errors", logger),
		statusHub:  hub.New("status", logger),
	}
	if cfg.MoveRate > 0 {
		burst := cfg.MoveBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.MoveRate), burst)
	}

	app := fiber.New(fiber.Config{
		AppName:               "Rover Control",
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})

	origins := "*"
	if len(cfg.CORSOrigins) > 0 {
		origins = strings.Join(cfg.CORSOrigins, ",")
	}
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowMethods: "GET,POST,PATCH,OPTIONS",
		AllowHeaders: "Content-Type",
	}))

	app.Get("/health", s.handleHealth)

	api := app.Group("/api/v1", s.requirePlatform)
	api.Post("/move", s.handleMove)
	api.Get("/stop", s.handleStop)
	api.Get("/position", s.handlePosition)
	api.Get("/history", s.handleHistory)
	api.Post("/reset", s.handleReset)
	api.Get("/esp32/status", s.handleDeviceStatus)
	api.Get("/esp32/info", s.handleDeviceInfo)
	api.Patch("/radius/update", s.handleRadiusUpdate)
	api.Get("/protocol", s.handleProtocol)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/updates", websocket.New(s.subscribe(s.updatesHub)))
	app.Get("/ws/errors", websocket.New(s.subscribe(s.errorsHub)))
	app.Get("/ws/status", websocket.New(s.subscribe(s.statusHub)))

	s.app = app
	return s
}

// SetPlatform attaches the command surface.
func (s *Server) SetPlatform(p Platform) {
	s.platform = p
}

// App exposes the fiber app, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Start runs the hubs and serves on the configured port until Shutdown.
func (s *Server) Start() error {
	s.startHubs()
	s.logger.Info("api listening", "addr", ":"+s.cfg.Port)
	return s.app.Listen(":" + s.cfg.Port)
}

// Serve runs the hubs and serves on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.startHubs()
	s.logger.Info("api listening", "addr", ln.Addr().String())
	return s.app.Listener(ln)
}

func (s *Server) startHubs() {
	go s.updatesHub.Run()
	go s.errorsHub.Run()
	go s.statusHub.Run()
}

// Shutdown stops the hubs and the server.
func (s *Server) Shutdown() error {
	s.updatesHub.Stop()
	s.errorsHub.Stop()
	s.statusHub.Stop()
	return s.app.Shutdown()
}

// PublishUpdate pushes a pose, status or config event to /ws/updates.
func (s *Server) PublishUpdate(u platform.Update) {
	if err := s.updatesHub.BroadcastJSON(u); err != nil {
		s.logger.Warn("encode update", "error", err)
	}
}

// PublishError pushes an error notice to /ws/errors.
func (s *Server) PublishError(msg string) {
	if err := s.errorsHub.BroadcastJSON(hub.NewEnvelope(string(platform.ErrorUpdate), msg)); err != nil {
		s.logger.Warn("encode error notice", "error", err)
	}
}

// PublishStatus pushes a transport status notice to /ws/status.
func (s *Server) PublishStatus(msg string) {
	if err := s.statusHub.BroadcastJSON(hub.NewEnvelope("STATUS", msg)); err != nil {
		s.logger.Warn("encode status notice", "error", err)
	}
}

func (s *Server) subscribe(h *hub.Hub) func(*websocket.Conn) {
	return func(c *websocket.Conn) {
		hub.NewClient(h, c).Run()
	}
}
