package web

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/teslashibe/go-rover/pkg/channel"
	"github.com/teslashibe/go-rover/pkg/platform"
	"github.com/teslashibe/go-rover/pkg/protocol"
	"github.com/teslashibe/go-rover/pkg/switchboard"
)

func badRequest(msg string) error {
	return fiber.NewError(fiber.StatusBadRequest, msg)
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe.Code
	case errors.Is(err, platform.ErrInvalid),
		errors.Is(err, protocol.ErrSpeedRange),
		errors.Is(err, protocol.ErrUnknownDirection),
		errors.Is(err, protocol.ErrUnknownProtocol):
		return fiber.StatusBadRequest
	case errors.Is(err, platform.ErrDevice):
		return fiber.StatusBadGateway
	case errors.Is(err, switchboard.ErrSwitchFailed),
		errors.Is(err, channel.ErrConnection):
		return fiber.StatusServiceUnavailable
	}
	return fiber.StatusInternalServerError
}

// handleError is the app-wide error handler.
func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := statusFor(err)
	if code >= fiber.StatusInternalServerError {
		s.logger.Error("request failed", "method", c.Method(), "path", c.Path(), "status", code, "error", err)
	} else {
		s.logger.Debug("request rejected", "method", c.Method(), "path", c.Path(), "status", code, "error", err)
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}

func (s *Server) requirePlatform(c *fiber.Ctx) error {
	if s.platform == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "platform not ready")
	}
	return c.Next()
}

// handleMove validates and forwards a move command.
func (s *Server) handleMove(c *fiber.Ctx) error {
	if s.limiter != nil && !s.limiter.Allow() {
		return fiber.NewError(fiber.StatusTooManyRequests, "move rate limit exceeded")
	}

	var cmd protocol.MoveCommand
	if err := c.BodyParser(&cmd); err != nil {
		return badRequest("invalid move command: " + err.Error())
	}
	if cmd.Protocol == "" {
		cmd.Protocol = s.platform.Protocol()
	}

	res, err := s.platform.Move(c.UserContext(), cmd)
	if err != nil {
		return err
	}
	return c.JSON(res)
}

func (s *Server) handleStop(c *fiber.Ctx) error {
	res, err := s.platform.Stop(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(res)
}

func (s *Server) handlePosition(c *fiber.Ctx) error {
	return c.JSON(s.platform.Position())
}

func (s *Server) handleHistory(c *fiber.Ctx) error {
	return c.JSON(s.platform.History())
}

func (s *Server) handleReset(c *fiber.Ctx) error {
	return c.JSON(s.platform.ResetPose())
}

func (s *Server) handleDeviceStatus(c *fiber.Ctx) error {
	reply, err := s.platform.Status(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(reply)
}

func (s *Server) handleDeviceInfo(c *fiber.Ctx) error {
	reply, err := s.platform.Info(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(reply)
}

// handleRadiusUpdate takes the new radius in meters from ?radius=.
func (s *Server) handleRadiusUpdate(c *fiber.Ctx) error {
	raw := c.Query("radius")
	if raw == "" {
		return badRequest("radius query parameter is required")
	}
	r, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return badRequest("radius must be a number")
	}
	if err := s.platform.SetWheelRadius(r); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"radius": s.platform.WheelRadius()})
}

func (s *Server) handleProtocol(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"protocol":  s.platform.Protocol(),
		"connected": s.platform.Connected(),
		"available": protocol.Protocols,
	})
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	if s.platform == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "starting"})
	}
	return c.JSON(fiber.Map{
		"status":    "ok",
		"protocol":  s.platform.Protocol(),
		"connected": s.platform.Connected(),
		"clients": fiber.Map{
			"updates": s.updatesHub.ClientCount(),
			"errors":  s.errorsHub.ClientCount(),
			"status":  s.statusHub.ClientCount(),
		},
	})
}
