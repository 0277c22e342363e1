// Package platform composes the transport switchboard and the odometry
// tracker into the rover's command operations.
package platform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-rover/pkg/channel"
	"github.com/teslashibe/go-rover/pkg/odometry"
	"github.com/teslashibe/go-rover/pkg/protocol"
	"github.com/teslashibe/go-rover/pkg/switchboard"
)

// Service runs move, stop, status and info commands against whichever
// transport the caller asks for, keeps the pose estimate, and records every
// accepted move.
type Service struct {
	board    *switchboard.Switchboard
	tracker  *odometry.Tracker
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time

	// mu orders pose updates with their history entries.
	mu      sync.Mutex
	history []HistoryEntry
}

// New creates a Service. A nil notifier discards events.
func New(board *switchboard.Switchboard, tracker *odometry.Tracker, notifier Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}
	s := &Service{
		board:    board,
		tracker:  tracker,
		notifier: notifier,
		logger:   logger.With("component", "platform"),
		now:      time.Now,
	}
	board.OnStatus(func(msg string, failed bool) {
		if failed {
			s.notifier.PublishError(msg)
			return
		}
		s.notifier.PublishStatus(msg)
	})
	return s
}

// Move sends cmd over cmd.Protocol and advances the pose when the device
// accepts it.
func (s *Service) Move(ctx context.Context, cmd protocol.MoveCommand) (*Result, error) {
	if err := cmd.Validate(); err != nil {
		s.notifier.PublishError("Invalid move command: " + err.Error())
		return nil, &ValidationError{Err: err}
	}

	ch, err := s.board.Ensure(ctx, cmd.Protocol)
	if err != nil {
		s.logger.Error("protocol switch failed", "protocol", cmd.Protocol, "error", err)
		s.notifier.PublishError("Failed to communicate: " + err.Error())
		return nil, err
	}

	reply := ch.SendMove(cmd)
	if !reply.OK() {
		return nil, s.deviceFailure("move", "Failed to communicate", replyMessage(reply))
	}

	heading := reply.Angle
	if heading == nil {
		heading = cmd.Angle
	}

	s.mu.Lock()
	step := s.tracker.Apply(cmd.Direction, cmd.Speed, heading)
	ts := s.now().UnixMilli()
	pos := positionOf(step.Pose)
	s.history = append(s.history, HistoryEntry{
		Direction:         cmd.Direction,
		Speed:             cmd.Speed,
		Timestamp:         ts,
		Position:          pos,
		Angle:             step.Pose.Heading,
		DistanceTravelled: step.Pose.TotalDistance,
	})
	s.mu.Unlock()

	s.logger.Info("move accepted",
		"protocol", ch.Protocol(),
		"direction", cmd.Direction,
		"speed", cmd.Speed,
		"distance", step.Distance,
		"x", pos.X,
		"y", pos.Y,
		"heading", step.Pose.Heading,
	)

	s.notifier.PublishUpdate(Update{
		Type:             PositionUpdate,
		Position:         &pos,
		Angle:            ptr(step.Pose.Heading),
		Speed:            ptr(cmd.Speed),
		Direction:        string(cmd.Direction),
		IsMoving:         ptr(true),
		DistanceTraveled: ptr(step.Pose.TotalDistance),
		Protocol:         ch.Protocol(),
		Timestamp:        ts,
	})

	return &Result{
		Status:            "success",
		Position:          pos,
		Direction:         string(cmd.Direction),
		Angle:             step.Pose.Heading,
		DistanceTravelled: step.Pose.TotalDistance,
	}, nil
}

// Stop halts the motors over the active transport. The pose is unchanged.
func (s *Service) Stop(ctx context.Context) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, s.cancelled("stop", "Failed to stop", err)
	}

	ch := s.board.Active()
	reply := ch.SendStop()
	if !reply.OK() {
		return nil, s.deviceFailure("stop", "Failed to stop", replyMessage(reply))
	}

	pose := s.tracker.Pose()
	pos := positionOf(pose)
	s.notifier.PublishUpdate(Update{
		Type:             PositionUpdate,
		Position:         &pos,
		Angle:            ptr(pose.Heading),
		Speed:            ptr(0),
		Direction:        "stop",
		IsMoving:         ptr(false),
		DistanceTraveled: ptr(pose.TotalDistance),
		Protocol:         ch.Protocol(),
		Timestamp:        s.now().UnixMilli(),
	})
	s.logger.Info("stopped", "protocol", ch.Protocol())

	return &Result{
		Position:          pos,
		Angle:             pose.Heading,
		DistanceTravelled: pose.TotalDistance,
	}, nil
}

// Status queries the device over the active transport.
func (s *Service) Status(ctx context.Context) (*protocol.StatusReply, error) {
	if err := ctx.Err(); err != nil {
		return nil, s.cancelled("status", "Status check failed", err)
	}

	reply := s.board.Active().GetStatus()
	if reply == nil {
		return nil, s.deviceFailure("status", "Status check failed", "null response")
	}
	if !reply.OK() {
		return nil, s.deviceFailure("status", "Status check failed", reply.Message)
	}

	pose := s.tracker.Pose()
	pos := positionOf(pose)
	angle := pose.Heading
	if reply.CurrentAngle != nil {
		angle = *reply.CurrentAngle
	}
	s.notifier.PublishUpdate(Update{
		Type:      StatusUpdate,
		Position:  &pos,
		Angle:     &angle,
		Speed:     reply.CurrentSpeed,
		Direction: reply.CurrentDirection,
		IsMoving:  reply.IsMoving,
		Timestamp: s.now().UnixMilli(),
	})
	return reply, nil
}

// Info fetches the device self-description over the active transport.
func (s *Service) Info(ctx context.Context) (*protocol.InfoReply, error) {
	if err := ctx.Err(); err != nil {
		return nil, s.cancelled("info", "Info request failed", err)
	}

	reply := s.board.Active().GetInfo()
	if reply == nil {
		return nil, s.deviceFailure("info", "Info request failed", "null response")
	}
	if !reply.OK() {
		return nil, s.deviceFailure("info", "Info request failed", reply.Message)
	}
	return reply, nil
}

// Position returns the current pose.
func (s *Service) Position() PositionReport {
	p := s.tracker.Pose()
	return PositionReport{X: p.X, Y: p.Y, DistanceTravelled: p.TotalDistance, Angle: p.Heading}
}

// History returns a copy of the move log in insertion order.
func (s *Service) History() []HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]HistoryEntry, len(s.history))
	copy(out, s.history)
	return out
}

// ResetPose returns the pose to the origin. History is kept.
func (s *Service) ResetPose() Result {
	s.mu.Lock()
	s.tracker.Reset()
	s.mu.Unlock()

	s.notifier.PublishUpdate(Update{
		Type:             PositionUpdate,
		Position:         &Position{},
		Angle:            ptr(0.0),
		DistanceTraveled: ptr(0.0),
		Message:          "Position reset to origin",
		Timestamp:        s.now().UnixMilli(),
	})
	return Result{Position: Position{}}
}

// SetWheelRadius updates the wheel radius used for distance estimates.
func (s *Service) SetWheelRadius(r float64) error {
	old, err := s.tracker.SetWheelRadius(r)
	if err != nil {
		s.notifier.PublishError("Wheel radius update rejected: " + err.Error())
		return &ValidationError{Err: err}
	}

	s.logger.Info("wheel radius changed", "old", old, "new", r)
	s.notifier.PublishUpdate(Update{
		Type: ConfigUpdate,
		Message: fmt.Sprintf("Wheel radius updated to %.3fm (circumference: %.4fm)",
			r, odometry.Circumference(r)),
		Timestamp: s.now().UnixMilli(),
	})
	return nil
}

// WheelRadius returns the wheel radius in meters.
func (s *Service) WheelRadius() float64 {
	return s.tracker.WheelRadius()
}

// Protocol returns the active transport.
func (s *Service) Protocol() protocol.Protocol {
	return s.board.Current()
}

// Connected reports whether the active transport is usable.
func (s *Service) Connected() bool {
	return s.board.Active().IsConnected()
}

// Close disconnects the active transport.
func (s *Service) Close() error {
	if err := s.board.Close(); err != nil && !errors.Is(err, channel.ErrDisconnected) {
		return fmt.Errorf("platform: close: %w", err)
	}
	return nil
}

func (s *Service) deviceFailure(op, prefix, msg string) error {
	s.logger.Error("device error", "op", op, "message", msg)
	s.notifier.PublishError(prefix + ": ESP32 error: " + msg)
	return &DeviceError{Op: op, Message: msg}
}

func (s *Service) cancelled(op, prefix string, err error) error {
	s.logger.Warn("request cancelled", "op", op, "error", err)
	s.notifier.PublishError(prefix + ": " + err.Error())
	return err
}

func replyMessage(r *protocol.DeviceReply) string {
	if r == nil {
		return "Unknown error"
	}
	if r.Message == "" {
		return "Unknown error"
	}
	return r.Message
}

func ptr[T any](v T) *T {
	return &v
}
