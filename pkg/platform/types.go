package platform

import (
	"github.com/teslashibe/go-rover/pkg/odometry"
	"github.com/teslashibe/go-rover/pkg/protocol"
)

// UpdateType discriminates live update events.
type UpdateType string

const (
	PositionUpdate UpdateType = "POSITION_UPDATE"
	StatusUpdate   UpdateType = "STATUS_UPDATE"
	ConfigUpdate   UpdateType = "CONFIG_UPDATE"
	ErrorUpdate    UpdateType = "ERROR"
)

// Position is a planar coordinate in meters.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func positionOf(p odometry.Pose) Position {
	return Position{X: p.X, Y: p.Y}
}

// Update is pushed to live subscribers after state changes.
type Update struct {
	Type             UpdateType        `json:"type"`
	Position         *Position         `json:"position,omitempty"`
	Angle            *float64          `json:"angle,omitempty"`
	Speed            *int              `json:"speed,omitempty"`
	Direction        string            `json:"direction,omitempty"`
	IsMoving         *bool             `json:"isMoving,omitempty"`
	DistanceTraveled *float64          `json:"distanceTraveled,omitempty"`
	Message          string            `json:"message,omitempty"`
	Protocol         protocol.Protocol `json:"protocol,omitempty"`
	Timestamp        int64             `json:"timestamp"`
}

// Notifier fans updates out to subscribers. Implementations must not block.
type Notifier interface {
	PublishUpdate(u Update)
	PublishError(msg string)
	PublishStatus(msg string)
}

type nopNotifier struct{}

func (nopNotifier) PublishUpdate(Update) {}
func (nopNotifier) PublishError(string)  {}
func (nopNotifier) PublishStatus(string) {}

// Result is returned by pose-affecting operations.
type Result struct {
	Status            string   `json:"status,omitempty"`
	Position          Position `json:"position"`
	Direction         string   `json:"direction,omitempty"`
	Angle             float64  `json:"angle"`
	DistanceTravelled float64  `json:"distanceTravelled"`
}

// PositionReport is the current pose as served to clients.
type PositionReport struct {
	X                 float64 `json:"x"`
	Y                 float64 `json:"y"`
	DistanceTravelled float64 `json:"distanceTravelled"`
	Angle             float64 `json:"angle"`
}

// HistoryEntry records one accepted move. Entries are never modified.
type HistoryEntry struct {
	Direction         protocol.Direction `json:"direction"`
	Speed             int                `json:"speed"`
	Timestamp         int64              `json:"timestamp"`
	Position          Position           `json:"position"`
	Angle             float64            `json:"angle"`
	DistanceTravelled float64            `json:"distanceTravelled"`
}
