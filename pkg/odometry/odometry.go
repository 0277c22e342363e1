// Package odometry estimates the rover pose from the motor commands it
// accepts. There is no wheel encoder feedback; every estimate is open loop.
package odometry

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/teslashibe/go-rover/pkg/protocol"
)

// Wheel radius limits in meters.
const (
	MinWheelRadius = 0.01
	MaxWheelRadius = 0.1
)

// Config holds the drivetrain model.
type Config struct {
	WheelRadius float64 // meters
	MaxRPM      float64 // wheel RPM at speed 255
	Wheelbase   float64 // meters between wheels

	// NominalInterval replaces a measured interval that is non-positive or
	// longer than MaxInterval.
	NominalInterval time.Duration
	MaxInterval     time.Duration

	// MaxTurnPerTick caps the heading change of one turn command, in degrees.
	MaxTurnPerTick float64
}

// DefaultConfig returns the drivetrain of the stock rover.
func DefaultConfig() Config {
	return Config{
		WheelRadius:     0.03,
		MaxRPM:          200,
		Wheelbase:       0.2,
		NominalInterval: 100 * time.Millisecond,
		MaxInterval:     time.Second,
		MaxTurnPerTick:  10,
	}
}

// Pose is the estimated position. Heading is in degrees within [0, 360).
type Pose struct {
	X             float64 `json:"x"`
	Y             float64 `json:"y"`
	Heading       float64 `json:"heading"`
	TotalDistance float64 `json:"totalDistance"`
}

// Step describes what a single Apply did.
type Step struct {
	Direction protocol.Direction
	Speed     int
	Interval  time.Duration
	Distance  float64
	Turn      float64 // signed heading change in degrees, 0 for straight moves
	Pose      Pose    // pose after the step
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

// Tracker is the single writer of the pose.
type Tracker struct {
	logger *slog.Logger
	now    func() time.Time

	mu   sync.RWMutex
	cfg  Config
	pose Pose
	last time.Time
}

// New creates a tracker at the origin.
func New(cfg Config, logger *slog.Logger, opts ...Option) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.MaxRPM <= 0 {
		cfg.MaxRPM = def.MaxRPM
	}
	if cfg.Wheelbase <= 0 {
		cfg.Wheelbase = def.Wheelbase
	}
	if cfg.WheelRadius <= 0 {
		cfg.WheelRadius = def.WheelRadius
	}
	if cfg.NominalInterval <= 0 {
		cfg.NominalInterval = def.NominalInterval
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = def.MaxInterval
	}
	if cfg.MaxTurnPerTick <= 0 {
		cfg.MaxTurnPerTick = def.MaxTurnPerTick
	}

	t := &Tracker{
		logger: logger.With("component", "odometry"),
		now:    time.Now,
		cfg:    cfg,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.last = t.now()
	return t
}

// Distance returns meters covered by a wheel of the given radius running at
// speed (0-255, clamped) for dt seconds.
func Distance(speed int, dt, radius, maxRPM float64) float64 {
	fraction := clamp(float64(speed), protocol.MinSpeed, protocol.MaxSpeed) / protocol.MaxSpeed
	rpm := maxRPM * fraction
	rotations := rpm / 60 * dt
	return rotations * 2 * math.Pi * radius
}

// Apply advances the pose for one accepted move command. A non-nil heading
// (reported by the device or requested by the caller) is taken as the
// current heading before moving, and replaces the computed turn for left and
// right commands.
func (t *Tracker) Apply(direction protocol.Direction, speed int, heading *float64) Step {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	interval := now.Sub(t.last)
	t.last = now
	if interval <= 0 || interval > t.cfg.MaxInterval {
		interval = t.cfg.NominalInterval
	}

	distance := Distance(speed, interval.Seconds(), t.cfg.WheelRadius, t.cfg.MaxRPM)
	before := t.pose.Heading
	if heading != nil {
		t.pose.Heading = wrapDegrees(*heading)
	}

	// An explicit heading is the heading after the turn, so turns only
	// rotate when none was given.
	switch direction {
	case protocol.Forward:
		t.translate(distance)
	case protocol.Backward:
		t.translate(-distance)
	case protocol.Left:
		if heading == nil {
			t.pose.Heading = wrapDegrees(t.pose.Heading - t.turnAngle(distance))
		}
	case protocol.Right:
		if heading == nil {
			t.pose.Heading = wrapDegrees(t.pose.Heading + t.turnAngle(distance))
		}
	}
	t.pose.TotalDistance += math.Abs(distance)

	step := Step{
		Direction: direction,
		Speed:     speed,
		Interval:  interval,
		Distance:  distance,
		Pose:      t.pose,
	}
	if direction == protocol.Left || direction == protocol.Right {
		step.Turn = signedDelta(before, t.pose.Heading)
	}

	t.logger.Debug("pose advanced",
		"direction", direction,
		"speed", speed,
		"dt", interval,
		"distance", distance,
		"x", t.pose.X,
		"y", t.pose.Y,
		"heading", t.pose.Heading,
		"total", t.pose.TotalDistance,
	)
	return step
}

// Reset returns the pose to the origin and restarts interval measurement.
func (t *Tracker) Reset() Pose {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.pose = Pose{}
	t.last = t.now()
	t.logger.Info("pose reset to origin")
	return t.pose
}

// Pose returns a snapshot of the current pose.
func (t *Tracker) Pose() Pose {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.pose
}

// WheelRadius returns the configured wheel radius in meters.
func (t *Tracker) WheelRadius() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cfg.WheelRadius
}

// SetWheelRadius validates and applies a new wheel radius, returning the
// previous one.
func (t *Tracker) SetWheelRadius(r float64) (float64, error) {
	if math.IsNaN(r) || r < MinWheelRadius || r > MaxWheelRadius {
		return 0, &ValidationError{
			Field: "wheel radius",
			Value: r,
			Min:   MinWheelRadius,
			Max:   MaxWheelRadius,
			Err:   ErrInvalidWheelRadius,
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	old := t.cfg.WheelRadius
	t.cfg.WheelRadius = r
	t.logger.Info("wheel radius updated", "old", old, "new", r, "circumference", Circumference(r))
	return old, nil
}

// Circumference returns the wheel circumference for radius r.
func Circumference(r float64) float64 {
	return 2 * math.Pi * r
}

func (t *Tracker) translate(distance float64) {
	rad := t.pose.Heading * math.Pi / 180
	t.pose.X += distance * math.Cos(rad)
	t.pose.Y += distance * math.Sin(rad)
}

// turnAngle converts wheel travel into a heading change for an in-place turn.
func (t *Tracker) turnAngle(distance float64) float64 {
	deg := distance / (t.cfg.Wheelbase / 2) * 180 / math.Pi
	return math.Min(deg, t.cfg.MaxTurnPerTick)
}

// clamp restricts v to the range [min, max].
func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func wrapDegrees(d float64) float64 {
	d = math.Mod(d, 360)
	if d < 0 {
		d += 360
	}
	if d >= 360 {
		d -= 360
	}
	return d
}

// signedDelta returns the shortest signed rotation from a to b in degrees.
func signedDelta(a, b float64) float64 {
	return math.Mod(b-a+540, 360) - 180
}
