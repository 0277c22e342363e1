package odometry

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/teslashibe/go-rover/pkg/protocol"
)

const floatTolerance = 1e-9

func floatEquals(a, b float64) bool {
	return math.Abs(a-b) < floatTolerance
}

// fakeClock is advanced manually by tests.
type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTracker(c *fakeClock) *Tracker {
	return New(DefaultConfig(), nil, WithClock(c.Now))
}

func fptr(v float64) *float64 { return &v }

// nominalDistance is the distance covered in one nominal 100ms interval.
func nominalDistance(speed int, r float64) float64 {
	return Distance(speed, 0.1, r, 200)
}

func TestDistance_FullSpeed(t *testing.T) {
	// 200 RPM for 0.1s is 1/3 of a revolution of a 3cm wheel.
	want := (200.0 / 60 * 0.1) * 2 * math.Pi * 0.03
	got := Distance(255, 0.1, 0.03, 200)
	if !floatEquals(got, want) {
		t.Errorf("Distance = %v, want %v", got, want)
	}
}

func TestDistance_MonotoneAndNonNegative(t *testing.T) {
	for _, dt := range []float64{0.001, 0.05, 0.1, 0.5, 1.0} {
		prev := -1.0
		for s := 0; s <= 255; s++ {
			d := Distance(s, dt, 0.03, 200)
			if d < 0 {
				t.Fatalf("Distance(%d, %v) = %v, want >= 0", s, dt, d)
			}
			if d < prev {
				t.Fatalf("Distance not monotone at speed %d dt %v: %v < %v", s, dt, d, prev)
			}
			prev = d
		}
	}
}

func TestDistance_ClampsSpeed(t *testing.T) {
	if d := Distance(-40, 0.1, 0.03, 200); d != 0 {
		t.Errorf("negative speed distance = %v, want 0", d)
	}
	if a, b := Distance(400, 0.1, 0.03, 200), Distance(255, 0.1, 0.03, 200); !floatEquals(a, b) {
		t.Errorf("speed above max = %v, want %v", a, b)
	}
}

func TestApply_IntervalClamping(t *testing.T) {
	tests := []struct {
		name    string
		advance time.Duration
		want    time.Duration
	}{
		{"no elapsed time", 0, 100 * time.Millisecond},
		{"within bound", 500 * time.Millisecond, 500 * time.Millisecond},
		{"exactly one second", time.Second, time.Second},
		{"long gap", 5 * time.Second, 100 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newFakeClock()
			tr := newTracker(clock)
			clock.Advance(tt.advance)

			step := tr.Apply(protocol.Forward, 255, nil)
			if step.Interval != tt.want {
				t.Errorf("Interval = %v, want %v", step.Interval, tt.want)
			}
			wantDist := Distance(255, tt.want.Seconds(), 0.03, 200)
			if !floatEquals(step.Distance, wantDist) {
				t.Errorf("Distance = %v, want %v", step.Distance, wantDist)
			}
		})
	}
}

func TestApply_ClockGoingBackwards(t *testing.T) {
	clock := newFakeClock()
	tr := newTracker(clock)
	clock.Advance(-time.Second)

	step := tr.Apply(protocol.Forward, 100, nil)
	if step.Interval != 100*time.Millisecond {
		t.Errorf("Interval = %v, want nominal", step.Interval)
	}
}

func TestApply_StraightMoves(t *testing.T) {
	d := nominalDistance(255, 0.03)

	tests := []struct {
		name      string
		direction protocol.Direction
		heading   *float64
		wantX     float64
		wantY     float64
	}{
		{"forward at zero heading", protocol.Forward, nil, d, 0},
		{"backward at zero heading", protocol.Backward, nil, -d, 0},
		{"forward at 90", protocol.Forward, fptr(90), d * math.Cos(math.Pi/2), d},
		{"backward at 180", protocol.Backward, fptr(180), d, -d * math.Sin(math.Pi)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newTracker(newFakeClock())
			step := tr.Apply(tt.direction, 255, tt.heading)

			p := tr.Pose()
			if !floatEquals(p.X, tt.wantX) || !floatEquals(p.Y, tt.wantY) {
				t.Errorf("pose = (%v, %v), want (%v, %v)", p.X, p.Y, tt.wantX, tt.wantY)
			}
			if !floatEquals(p.TotalDistance, d) {
				t.Errorf("TotalDistance = %v, want %v", p.TotalDistance, d)
			}
			if step.Turn != 0 {
				t.Errorf("Turn = %v, want 0 for straight move", step.Turn)
			}
			if step.Pose != p {
				t.Errorf("step pose %+v differs from tracker pose %+v", step.Pose, p)
			}
		})
	}
}

func TestApply_TurnsCappedAndWrapped(t *testing.T) {
	tr := newTracker(newFakeClock())

	// Full speed for 0.1s would turn ~36 degrees, capped at 10.
	step := tr.Apply(protocol.Left, 255, nil)
	if !floatEquals(tr.Pose().Heading, 350) {
		t.Errorf("heading after left = %v, want 350", tr.Pose().Heading)
	}
	if !floatEquals(step.Turn, -10) {
		t.Errorf("Turn = %v, want -10", step.Turn)
	}

	tr.Apply(protocol.Right, 255, nil)
	tr.Apply(protocol.Right, 255, nil)
	if !floatEquals(tr.Pose().Heading, 10) {
		t.Errorf("heading after two rights = %v, want 10", tr.Pose().Heading)
	}

	p := tr.Pose()
	if p.X != 0 || p.Y != 0 {
		t.Errorf("turns must not translate, got (%v, %v)", p.X, p.Y)
	}
	if !floatEquals(p.TotalDistance, 3*nominalDistance(255, 0.03)) {
		t.Errorf("TotalDistance = %v", p.TotalDistance)
	}
}

func TestApply_SlowTurnUncapped(t *testing.T) {
	tr := newTracker(newFakeClock())

	d := nominalDistance(10, 0.03)
	want := d / 0.1 * 180 / math.Pi

	tr.Apply(protocol.Right, 10, nil)
	if got := tr.Pose().Heading; !floatEquals(got, want) {
		t.Errorf("heading = %v, want %v", got, want)
	}
	if want >= 10 {
		t.Fatalf("test speed too high, turn %v is capped", want)
	}
}

func TestApply_HeadingOverrideReplacesTurn(t *testing.T) {
	tr := newTracker(newFakeClock())

	step := tr.Apply(protocol.Left, 255, fptr(45))
	if got := tr.Pose().Heading; !floatEquals(got, 45) {
		t.Errorf("heading = %v, want 45", got)
	}
	if !floatEquals(step.Turn, 45) {
		t.Errorf("Turn = %v, want 45", step.Turn)
	}

	tr.Apply(protocol.Right, 255, fptr(-30))
	if got := tr.Pose().Heading; !floatEquals(got, 330) {
		t.Errorf("negative override heading = %v, want 330", got)
	}

	tr.Apply(protocol.Forward, 0, fptr(720))
	if got := tr.Pose().Heading; !floatEquals(got, 0) {
		t.Errorf("override 720 heading = %v, want 0", got)
	}
}

func TestReset(t *testing.T) {
	clock := newFakeClock()
	tr := newTracker(clock)

	for i := 0; i < 5; i++ {
		clock.Advance(200 * time.Millisecond)
		tr.Apply(protocol.Forward, 200, nil)
		tr.Apply(protocol.Right, 200, nil)
	}
	if tr.Pose() == (Pose{}) {
		t.Fatal("expected non-zero pose before reset")
	}

	got := tr.Reset()
	if got != (Pose{}) || tr.Pose() != (Pose{}) {
		t.Errorf("Reset = %+v, Pose = %+v, want zero", got, tr.Pose())
	}

	// Interval measurement restarts from the reset instant.
	clock.Advance(300 * time.Millisecond)
	if step := tr.Apply(protocol.Forward, 255, nil); step.Interval != 300*time.Millisecond {
		t.Errorf("Interval after reset = %v, want 300ms", step.Interval)
	}
}

func TestSetWheelRadius_Validation(t *testing.T) {
	tr := newTracker(newFakeClock())

	for _, r := range []float64{0.005, 0.2, 0, -0.03, math.NaN()} {
		_, err := tr.SetWheelRadius(r)
		if err == nil {
			t.Errorf("SetWheelRadius(%v) succeeded, want error", r)
			continue
		}
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Errorf("SetWheelRadius(%v) error %T, want *ValidationError", r, err)
		}
		if !errors.Is(err, ErrInvalidWheelRadius) {
			t.Errorf("SetWheelRadius(%v) error does not wrap ErrInvalidWheelRadius", r)
		}
	}
	if tr.WheelRadius() != 0.03 {
		t.Errorf("radius changed after rejected updates: %v", tr.WheelRadius())
	}

	for _, r := range []float64{MinWheelRadius, MaxWheelRadius} {
		if _, err := tr.SetWheelRadius(r); err != nil {
			t.Errorf("SetWheelRadius(%v) = %v, want nil at bound", r, err)
		}
	}
}

func TestSetWheelRadius_ScalesDistance(t *testing.T) {
	base := newTracker(newFakeClock())
	baseStep := base.Apply(protocol.Forward, 255, nil)

	tr := newTracker(newFakeClock())
	old, err := tr.SetWheelRadius(0.05)
	if err != nil {
		t.Fatalf("SetWheelRadius(0.05): %v", err)
	}
	if old != 0.03 {
		t.Errorf("old radius = %v, want 0.03", old)
	}
	step := tr.Apply(protocol.Forward, 255, nil)

	ratio := step.Distance / baseStep.Distance
	if !floatEquals(ratio, 0.05/0.03) {
		t.Errorf("distance ratio = %v, want %v", ratio, 0.05/0.03)
	}
}

func TestWrapDegrees(t *testing.T) {
	tests := []struct{ in, want float64 }{
		{0, 0}, {359.5, 359.5}, {360, 0}, {-10, 350}, {725, 5}, {-360, 0},
	}
	for _, tt := range tests {
		if got := wrapDegrees(tt.in); !floatEquals(got, tt.want) {
			t.Errorf("wrapDegrees(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
