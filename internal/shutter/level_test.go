package shutter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var timing = Timing{FullOpen: 20 * time.Second, FullClose: 18 * time.Second, TiltChange: 1500 * time.Millisecond}

func TestInterpolate(t *testing.T) {
	t0 := time.Unix(1000, 0)

	t.Run("opening is linear over full open time", func(t *testing.T) {
		for _, d := range []time.Duration{0, time.Second, 5 * time.Second, 13*time.Second + 300*time.Millisecond, 20 * time.Second} {
			pos, _ := Interpolate(OperOpening, t0, t0.Add(d), Known(10), Known(0), timing)
			v, known := pos.Value()
			assert.True(t, known)
			assert.InDelta(t, min(100, 10+d.Seconds()*100/20), v, 1e-9, d.String())
		}
	})

	t.Run("full open time lands exactly on 100", func(t *testing.T) {
		pos, tilt := Interpolate(OperOpening, t0, t0.Add(20*time.Second), Known(37.3), Known(12), timing)
		assert.Equal(t, Known(100), pos)
		assert.Equal(t, Known(100), tilt)
	})

	t.Run("closing uses full close time and clamps at 0", func(t *testing.T) {
		pos, tilt := Interpolate(OperClosing, t0, t0.Add(9*time.Second), Known(60), Known(100), timing)
		v, _ := pos.Value()
		assert.InDelta(t, 10, v, 1e-9)
		assert.Equal(t, Known(0), tilt)

		pos, _ = Interpolate(OperClosing, t0, t0.Add(17*time.Second), Known(5), Known(100), timing)
		assert.Equal(t, Known(0), pos)
	})

	t.Run("tilt moves over tilt change time", func(t *testing.T) {
		_, tilt := Interpolate(OperOpening, t0, t0.Add(750*time.Millisecond), Known(0), Known(0), timing)
		v, _ := tilt.Value()
		assert.InDelta(t, 50, v, 1e-9)
	})

	t.Run("idle or unset start returns stored levels", func(t *testing.T) {
		pos, tilt := Interpolate(OperIdle, t0, t0.Add(time.Hour), Known(42), Unknown, timing)
		assert.Equal(t, Known(42), pos)
		assert.Equal(t, Unknown, tilt)

		pos, _ = Interpolate(OperOpening, time.Time{}, t0, Known(42), Unknown, timing)
		assert.Equal(t, Known(42), pos)
	})

	t.Run("unknown levels are calibrated only by a full travel", func(t *testing.T) {
		pos, tilt := Interpolate(OperOpening, t0, t0.Add(2*time.Second), Unknown, Unknown, timing)
		assert.Equal(t, Unknown, pos)
		assert.Equal(t, Known(100), tilt)

		pos, _ = Interpolate(OperOpening, t0, t0.Add(25*time.Second), Unknown, Unknown, timing)
		assert.Equal(t, Known(100), pos)
	})
}

func TestOperStateFor(t *testing.T) {
	assert.Equal(t, OperIdle, OperStateFor(false, false))
	assert.Equal(t, OperClosing, OperStateFor(false, true))
	assert.Equal(t, OperOpening, OperStateFor(true, false))
	assert.Equal(t, OperError, OperStateFor(true, true))
}

func TestStateFor(t *testing.T) {
	assert.Equal(t, ShutterOpeningState, StateFor(OperOpening, Unknown))
	assert.Equal(t, ShutterClosingState, StateFor(OperClosing, Known(0)))
	assert.Equal(t, ShutterClosedState, StateFor(OperIdle, Known(0)))
	assert.Equal(t, ShutterOpenState, StateFor(OperIdle, Known(0.4)))
	assert.Equal(t, ShutterStoppedState, StateFor(OperIdle, Unknown))
	assert.Equal(t, ShutterOpenState, StateFor(OperError, Known(50)))
}

func TestLevelPercent(t *testing.T) {
	p, known := Known(49.6).Percent()
	assert.True(t, known)
	assert.Equal(t, 50, p)
	assert.Equal(t, Known(100), Known(130))
	assert.Equal(t, "unknown", Unknown.String())
}
