package shutter

import (
	"fmt"
	"math"
	"time"
)

// Level is a 0-100 percentage that stays unknown until a full range movement
// calibrates it.
type Level struct {
	value float64
	known bool
}

var Unknown = Level{}

func Known(v float64) Level {
	return Level{value: clamp(v), known: true}
}

func (l Level) Value() (float64, bool) {
	return l.value, l.known
}

func (l Level) Known() bool {
	return l.known
}

// Percent returns the value rounded to a whole percent.
func (l Level) Percent() (int, bool) {
	return int(math.Round(l.value)), l.known
}

func (l Level) String() string {
	if !l.known {
		return "unknown"
	}
	return fmt.Sprintf("%.1f", l.value)
}

func clamp(v float64) float64 {
	return math.Max(FullClosePosition, math.Min(FullOpenPosition, v))
}

// Timing holds the configured travel durations of a cover.
type Timing struct {
	FullOpen   time.Duration
	FullClose  time.Duration
	TiltChange time.Duration
}

// Interpolate estimates position and tilt after the cover has been moving in
// oper direction since start. When the cover is not moving, or start is zero,
// the stored levels are returned unchanged. An unknown level becomes known once
// the movement has lasted for the full travel of that level.
func Interpolate(oper OperState, start, now time.Time, position, tilt Level, timing Timing) (Level, Level) {
	if start.IsZero() || (oper != OperOpening && oper != OperClosing) {
		return position, tilt
	}

	elapsed := now.Sub(start)
	if elapsed < 0 {
		elapsed = 0
	}

	if oper == OperOpening {
		return advance(position, elapsed, timing.FullOpen, 1), advance(tilt, elapsed, timing.TiltChange, 1)
	}
	return advance(position, elapsed, timing.FullClose, -1), advance(tilt, elapsed, timing.TiltChange, -1)
}

func advance(l Level, elapsed, full time.Duration, direction float64) Level {
	if elapsed >= full {
		if direction > 0 {
			return Known(FullOpenPosition)
		}
		return Known(FullClosePosition)
	}
	if !l.known {
		return Unknown
	}

	change := float64(elapsed) * 100 / float64(full)
	return Known(l.value + direction*change)
}
