package shutter

import (
	"context"

	"github.com/pkg/errors"
)

// Published states of a cover.
const (
	ShutterOpenState    = "open"
	ShutterClosedState  = "closed"
	ShutterOpeningState = "opening"
	ShutterClosingState = "closing"
	ShutterStoppedState = "stopped"
)

const (
	FullOpenPosition  = 100
	FullClosePosition = 0
)

var (
	ErrOutOfRange    = errors.New("out of range")
	ErrNotCalibrated = errors.New("position unknown, only 0 or 100 accepted")
)

type Status struct {
	State       string
	Position    Level
	Tilt        Level
	OperState   OperState
	ConfigState ConfigState
}

type ShutterUpdateHandler func(status Status)

type Shutter interface {
	Name() string

	Status() Status

	OnUpdate(h ShutterUpdateHandler)

	Open(ctx context.Context) error
	Close(ctx context.Context) error
	Stop(ctx context.Context) error
	SetPosition(ctx context.Context, position int) error
	SetTilt(ctx context.Context, tilt int) error
	OpenTilt(ctx context.Context) error
	CloseTilt(ctx context.Context) error
}

// StateFor maps confirmed motion and position to a published state.
func StateFor(oper OperState, position Level) string {
	switch oper {
	case OperOpening:
		return ShutterOpeningState
	case OperClosing:
		return ShutterClosingState
	}

	v, known := position.Value()
	switch {
	case !known:
		return ShutterStoppedState
	case v <= FullClosePosition:
		return ShutterClosedState
	}
	return ShutterOpenState
}
