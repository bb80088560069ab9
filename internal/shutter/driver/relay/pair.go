package relay

import (
	"context"

	"github.com/jkaflik/neuron2mqtt/internal/shutter"
)

// Pair drives a motor through an up and a down relay. The opposite relay is
// always released before one is energized.
type Pair struct {
	Up   Relay
	Down Relay
}

func NewRelayPair(up, down Relay) Pair {
	return Pair{Up: up, Down: down}
}

func (p Pair) Open(ctx context.Context) error {
	if err := p.Down.Set(ctx, false); err != nil {
		return err
	}
	return p.Up.Set(ctx, true)
}

func (p Pair) Close(ctx context.Context) error {
	if err := p.Up.Set(ctx, false); err != nil {
		return err
	}
	return p.Down.Set(ctx, true)
}

// Release turns both relays off. The down relay is released even if releasing
// the up relay failed.
func (p Pair) Release(ctx context.Context) error {
	upErr := p.Up.Set(ctx, false)
	downErr := p.Down.Set(ctx, false)
	if upErr != nil {
		return upErr
	}
	return downErr
}

// OperState derives the confirmed motion from both relays.
func (p Pair) OperState() shutter.OperState {
	return shutter.OperStateFor(p.Up.IsEnabled(), p.Down.IsEnabled())
}
