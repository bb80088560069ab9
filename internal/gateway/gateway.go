package gateway

import (
	"context"

	"github.com/pkg/errors"
)

var (
	ErrNotConnected   = errors.New("gateway not connected")
	ErrUnknownGateway = errors.New("unknown gateway")
)

// UpdateHandler receives a single circuit value reported by a gateway.
type UpdateHandler func(device, circuit string, value float64)

// Client is a wire-level gateway peer. A Client is driven by exactly one Manager:
// Connect, RegisterDefaultFilter, FullStateSync and Receive are never called
// concurrently with each other. Send may be called from any goroutine.
type Client interface {
	// Connect establishes the transport.
	Connect(ctx context.Context) error
	// RegisterDefaultFilter subscribes to the device classes this daemon handles.
	RegisterDefaultFilter(ctx context.Context) error
	// FullStateSync requests a snapshot of every circuit and reports each through h.
	FullStateSync(ctx context.Context, h UpdateHandler) error
	// Receive blocks until one batch of updates has been reported through h.
	// An error means the connection is gone.
	Receive(ctx context.Context, h UpdateHandler) error
	// Send sets a circuit. value is either a string or a map of extra set parameters.
	Send(ctx context.Context, device, circuit string, value interface{}) error
	// Close tears the transport down. It is safe to call on a closed client.
	Close() error
}

// Gateway is what entities need from a configured gateway: commands go out
// through Send, confirmed values are read back with CircuitState.
type Gateway interface {
	Name() string
	Send(ctx context.Context, device, circuit string, value interface{}) error
	CircuitState(device, circuit string) (float64, bool)
}
