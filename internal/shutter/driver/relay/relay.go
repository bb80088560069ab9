package relay

import (
	"context"

	"github.com/jkaflik/neuron2mqtt/internal/bus"
	"github.com/jkaflik/neuron2mqtt/internal/gateway"
	"github.com/sirupsen/logrus"
)

// Relay is a drive output whose confirmed state arrives asynchronously.
type Relay interface {
	Set(ctx context.Context, on bool) error
	IsEnabled() bool
	Topic() bus.Topic
}

// Circuit is a relay output on a gateway. Commands go out through the gateway;
// IsEnabled reads the value the gateway last confirmed.
type Circuit struct {
	gateway gateway.Gateway
	device  string
	circuit string
}

func NewCircuit(gw gateway.Gateway, device, circuit string) *Circuit {
	return &Circuit{gateway: gw, device: device, circuit: circuit}
}

func (r *Circuit) Set(ctx context.Context, on bool) error {
	value := "0"
	if on {
		value = "1"
	}

	logrus.Tracef("%s: relay %s/%s set %s", r.gateway.Name(), r.device, r.circuit, value)
	return r.gateway.Send(ctx, r.device, r.circuit, value)
}

func (r *Circuit) IsEnabled() bool {
	v, ok := r.gateway.CircuitState(r.device, r.circuit)
	return ok && v == 1
}

func (r *Circuit) Topic() bus.Topic {
	return bus.Topic{Gateway: r.gateway.Name(), Device: r.device, Circuit: r.circuit}
}
