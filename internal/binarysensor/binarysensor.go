package binarysensor

import (
	"sync"

	"github.com/jkaflik/neuron2mqtt/internal/bus"
	"github.com/jkaflik/neuron2mqtt/internal/gateway"
	"github.com/sirupsen/logrus"
)

type UpdateHandler func(on bool)

// Sensor is a digital input read back from the gateway circuit cache.
type Sensor struct {
	name    string
	gateway gateway.Gateway
	device  string
	port    string

	l       sync.Mutex
	handler UpdateHandler
}

func New(name string, gw gateway.Gateway, device, port string) *Sensor {
	return &Sensor{name: name, gateway: gw, device: device, port: port}
}

func (s *Sensor) Name() string {
	return s.name
}

func (s *Sensor) Device() string {
	return s.device
}

func (s *Sensor) Port() string {
	return s.port
}

func (s *Sensor) Gateway() string {
	return s.gateway.Name()
}

func (s *Sensor) Subscribe(b *bus.Bus) (unsubscribe func()) {
	return b.Subscribe(bus.Topic{Gateway: s.gateway.Name(), Device: s.device, Circuit: s.port}, s.onCircuitUpdate)
}

func (s *Sensor) OnUpdate(h UpdateHandler) {
	s.l.Lock()
	defer s.l.Unlock()

	s.handler = h
}

// IsOn reports whether the gateway last read the input as active.
func (s *Sensor) IsOn() bool {
	v, ok := s.gateway.CircuitState(s.device, s.port)
	return ok && v == 1
}

func (s *Sensor) onCircuitUpdate() {
	on := s.IsOn()
	logrus.Debugf("%s: input %s/%s is %t", s.name, s.device, s.port, on)

	s.l.Lock()
	h := s.handler
	s.l.Unlock()

	if h != nil {
		h(on)
	}
}
