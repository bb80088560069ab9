package light

import (
	"context"
	"math"
	"strconv"
	"sync"

	"github.com/jkaflik/neuron2mqtt/internal/bus"
	"github.com/jkaflik/neuron2mqtt/internal/gateway"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type Mode string

const (
	ModeOnOff Mode = "on_off"
	ModePWM   Mode = "pwm"
)

const MaxBrightness = 255

type Status struct {
	On         bool
	Brightness int
}

type UpdateHandler func(status Status)

// Light is an output circuit switched on and off, or dimmed through its PWM
// duty cycle.
type Light struct {
	name    string
	gateway gateway.Gateway
	device  string
	port    string
	mode    Mode

	l          sync.Mutex
	brightness int
	handler    UpdateHandler
}

func New(name string, gw gateway.Gateway, device, port string, mode Mode) (*Light, error) {
	if mode != ModeOnOff && mode != ModePWM {
		return nil, errors.Errorf("%s: unsupported light mode %q", name, mode)
	}

	return &Light{name: name, gateway: gw, device: device, port: port, mode: mode}, nil
}

func (l *Light) Name() string {
	return l.name
}

func (l *Light) Device() string {
	return l.device
}

func (l *Light) Port() string {
	return l.port
}

func (l *Light) Gateway() string {
	return l.gateway.Name()
}

func (l *Light) Dimmable() bool {
	return l.mode == ModePWM
}

// Subscribe notifies the update handler whenever the gateway reports the circuit.
func (l *Light) Subscribe(b *bus.Bus) (unsubscribe func()) {
	return b.Subscribe(bus.Topic{Gateway: l.gateway.Name(), Device: l.device, Circuit: l.port}, l.onCircuitUpdate)
}

func (l *Light) OnUpdate(h UpdateHandler) {
	l.l.Lock()
	defer l.l.Unlock()

	l.handler = h
}

func (l *Light) Status() Status {
	l.l.Lock()
	defer l.l.Unlock()

	return l.status()
}

// TurnOn switches the light on. A dimmable light goes to brightness, or to its
// last brightness when brightness is zero, or to full brightness if it has none.
func (l *Light) TurnOn(ctx context.Context, brightness int) error {
	if l.mode == ModeOnOff {
		logrus.Infof("%s: turn on", l.name)
		return l.send(ctx, "1")
	}

	l.l.Lock()
	if brightness <= 0 {
		brightness = l.brightness
	}
	if brightness <= 0 || brightness > MaxBrightness {
		brightness = MaxBrightness
	}
	l.brightness = brightness
	status, h := l.status(), l.handler
	l.l.Unlock()

	logrus.Infof("%s: turn on, brightness %d", l.name, brightness)
	if err := l.send(ctx, map[string]string{"pwm_duty": dutyFor(brightness)}); err != nil {
		return err
	}

	notify(h, status)
	return nil
}

func (l *Light) TurnOff(ctx context.Context) error {
	logrus.Infof("%s: turn off", l.name)

	if l.mode == ModeOnOff {
		return l.send(ctx, "0")
	}

	if err := l.send(ctx, map[string]string{"pwm_duty": "0"}); err != nil {
		return err
	}

	l.l.Lock()
	l.brightness = 0
	status, h := l.status(), l.handler
	l.l.Unlock()

	notify(h, status)
	return nil
}

func (l *Light) send(ctx context.Context, value interface{}) error {
	if err := l.gateway.Send(ctx, l.device, l.port, value); err != nil {
		return errors.Wrapf(err, "%s: send", l.name)
	}
	return nil
}

func (l *Light) onCircuitUpdate() {
	l.l.Lock()
	status, h := l.status(), l.handler
	l.l.Unlock()

	logrus.Debugf("%s: circuit update, on: %t", l.name, status.On)
	notify(h, status)
}

func (l *Light) status() Status {
	if l.mode == ModePWM {
		return Status{On: l.brightness > 0, Brightness: l.brightness}
	}

	v, _ := l.gateway.CircuitState(l.device, l.port)
	return Status{On: v == 1}
}

// dutyFor converts a 0-255 brightness into a PWM duty cycle percentage.
func dutyFor(brightness int) string {
	return strconv.Itoa(int(math.Round(float64(brightness) / MaxBrightness * 100)))
}

func notify(h UpdateHandler, status Status) {
	if h != nil {
		h(status)
	}
}
