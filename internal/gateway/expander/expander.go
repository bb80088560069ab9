// Package expander drives relay circuits wired to a local MCP23017 I/O expander,
// presenting them through the same client contract as a remote gateway.
package expander

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/jkaflik/neuron2mqtt/internal/gateway"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Device is the only device kind an expander exposes.
const Device = "relay"

const (
	pins                = 16
	defaultPollInterval = 100 * time.Millisecond
)

// PinDevice is a bank of digital pins.
type PinDevice interface {
	Reset() error
	SetOutput(pin uint8) error
	Write(pin uint8, high bool) error
	Read(pin uint8) (high bool, err error)
	Close() error
}

// Opener opens the expander on an I2C bus.
type Opener func(bus, deviceNumber uint8) (PinDevice, error)

type Config struct {
	Bus          uint8
	DeviceNumber uint8
	// NormalClosed inverts pin levels for relays that energize on LOW.
	NormalClosed bool
	PollInterval time.Duration
	// Circuits lists the circuit ids ("1".."16") configured as outputs.
	Circuits []string
}

type Client struct {
	name string
	cfg  Config
	open Opener

	l       sync.Mutex
	device  PinDevice
	last    map[uint8]bool
	changed chan uint8
}

var _ gateway.Client = (*Client)(nil)

func New(name string, cfg Config, open Opener) *Client {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if open == nil {
		open = OpenMcp23017
	}

	return &Client{name: name, cfg: cfg, open: open}
}

// PinFor maps a circuit id to its expander pin.
func PinFor(circuit string) (uint8, error) {
	n, err := strconv.Atoi(circuit)
	if err != nil || n < 1 || n > pins {
		return 0, errors.Errorf("%q is not an expander circuit (1-%d)", circuit, pins)
	}
	return uint8(n - 1), nil
}

func circuitFor(pin uint8) string {
	return strconv.Itoa(int(pin) + 1)
}

func (c *Client) Connect(_ context.Context) error {
	device, err := c.open(c.cfg.Bus, c.cfg.DeviceNumber)
	if err != nil {
		return errors.Wrapf(err, "%s: mcp23017 open", c.name)
	}
	if err := device.Reset(); err != nil {
		device.Close()
		return errors.Wrapf(err, "%s: mcp23017 reset", c.name)
	}

	c.l.Lock()
	defer c.l.Unlock()

	c.device = device
	c.last = map[uint8]bool{}
	c.changed = make(chan uint8, pins)
	return nil
}

func (c *Client) RegisterDefaultFilter(_ context.Context) error {
	c.l.Lock()
	defer c.l.Unlock()

	if c.device == nil {
		return gateway.ErrNotConnected
	}

	for _, circuit := range c.cfg.Circuits {
		pin, err := PinFor(circuit)
		if err != nil {
			return err
		}
		if err := c.device.SetOutput(pin); err != nil {
			return errors.Wrapf(err, "%s: pin %d mode", c.name, pin)
		}
	}

	return nil
}

func (c *Client) FullStateSync(_ context.Context, h gateway.UpdateHandler) error {
	type reading struct {
		circuit string
		on      bool
	}

	c.l.Lock()
	if c.device == nil {
		c.l.Unlock()
		return gateway.ErrNotConnected
	}

	readings := make([]reading, 0, len(c.cfg.Circuits))
	for _, circuit := range c.cfg.Circuits {
		pin, err := PinFor(circuit)
		if err != nil {
			c.l.Unlock()
			return err
		}
		on, err := c.read(pin)
		if err != nil {
			c.l.Unlock()
			return err
		}
		c.last[pin] = on
		readings = append(readings, reading{circuit: circuit, on: on})
	}
	c.l.Unlock()

	// h reaches entities that may be sending through this client.
	for _, r := range readings {
		h(Device, r.circuit, boolValue(r.on))
	}

	return nil
}

// Receive reports confirmations of written pins as soon as they are queued,
// otherwise it polls all configured pins once per poll interval.
func (c *Client) Receive(ctx context.Context, h gateway.UpdateHandler) error {
	c.l.Lock()
	changed := c.changed
	c.l.Unlock()
	if changed == nil {
		return gateway.ErrNotConnected
	}

	t := time.NewTimer(c.cfg.PollInterval)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case pin, ok := <-changed:
		if !ok {
			return gateway.ErrNotConnected
		}
		return c.report(h, pin)
	case <-t.C:
		return c.poll(h)
	}
}

func (c *Client) report(h gateway.UpdateHandler, pin uint8) error {
	c.l.Lock()
	if c.device == nil {
		c.l.Unlock()
		return gateway.ErrNotConnected
	}
	on, err := c.read(pin)
	if err == nil {
		c.last[pin] = on
	}
	c.l.Unlock()

	if err != nil {
		return err
	}
	h(Device, circuitFor(pin), boolValue(on))
	return nil
}

func (c *Client) poll(h gateway.UpdateHandler) error {
	for _, circuit := range c.cfg.Circuits {
		pin, err := PinFor(circuit)
		if err != nil {
			return err
		}

		c.l.Lock()
		if c.device == nil {
			c.l.Unlock()
			return gateway.ErrNotConnected
		}
		on, err := c.read(pin)
		prev, seen := c.last[pin]
		if err == nil {
			c.last[pin] = on
		}
		c.l.Unlock()

		if err != nil {
			return err
		}
		if !seen || prev != on {
			h(Device, circuit, boolValue(on))
		}
	}

	return nil
}

func (c *Client) Send(_ context.Context, device, circuit string, value interface{}) error {
	if device != Device {
		return errors.Errorf("%s: unsupported device %s", c.name, device)
	}
	pin, err := PinFor(circuit)
	if err != nil {
		return err
	}
	s, ok := value.(string)
	if !ok || (s != "0" && s != "1") {
		return errors.Errorf("%s: unsupported value %v for %s/%s", c.name, value, device, circuit)
	}

	c.l.Lock()
	defer c.l.Unlock()

	if c.device == nil {
		return gateway.ErrNotConnected
	}
	if err := c.device.Write(pin, (s == "1") != c.cfg.NormalClosed); err != nil {
		return errors.Wrapf(err, "%s: pin %d write", c.name, pin)
	}

	select {
	case c.changed <- pin:
	default:
		logrus.Debugf("%s: confirmation queue full, pin %d left to polling", c.name, pin)
	}
	return nil
}

func (c *Client) Close() error {
	c.l.Lock()
	defer c.l.Unlock()

	if c.device == nil {
		return nil
	}

	err := c.device.Close()
	c.device = nil
	close(c.changed)
	c.changed = nil
	return err
}

func (c *Client) read(pin uint8) (bool, error) {
	high, err := c.device.Read(pin)
	if err != nil {
		return false, errors.Wrapf(err, "%s: pin %d read", c.name, pin)
	}
	return high != c.cfg.NormalClosed, nil
}

func boolValue(on bool) float64 {
	if on {
		return 1
	}
	return 0
}
