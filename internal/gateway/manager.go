package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/jkaflik/neuron2mqtt/internal/bus"
	"github.com/jkaflik/neuron2mqtt/internal/circuit"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const DefaultReconnectInterval = 30 * time.Second

type StateHandler func(state State)

// Manager owns the connect/subscribe/sync/receive lifecycle of one gateway.
// Every received value is written into the gateway's circuit cache and then
// signalled on the bus as (name, device, circuit).
type Manager struct {
	name              string
	kind              string
	client            Client
	cache             *circuit.Cache
	bus               *bus.Bus
	reconnectInterval time.Duration

	l             sync.RWMutex
	state         State
	stateHandlers []StateHandler
}

func NewManager(name, kind string, client Client, b *bus.Bus, reconnectInterval time.Duration) *Manager {
	if reconnectInterval <= 0 {
		reconnectInterval = DefaultReconnectInterval
	}

	return &Manager{
		name:              name,
		kind:              kind,
		client:            client,
		cache:             circuit.NewCache(),
		bus:               b,
		reconnectInterval: reconnectInterval,
	}
}

func (m *Manager) Name() string {
	return m.name
}

// Kind is the configured gateway model tag.
func (m *Manager) Kind() string {
	return m.kind
}

func (m *Manager) Bus() *bus.Bus {
	return m.bus
}

func (m *Manager) State() State {
	m.l.RLock()
	defer m.l.RUnlock()

	return m.state
}

// OnStateChange registers h to be called after every lifecycle transition.
func (m *Manager) OnStateChange(h StateHandler) {
	m.l.Lock()
	defer m.l.Unlock()

	m.stateHandlers = append(m.stateHandlers, h)
}

// CircuitState returns the last value reported for a circuit.
func (m *Manager) CircuitState(device, circuit string) (float64, bool) {
	return m.cache.Get(device, circuit)
}

func (m *Manager) Send(ctx context.Context, device, circuit string, value interface{}) error {
	logrus.Debugf("%s: send %s/%s = %v", m.name, device, circuit, value)

	if err := m.client.Send(ctx, device, circuit, value); err != nil {
		return errors.Wrapf(err, "%s: send %s/%s failed", m.name, device, circuit)
	}

	return nil
}

// Run keeps the gateway connected until ctx is done. A failed connect is retried
// after the reconnect interval. A broken stream is torn down completely and the
// whole subscribe and sync sequence is redone on the next connect.
func (m *Manager) Run(ctx context.Context) {
	defer func() {
		if err := m.client.Close(); err != nil {
			logrus.Errorf("%s: close failed: %s", m.name, err)
		}
		m.setState(Disconnected)
		logrus.Infof("%s: connection manager stopped", m.name)
	}()

	for ctx.Err() == nil {
		if err := m.client.Close(); err != nil {
			logrus.Errorf("%s: close failed: %s", m.name, err)
		}

		if err := m.session(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			logrus.Warnf("%s: %s", m.name, err)
		}
	}
}

func (m *Manager) session(ctx context.Context) error {
	m.setState(Connecting)
	if err := m.client.Connect(ctx); err != nil {
		m.setState(Disconnected)
		logrus.Warnf("%s: connect failed, retry in %s: %s", m.name, m.reconnectInterval, err)
		m.sleep(ctx)
		return nil
	}

	if err := m.client.RegisterDefaultFilter(ctx); err != nil {
		m.teardown()
		m.sleep(ctx)
		return errors.Wrap(err, "register filter failed")
	}
	m.setState(Subscribed)

	if err := m.client.FullStateSync(ctx, m.onUpdate); err != nil {
		m.teardown()
		m.sleep(ctx)
		return errors.Wrap(err, "full state sync failed")
	}
	m.setState(Synced)
	logrus.Infof("%s: synchronized %d circuits", m.name, m.cache.Len())

	m.setState(Streaming)
	for {
		if err := m.client.Receive(ctx, m.onUpdate); err != nil {
			m.teardown()
			return errors.Wrap(err, "connection lost")
		}
	}
}

func (m *Manager) teardown() {
	if err := m.client.Close(); err != nil {
		logrus.Errorf("%s: close failed: %s", m.name, err)
	}
	m.setState(Disconnected)
}

func (m *Manager) sleep(ctx context.Context) {
	t := time.NewTimer(m.reconnectInterval)
	defer t.Stop()

	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (m *Manager) onUpdate(device, circuit string, value float64) {
	logrus.Tracef("%s: %s/%s = %v", m.name, device, circuit, value)

	m.cache.Set(device, circuit, value)
	m.bus.Publish(bus.Topic{Gateway: m.name, Device: device, Circuit: circuit})
}

func (m *Manager) setState(state State) {
	m.l.Lock()
	if m.state == state {
		m.l.Unlock()
		return
	}
	m.state = state
	handlers := make([]StateHandler, len(m.stateHandlers))
	copy(handlers, m.stateHandlers)
	m.l.Unlock()

	logrus.Infof("%s: %s", m.name, state)
	for _, h := range handlers {
		h(state)
	}
}
