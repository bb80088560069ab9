package gateway

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jkaflik/neuron2mqtt/internal/bus"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type update struct {
	device, circuit string
	value           float64
}

type receiveResult struct {
	updates []update
	err     error
}

type fakeClient struct {
	l        sync.Mutex
	calls    []string
	connects []error
	snapshot []update
	received chan receiveResult
	sent     []string
}

func newFakeClient(connects ...error) *fakeClient {
	return &fakeClient{connects: connects, received: make(chan receiveResult)}
}

func (c *fakeClient) record(call string) {
	c.l.Lock()
	defer c.l.Unlock()
	c.calls = append(c.calls, call)
}

func (c *fakeClient) Calls() []string {
	c.l.Lock()
	defer c.l.Unlock()
	return append([]string(nil), c.calls...)
}

func (c *fakeClient) Connect(context.Context) error {
	c.record("connect")
	c.l.Lock()
	defer c.l.Unlock()
	if len(c.connects) == 0 {
		return nil
	}
	err := c.connects[0]
	c.connects = c.connects[1:]
	return err
}

func (c *fakeClient) RegisterDefaultFilter(context.Context) error {
	c.record("filter")
	return nil
}

func (c *fakeClient) FullStateSync(_ context.Context, h UpdateHandler) error {
	c.record("sync")
	for _, u := range c.snapshot {
		h(u.device, u.circuit, u.value)
	}
	return nil
}

func (c *fakeClient) Receive(ctx context.Context, h UpdateHandler) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case r := <-c.received:
		for _, u := range r.updates {
			h(u.device, u.circuit, u.value)
		}
		return r.err
	}
}

func (c *fakeClient) Send(_ context.Context, device, circuit string, value interface{}) error {
	c.l.Lock()
	defer c.l.Unlock()
	c.sent = append(c.sent, device+"/"+circuit)
	return nil
}

func (c *fakeClient) Close() error {
	c.record("close")
	return nil
}

type stateRecorder struct {
	l      sync.Mutex
	states []State
	ch     chan State
}

func newStateRecorder(m *Manager) *stateRecorder {
	r := &stateRecorder{ch: make(chan State, 64)}
	m.OnStateChange(func(s State) {
		r.l.Lock()
		r.states = append(r.states, s)
		r.l.Unlock()
		r.ch <- s
	})
	return r
}

func (r *stateRecorder) waitFor(t *testing.T, want State) {
	t.Helper()
	timeout := time.After(time.Second)
	for {
		select {
		case s := <-r.ch:
			if s == want {
				return
			}
		case <-timeout:
			t.Fatalf("timeout waiting for %s", want)
		}
	}
}

func TestManagerLifecycle(t *testing.T) {
	client := newFakeClient(errors.New("connection refused"))
	client.snapshot = []update{{"relay", "1_01", 1}, {"relay", "1_02", 0}}

	b := bus.New()
	m := NewManager("neuron", "M203", client, b, 10*time.Millisecond)
	states := newStateRecorder(m)

	signals := make(chan string, 16)
	b.Subscribe(bus.Topic{Gateway: "neuron", Device: "relay", Circuit: "1_01"}, func() { signals <- "1_01" })
	b.Subscribe(bus.Topic{Gateway: "neuron", Device: "relay", Circuit: "1_02"}, func() { signals <- "1_02" })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	t.Run("retries after a failed connect and syncs before streaming", func(t *testing.T) {
		states.waitFor(t, Streaming)

		assert.Equal(t, []string{"close", "connect", "close", "connect", "filter", "sync"}, client.Calls())
		assert.Equal(t, "1_01", <-signals)
		assert.Equal(t, "1_02", <-signals)

		v, ok := m.CircuitState("relay", "1_01")
		assert.True(t, ok)
		assert.Equal(t, float64(1), v)
	})

	t.Run("received updates land in the cache before the signal", func(t *testing.T) {
		seen := make(chan float64, 1)
		unsubscribe := b.Subscribe(bus.Topic{Gateway: "neuron", Device: "relay", Circuit: "1_02"}, func() {
			v, _ := m.CircuitState("relay", "1_02")
			seen <- v
		})
		defer unsubscribe()

		client.received <- receiveResult{updates: []update{{"relay", "1_02", 1}}}
		assert.Equal(t, "1_02", <-signals)
		assert.Equal(t, float64(1), <-seen)
		assert.Equal(t, Streaming, m.State())
	})

	t.Run("a broken stream is torn down and fully resynchronized", func(t *testing.T) {
		client.received <- receiveResult{err: errors.New("EOF")}
		states.waitFor(t, Disconnected)
		states.waitFor(t, Streaming)

		calls := client.Calls()
		require.GreaterOrEqual(t, len(calls), 6)
		assert.Equal(t, []string{"close", "close", "connect", "filter", "sync"}, calls[len(calls)-5:])
	})

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("manager did not stop")
	}
	assert.Equal(t, Disconnected, m.State())
}

func TestManagerSend(t *testing.T) {
	client := newFakeClient()
	m := NewManager("neuron", "M203", client, bus.New(), 0)

	require.NoError(t, m.Send(context.Background(), "relay", "1_01", "1"))
	assert.Equal(t, []string{"relay/1_01"}, client.sent)
	assert.Equal(t, DefaultReconnectInterval, m.reconnectInterval)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Add(NewManager("b", "", newFakeClient(), bus.New(), 0)))
	require.NoError(t, r.Add(NewManager("a", "", newFakeClient(), bus.New(), 0)))
	assert.Error(t, r.Add(NewManager("a", "", newFakeClient(), bus.New(), 0)))

	m, err := r.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "a", m.Name())

	_, err = r.Get("missing")
	assert.True(t, errors.Is(err, ErrUnknownGateway))

	assert.Equal(t, "a", r.All()[0].Name())
}
