package expander

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jkaflik/neuron2mqtt/internal/gateway"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePins struct {
	l       sync.Mutex
	high    map[uint8]bool
	outputs map[uint8]bool
	closed  bool

	// hold, when set, parks the next Read until it is closed. entered is
	// closed once that Read is parked.
	hold    chan struct{}
	entered chan struct{}
}

func (f *fakePins) Reset() error { return nil }

func (f *fakePins) SetOutput(pin uint8) error {
	f.l.Lock()
	defer f.l.Unlock()
	f.outputs[pin] = true
	return nil
}

func (f *fakePins) Write(pin uint8, high bool) error {
	f.l.Lock()
	defer f.l.Unlock()
	f.high[pin] = high
	return nil
}

func (f *fakePins) Read(pin uint8) (bool, error) {
	f.l.Lock()
	hold := f.hold
	f.hold = nil
	f.l.Unlock()

	if hold != nil {
		close(f.entered)
		<-hold
	}

	f.l.Lock()
	defer f.l.Unlock()
	return f.high[pin], nil
}

func (f *fakePins) Close() error {
	f.l.Lock()
	defer f.l.Unlock()
	f.closed = true
	return nil
}

type got struct {
	circuit string
	value   float64
}

func collect(into *[]got) gateway.UpdateHandler {
	return func(device, circuit string, value float64) {
		*into = append(*into, got{circuit, value})
	}
}

func TestClient(t *testing.T) {
	pins := &fakePins{high: map[uint8]bool{1: true}, outputs: map[uint8]bool{}}
	c := New("local", Config{Circuits: []string{"1", "2"}, NormalClosed: true, PollInterval: 5 * time.Millisecond},
		func(bus, deviceNumber uint8) (PinDevice, error) { return pins, nil })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, c.Connect(ctx))
	require.NoError(t, c.RegisterDefaultFilter(ctx))
	assert.Equal(t, map[uint8]bool{0: true, 1: true}, pins.outputs)

	t.Run("full sync reports every circuit with normal closed inversion", func(t *testing.T) {
		var updates []got
		require.NoError(t, c.FullStateSync(ctx, collect(&updates)))
		assert.Equal(t, []got{{"1", 1}, {"2", 0}}, updates)
	})

	t.Run("written pins are confirmed on the next receive", func(t *testing.T) {
		require.NoError(t, c.Send(ctx, Device, "1", "0"))
		assert.True(t, pins.high[0])

		var updates []got
		require.NoError(t, c.Receive(ctx, collect(&updates)))
		assert.Equal(t, []got{{"1", 0}}, updates)
	})

	t.Run("polling reports external changes only", func(t *testing.T) {
		pins.Write(1, false)

		var updates []got
		require.NoError(t, c.Receive(ctx, collect(&updates)))
		assert.Equal(t, []got{{"2", 1}}, updates)

		updates = nil
		require.NoError(t, c.Receive(ctx, collect(&updates)))
		assert.Empty(t, updates)
	})

	t.Run("invalid commands are rejected", func(t *testing.T) {
		assert.Error(t, c.Send(ctx, "led", "1", "1"))
		assert.Error(t, c.Send(ctx, Device, "17", "1"))
		assert.Error(t, c.Send(ctx, Device, "1", map[string]string{"pwm_duty": "10"}))
	})

	t.Run("close is idempotent", func(t *testing.T) {
		require.NoError(t, c.Close())
		require.NoError(t, c.Close())
		assert.True(t, pins.closed)
		assert.True(t, errors.Is(c.Receive(ctx, collect(new([]got))), gateway.ErrNotConnected))
	})
}

func TestPinFor(t *testing.T) {
	pin, err := PinFor("16")
	require.NoError(t, err)
	assert.Equal(t, uint8(15), pin)

	_, err = PinFor("1_01")
	assert.Error(t, err)
	_, err = PinFor("0")
	assert.Error(t, err)
}
