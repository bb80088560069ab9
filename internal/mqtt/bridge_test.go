package mqtt

import (
	"context"
	"testing"
	"time"

	"github.com/jkaflik/neuron2mqtt/internal/shutter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBridgeTopics(t *testing.T) {
	b := NewBridge(newFakeClient(), &fakeShutter{name: "kitchen"}, Origin{Gateway: "neuron", Device: "relay", Port: "1_01"})

	assert.Equal(t, "neuron2mqtt/kitchen/state", b.StateTopic)
	assert.Equal(t, "neuron2mqtt/kitchen/position", b.PositionTopic)
	assert.Equal(t, "neuron2mqtt/kitchen/tilt", b.TiltTopic)
	assert.Equal(t, "neuron2mqtt/kitchen/set", b.CommandTopic)
	assert.Equal(t, "neuron2mqtt/kitchen/position/set", b.PositionChangeTopic)
	assert.Equal(t, "neuron2mqtt/kitchen/tilt/set", b.TiltChangeTopic)
	assert.Equal(t, "neuron2mqtt/neuron/availability", b.AvailabilityTopic)
}

func TestBridgeCommands(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := newFakeClient()
	s := &fakeShutter{name: "kitchen"}
	b := NewBridge(client, s, Origin{Gateway: "neuron", Device: "relay", Port: "1_01"})
	require.NoError(t, b.Subscribe(ctx))

	for _, tc := range []struct {
		topic, payload string
		expected       []string
	}{
		{b.CommandTopic, "open", []string{"open"}},
		{b.CommandTopic, "close", []string{"close"}},
		{b.CommandTopic, "stop", []string{"stop"}},
		{b.CommandTopic, "jump", nil},
		{b.PositionChangeTopic, "42", []string{"position 42"}},
		{b.PositionChangeTopic, "half", nil},
		{b.TiltChangeTopic, "30", []string{"tilt 30"}},
		{b.TiltChangeTopic, "open", []string{"open_tilt"}},
		{b.TiltChangeTopic, "close", []string{"close_tilt"}},
	} {
		t.Run(tc.topic+" "+tc.payload, func(t *testing.T) {
			s.calls = nil
			require.True(t, client.deliver(tc.topic, tc.payload))
			assert.Equal(t, tc.expected, s.calls)
		})
	}

	t.Run("rejected commands are not fatal", func(t *testing.T) {
		s.calls = nil
		s.err = shutter.ErrNotCalibrated
		defer func() { s.err = nil }()

		assert.NotPanics(t, func() { client.deliver(b.PositionChangeTopic, "42") })
		assert.Equal(t, []string{"position 42"}, s.calls)
	})
}

func TestBridgeUnsubscribesOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	client := newFakeClient()
	b := NewBridge(client, &fakeShutter{name: "kitchen"}, Origin{Gateway: "neuron", Device: "relay", Port: "1_01"})

	// as on a broker reconnect
	require.NoError(t, b.Subscribe(ctx))
	require.NoError(t, b.Subscribe(ctx))

	cancel()
	assert.Eventually(t, func() bool {
		client.l.Lock()
		defer client.l.Unlock()
		return len(client.handlers) == 0
	}, time.Second, time.Millisecond)
	assert.Never(t, func() bool {
		client.l.Lock()
		defer client.l.Unlock()
		return len(client.unsubscribed) > 3
	}, 50*time.Millisecond, 5*time.Millisecond)
	assert.ElementsMatch(t, []string{b.CommandTopic, b.PositionChangeTopic, b.TiltChangeTopic}, client.unsubscribed)
}

func TestBridgePublishesStatus(t *testing.T) {
	client := newFakeClient()
	s := &fakeShutter{name: "kitchen"}
	b := NewBridge(client, s, Origin{Gateway: "neuron", Device: "relay", Port: "1_01"})

	t.Run("unknown levels are not published", func(t *testing.T) {
		s.handler(shutter.Status{State: shutter.ShutterStoppedState})

		assert.Equal(t, []published{{topic: b.StateTopic, retained: true, payload: "stopped"}}, client.take())
	})

	t.Run("levels are rounded", func(t *testing.T) {
		s.handler(shutter.Status{State: shutter.ShutterOpeningState, Position: shutter.Known(33.6), Tilt: shutter.Known(100)})

		assert.Equal(t, []published{
			{topic: b.StateTopic, retained: true, payload: "opening"},
			{topic: b.PositionTopic, retained: true, payload: "34"},
			{topic: b.TiltTopic, retained: true, payload: "100"},
		}, client.take())
	})

	t.Run("publish reads the current status", func(t *testing.T) {
		s.status = shutter.Status{State: shutter.ShutterClosedState, Position: shutter.Known(0), Tilt: shutter.Known(0)}
		b.Publish()

		payload, ok := client.last(b.PositionTopic)
		require.True(t, ok)
		assert.Equal(t, "0", payload)
		client.take()
	})

	t.Run("metadata", func(t *testing.T) {
		require.NoError(t, b.SetMetadata(map[string]string{"room": "kitchen"}))
		payload, ok := client.last(b.MetadataTopic)
		require.True(t, ok)
		assert.JSONEq(t, `{"room":"kitchen"}`, string(payload.([]byte)))
	})
}
