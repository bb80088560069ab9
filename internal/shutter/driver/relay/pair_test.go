package relay

import (
	"context"
	"testing"

	"github.com/jkaflik/neuron2mqtt/internal/shutter"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestPair(t *testing.T) {
	ctx := context.Background()
	gw := newFakeGateway("neuron")
	p := NewRelayPair(NewCircuit(gw, "relay", "1_01"), NewCircuit(gw, "relay", "1_02"))

	t.Run("open releases down before energizing up", func(t *testing.T) {
		assert.NoError(t, p.Open(ctx))
		assert.Equal(t, []sentCommand{
			{device: "relay", circuit: "1_02", value: "0"},
			{device: "relay", circuit: "1_01", value: "1"},
		}, gw.take())
	})

	t.Run("close releases up before energizing down", func(t *testing.T) {
		assert.NoError(t, p.Close(ctx))
		assert.Equal(t, []sentCommand{
			{device: "relay", circuit: "1_01", value: "0"},
			{device: "relay", circuit: "1_02", value: "1"},
		}, gw.take())
	})

	t.Run("release turns both off even when sending fails", func(t *testing.T) {
		gw.err = errors.New("boom")
		defer func() { gw.err = nil }()

		assert.Error(t, p.Release(ctx))
		assert.Equal(t, []sentCommand{
			{device: "relay", circuit: "1_01", value: "0"},
			{device: "relay", circuit: "1_02", value: "0"},
		}, gw.take())
	})

	t.Run("oper state follows confirmed relays", func(t *testing.T) {
		assert.Equal(t, shutter.OperIdle, p.OperState())

		gw.confirm("1_01", 1)
		assert.Equal(t, shutter.OperOpening, p.OperState())

		gw.confirm("1_02", 1)
		assert.Equal(t, shutter.OperError, p.OperState())

		gw.confirm("1_01", 0)
		assert.Equal(t, shutter.OperClosing, p.OperState())
	})
}
