package mqtt

import (
	"fmt"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/jkaflik/neuron2mqtt/internal/gateway"
)

const (
	payloadOnline  = "online"
	payloadOffline = "offline"
)

func AvailabilityTopic(gatewayName string) string {
	return fmt.Sprintf("%s/%s/availability", topicPrefix, gatewayName)
}

// StateSource is a gateway whose connection state drives availability.
type StateSource interface {
	Name() string
	State() gateway.State
	OnStateChange(h gateway.StateHandler)
}

// Availability keeps a gateway availability topic in line with its connection:
// online while streaming, offline otherwise.
type Availability struct {
	mqtt   paho.Client
	source StateSource
	Topic  string
}

func NewAvailability(mqtt paho.Client, source StateSource) *Availability {
	a := &Availability{mqtt: mqtt, source: source, Topic: AvailabilityTopic(source.Name())}
	source.OnStateChange(a.publish)

	return a
}

// Publish sends the current availability.
func (a *Availability) Publish() {
	a.publish(a.source.State())
}

func (a *Availability) publish(state gateway.State) {
	payload := payloadOffline
	if state == gateway.Streaming {
		payload = payloadOnline
	}
	publishRetained(a.mqtt, a.source.Name(), a.Topic, payload)
}
