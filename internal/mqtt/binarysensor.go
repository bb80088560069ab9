package mqtt

import (
	"fmt"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/jkaflik/neuron2mqtt/internal/binarysensor"
)

// SensorBridge publishes a binary sensor over MQTT.
type SensorBridge struct {
	mqtt   paho.Client
	sensor *binarysensor.Sensor

	StateTopic        string
	AvailabilityTopic string
}

func NewSensorBridge(mqtt paho.Client, s *binarysensor.Sensor) *SensorBridge {
	bridge := &SensorBridge{mqtt: mqtt, sensor: s}
	bridge.StateTopic = fmt.Sprintf("%s/binary_sensor/%s/state", topicPrefix, s.Name())
	bridge.AvailabilityTopic = AvailabilityTopic(s.Gateway())

	s.OnUpdate(bridge.publishState)

	return bridge
}

func (b *SensorBridge) Publish() {
	b.publishState(b.sensor.IsOn())
}

func (b *SensorBridge) publishState(on bool) {
	state := payloadOff
	if on {
		state = payloadOn
	}
	publishRetained(b.mqtt, b.sensor.Name(), b.StateTopic, state)
}
