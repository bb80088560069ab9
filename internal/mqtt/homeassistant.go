package mqtt

import (
	"encoding/json"
	"fmt"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/jkaflik/neuron2mqtt/internal/shutter"
	"github.com/pkg/errors"
)

const (
	haComponentCover        = "cover"
	haComponentLight        = "light"
	haComponentBinarySensor = "binary_sensor"
)

type haDevice struct {
	Identifiers  []string `json:"ids,omitempty"`
	Manufacturer string   `json:"mf,omitempty"`
	Model        string   `json:"mdl,omitempty"`
	Name         string   `json:"name,omitempty"`
	SWVersion    string   `json:"sw,omitempty"`
}

type haEntity struct {
	AvailabilityTopic string `json:"avty_t,omitempty"`
	UniqueID          string `json:"uniq_id,omitempty"`
	Name              string `json:"name,omitempty"`
	DeviceClass       string `json:"device_class,omitempty"`
	Icon              string `json:"ic,omitempty"`

	Device haDevice `json:"device,omitempty"`

	component string
}

type haCover struct {
	haEntity
	StateTopic       string `json:"stat_t"`
	CommandTopic     string `json:"cmd_t"`
	PositionTopic    string `json:"pos_t"`
	SetPositionTopic string `json:"set_pos_t"`
	PositionOpen     int    `json:"pos_open"`
	PositionClosed   int    `json:"pos_clsd"`
	PayloadOpen      string `json:"pl_open"`
	PayloadStop      string `json:"pl_stop"`
	PayloadClose     string `json:"pl_cls"`
	TiltStatusTopic  string `json:"tilt_status_t"`
	TiltCommandTopic string `json:"tilt_cmd_t"`
	TiltMin          int    `json:"tilt_min"`
	TiltMax          int    `json:"tilt_max"`
	TiltOpened       int    `json:"tilt_opnd_val"`
	TiltClosed       int    `json:"tilt_clsd_val"`
}

type haLight struct {
	haEntity
	StateTopic             string `json:"stat_t"`
	CommandTopic           string `json:"cmd_t"`
	PayloadOn              string `json:"pl_on"`
	PayloadOff             string `json:"pl_off"`
	BrightnessStateTopic   string `json:"bri_stat_t,omitempty"`
	BrightnessCommandTopic string `json:"bri_cmd_t,omitempty"`
	BrightnessScale        int    `json:"bri_scl,omitempty"`
	OnCommandType          string `json:"on_cmd_type,omitempty"`
}

type haBinarySensor struct {
	haEntity
	StateTopic string `json:"stat_t"`
	PayloadOn  string `json:"pl_on"`
	PayloadOff string `json:"pl_off"`
}

// haEntityFor builds the shared entity attributes. Every entity of a gateway
// belongs to one Home Assistant device.
func haEntityFor(component, name string, origin Origin, availabilityTopic string) haEntity {
	return haEntity{
		AvailabilityTopic: availabilityTopic,
		UniqueID:          origin.UniqueID(),
		Name:              name,

		Device: haDevice{
			Identifiers:  []string{fmt.Sprintf("neuron2mqtt_%s", origin.Gateway)},
			Manufacturer: "Unipi",
			Model:        "Neuron",
			Name:         origin.Gateway,
			SWVersion:    "neuron2mqtt",
		},

		component: component,
	}
}

func NewHACoverFromMQTTBridge(bridge *Bridge) haCover {
	entity := haEntityFor(haComponentCover, bridge.shutter.Name(), bridge.origin, bridge.AvailabilityTopic)
	entity.DeviceClass = bridge.DeviceClass
	entity.Icon = bridge.Icon

	return haCover{
		haEntity:         entity,
		StateTopic:       bridge.StateTopic,
		CommandTopic:     bridge.CommandTopic,
		PositionTopic:    bridge.PositionTopic,
		SetPositionTopic: bridge.PositionChangeTopic,
		PositionOpen:     shutter.FullOpenPosition,
		PositionClosed:   shutter.FullClosePosition,
		PayloadOpen:      mqttOpenCmd,
		PayloadStop:      mqttStopCmd,
		PayloadClose:     mqttCloseCmd,
		TiltStatusTopic:  bridge.TiltTopic,
		TiltCommandTopic: bridge.TiltChangeTopic,
		TiltMin:          shutter.FullClosePosition,
		TiltMax:          shutter.FullOpenPosition,
		TiltOpened:       shutter.FullOpenPosition,
		TiltClosed:       shutter.FullClosePosition,
	}
}

func NewHALightFromMQTTBridge(bridge *LightBridge) haLight {
	origin := Origin{Gateway: bridge.light.Gateway(), Device: bridge.light.Device(), Port: bridge.light.Port()}
	l := haLight{
		haEntity:     haEntityFor(haComponentLight, bridge.light.Name(), origin, bridge.AvailabilityTopic),
		StateTopic:   bridge.StateTopic,
		CommandTopic: bridge.CommandTopic,
		PayloadOn:    payloadOn,
		PayloadOff:   payloadOff,
	}

	if bridge.light.Dimmable() {
		l.BrightnessStateTopic = bridge.BrightnessTopic
		l.BrightnessCommandTopic = bridge.BrightnessChangeTopic
		l.BrightnessScale = 255
		l.OnCommandType = "brightness"
	}

	return l
}

func NewHABinarySensorFromMQTTBridge(bridge *SensorBridge) haBinarySensor {
	origin := Origin{Gateway: bridge.sensor.Gateway(), Device: bridge.sensor.Device(), Port: bridge.sensor.Port()}

	return haBinarySensor{
		haEntity:   haEntityFor(haComponentBinarySensor, bridge.sensor.Name(), origin, bridge.AvailabilityTopic),
		StateTopic: bridge.StateTopic,
		PayloadOn:  payloadOn,
		PayloadOff: payloadOff,
	}
}

type haDiscoverable interface {
	discovery() haEntity
}

func (e haEntity) discovery() haEntity {
	return e
}

func haDiscoveryTopic(prefix string, entity haEntity) string {
	return fmt.Sprintf("%s/%s/neuron2mqtt/%s/config", prefix, entity.component, entity.UniqueID)
}

func PublishHAAutoDiscovery(client paho.Client, homeAssistantDiscoveryTopicPrefix string, payload haDiscoverable) error {
	entity := payload.discovery()
	topic := haDiscoveryTopic(homeAssistantDiscoveryTopicPrefix, entity)

	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	if token := client.Publish(topic, 0, true, b); token.Wait() && token.Error() != nil {
		return errors.Wrapf(token.Error(), "%s: MQTT discovery publish failed", entity.Name)
	}

	return nil
}
