package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/jkaflik/neuron2mqtt/internal/shutter"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const topicPrefix = "neuron2mqtt"

const (
	mqttOpenCmd  = "open"
	mqttCloseCmd = "close"
	mqttStopCmd  = "stop"
)

// Origin is the gateway circuit an entity is bound to.
type Origin struct {
	Gateway string
	Device  string
	Port    string
}

func (o Origin) UniqueID() string {
	return fmt.Sprintf("%s_%s_at_%s", o.Device, o.Port, o.Gateway)
}

// Bridge exposes a cover over MQTT.
type Bridge struct {
	mqtt    paho.Client
	shutter shutter.Shutter
	origin  Origin

	StateTopic        string
	PositionTopic     string
	TiltTopic         string
	MetadataTopic     string
	AvailabilityTopic string

	CommandTopic        string
	PositionChangeTopic string
	TiltChangeTopic     string

	DeviceClass string
	Icon        string

	unsubscribeOnce sync.Once
}

func NewBridge(mqtt paho.Client, s shutter.Shutter, origin Origin) *Bridge {
	bridge := &Bridge{mqtt: mqtt, shutter: s, origin: origin, DeviceClass: "shutter"}
	bridge.StateTopic = fmt.Sprintf("%s/%s/state", topicPrefix, s.Name())
	bridge.PositionTopic = fmt.Sprintf("%s/%s/position", topicPrefix, s.Name())
	bridge.TiltTopic = fmt.Sprintf("%s/%s/tilt", topicPrefix, s.Name())
	bridge.MetadataTopic = fmt.Sprintf("%s/%s/metadata", topicPrefix, s.Name())
	bridge.AvailabilityTopic = AvailabilityTopic(origin.Gateway)
	bridge.CommandTopic = fmt.Sprintf("%s/%s/set", topicPrefix, s.Name())
	bridge.PositionChangeTopic = fmt.Sprintf("%s/%s/position/set", topicPrefix, s.Name())
	bridge.TiltChangeTopic = fmt.Sprintf("%s/%s/tilt/set", topicPrefix, s.Name())

	s.OnUpdate(bridge.onShutterUpdateHandler())

	return bridge
}

func (b *Bridge) SetMetadata(value interface{}) error {
	if value == nil {
		return nil
	}

	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}

	if token := b.mqtt.Publish(b.MetadataTopic, 0, true, payload); token.Wait() && token.Error() != nil {
		return errors.Wrapf(token.Error(), "%s: MQTT metadata publish failed", b.shutter.Name())
	}

	return nil
}

func (b *Bridge) Subscribe(ctx context.Context) error {
	topics := []struct {
		topic   string
		handler paho.MessageHandler
	}{
		{b.CommandTopic, b.onCommandHandler(ctx)},
		{b.PositionChangeTopic, b.onPositionChangeHandler(ctx)},
		{b.TiltChangeTopic, b.onTiltChangeHandler(ctx)},
	}

	for _, t := range topics {
		if token := b.mqtt.Subscribe(t.topic, 0, t.handler); token.Wait() && token.Error() != nil {
			return errors.Wrapf(token.Error(), "%s: MQTT %s subscription failed", b.shutter.Name(), t.topic)
		}
		logrus.Infof("%s: MQTT %s subscribed", b.shutter.Name(), t.topic)
	}

	// Subscribe runs again on every broker reconnect; unsubscribing is wired once.
	b.unsubscribeOnce.Do(func() {
		go func() {
			<-ctx.Done()
			if token := b.mqtt.Unsubscribe(b.CommandTopic, b.PositionChangeTopic, b.TiltChangeTopic); token.Wait() && token.Error() != nil {
				logrus.Errorf("%s: MQTT topics unsubscribe failed: %s", b.shutter.Name(), token.Error())
			}
		}()
	})

	return nil
}

// Publish sends the current cover status. Unknown levels are left unpublished.
func (b *Bridge) Publish() {
	b.publishStatus(b.shutter.Status())
}

func (b *Bridge) onShutterUpdateHandler() shutter.ShutterUpdateHandler {
	return b.publishStatus
}

func (b *Bridge) publishStatus(status shutter.Status) {
	publishRetained(b.mqtt, b.shutter.Name(), b.StateTopic, status.State)

	if position, ok := status.Position.Percent(); ok {
		publishRetained(b.mqtt, b.shutter.Name(), b.PositionTopic, strconv.Itoa(position))
	}
	if tilt, ok := status.Tilt.Percent(); ok {
		publishRetained(b.mqtt, b.shutter.Name(), b.TiltTopic, strconv.Itoa(tilt))
	}
}

func (b *Bridge) onCommandHandler(ctx context.Context) paho.MessageHandler {
	return func(c paho.Client, msg paho.Message) {
		var err error
		cmd := string(msg.Payload())
		switch cmd {
		case mqttOpenCmd:
			err = b.shutter.Open(ctx)
		case mqttCloseCmd:
			err = b.shutter.Close(ctx)
		case mqttStopCmd:
			err = b.shutter.Stop(ctx)
		default:
			logrus.Errorf("%s: MQTT unsupported %s command received", b.shutter.Name(), cmd)
		}
		if err != nil {
			logrus.Error(err)
		}
	}
}

func (b *Bridge) onPositionChangeHandler(ctx context.Context) paho.MessageHandler {
	return func(c paho.Client, msg paho.Message) {
		pos, err := strconv.Atoi(string(msg.Payload()))
		if err != nil {
			logrus.Errorf("%s: MQTT invalid position %q", b.shutter.Name(), msg.Payload())
			return
		}
		if err := b.shutter.SetPosition(ctx, pos); err != nil {
			logrus.Error(err)
		}
	}
}

func (b *Bridge) onTiltChangeHandler(ctx context.Context) paho.MessageHandler {
	return func(c paho.Client, msg paho.Message) {
		var err error
		switch payload := string(msg.Payload()); payload {
		case mqttOpenCmd:
			err = b.shutter.OpenTilt(ctx)
		case mqttCloseCmd:
			err = b.shutter.CloseTilt(ctx)
		default:
			tilt, convErr := strconv.Atoi(payload)
			if convErr != nil {
				logrus.Errorf("%s: MQTT invalid tilt %q", b.shutter.Name(), payload)
				return
			}
			err = b.shutter.SetTilt(ctx, tilt)
		}
		if err != nil {
			logrus.Error(err)
		}
	}
}

func publishRetained(client paho.Client, name, topic string, payload interface{}) {
	if token := client.Publish(topic, 0, true, payload); token.Wait() && token.Error() != nil {
		logrus.Errorf("%s: MQTT %s publish failed: %s", name, topic, token.Error())
	}
}
