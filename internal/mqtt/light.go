package mqtt

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/jkaflik/neuron2mqtt/internal/light"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	payloadOn  = "ON"
	payloadOff = "OFF"
)

// LightBridge exposes a light over MQTT.
type LightBridge struct {
	mqtt  paho.Client
	light *light.Light

	StateTopic        string
	BrightnessTopic   string
	AvailabilityTopic string

	CommandTopic          string
	BrightnessChangeTopic string

	unsubscribeOnce sync.Once
}

func NewLightBridge(mqtt paho.Client, l *light.Light) *LightBridge {
	bridge := &LightBridge{mqtt: mqtt, light: l}
	bridge.StateTopic = fmt.Sprintf("%s/light/%s/state", topicPrefix, l.Name())
	bridge.BrightnessTopic = fmt.Sprintf("%s/light/%s/brightness", topicPrefix, l.Name())
	bridge.AvailabilityTopic = AvailabilityTopic(l.Gateway())
	bridge.CommandTopic = fmt.Sprintf("%s/light/%s/set", topicPrefix, l.Name())
	bridge.BrightnessChangeTopic = fmt.Sprintf("%s/light/%s/brightness/set", topicPrefix, l.Name())

	l.OnUpdate(bridge.publishStatus)

	return bridge
}

func (b *LightBridge) Subscribe(ctx context.Context) error {
	if token := b.mqtt.Subscribe(b.CommandTopic, 0, b.onCommandHandler(ctx)); token.Wait() && token.Error() != nil {
		return errors.Wrapf(token.Error(), "%s: MQTT command topic subscription failed", b.light.Name())
	}
	topics := []string{b.CommandTopic}

	if b.light.Dimmable() {
		if token := b.mqtt.Subscribe(b.BrightnessChangeTopic, 0, b.onBrightnessChangeHandler(ctx)); token.Wait() && token.Error() != nil {
			return errors.Wrapf(token.Error(), "%s: MQTT brightness topic subscription failed", b.light.Name())
		}
		topics = append(topics, b.BrightnessChangeTopic)
	}
	logrus.Infof("%s: MQTT light topics subscribed", b.light.Name())

	// Subscribe runs again on every broker reconnect; unsubscribing is wired once.
	b.unsubscribeOnce.Do(func() {
		go func() {
			<-ctx.Done()
			if token := b.mqtt.Unsubscribe(topics...); token.Wait() && token.Error() != nil {
				logrus.Errorf("%s: MQTT topics unsubscribe failed: %s", b.light.Name(), token.Error())
			}
		}()
	})

	return nil
}

func (b *LightBridge) Publish() {
	b.publishStatus(b.light.Status())
}

func (b *LightBridge) publishStatus(status light.Status) {
	state := payloadOff
	if status.On {
		state = payloadOn
	}
	publishRetained(b.mqtt, b.light.Name(), b.StateTopic, state)

	if b.light.Dimmable() {
		publishRetained(b.mqtt, b.light.Name(), b.BrightnessTopic, strconv.Itoa(status.Brightness))
	}
}

func (b *LightBridge) onCommandHandler(ctx context.Context) paho.MessageHandler {
	return func(c paho.Client, msg paho.Message) {
		var err error
		switch cmd := string(msg.Payload()); cmd {
		case payloadOn:
			err = b.light.TurnOn(ctx, 0)
		case payloadOff:
			err = b.light.TurnOff(ctx)
		default:
			logrus.Errorf("%s: MQTT unsupported %s command received", b.light.Name(), cmd)
		}
		if err != nil {
			logrus.Error(err)
		}
	}
}

func (b *LightBridge) onBrightnessChangeHandler(ctx context.Context) paho.MessageHandler {
	return func(c paho.Client, msg paho.Message) {
		brightness, err := strconv.Atoi(string(msg.Payload()))
		if err != nil || brightness < 0 || brightness > light.MaxBrightness {
			logrus.Errorf("%s: MQTT invalid brightness %q", b.light.Name(), msg.Payload())
			return
		}

		if brightness == 0 {
			err = b.light.TurnOff(ctx)
		} else {
			err = b.light.TurnOn(ctx, brightness)
		}
		if err != nil {
			logrus.Error(err)
		}
	}
}
