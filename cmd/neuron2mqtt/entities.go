package main

import (
	"context"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/jkaflik/neuron2mqtt/internal/binarysensor"
	"github.com/jkaflik/neuron2mqtt/internal/bus"
	"github.com/jkaflik/neuron2mqtt/internal/gateway"
	"github.com/jkaflik/neuron2mqtt/internal/gateway/evok"
	"github.com/jkaflik/neuron2mqtt/internal/gateway/expander"
	"github.com/jkaflik/neuron2mqtt/internal/light"
	"github.com/jkaflik/neuron2mqtt/internal/mqtt"
	"github.com/jkaflik/neuron2mqtt/internal/shutter"
	"github.com/jkaflik/neuron2mqtt/internal/shutter/driver/relay"
	"github.com/jkaflik/neuron2mqtt/internal/timer"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// progressInterval is how often a moving cover publishes its estimated position.
const progressInterval = time.Second

type cover struct {
	bridge   *mqtt.Bridge
	metadata map[string]interface{}
}

type entities struct {
	covers       []cover
	lights       []*mqtt.LightBridge
	sensors      []*mqtt.SensorBridge
	availability []*mqtt.Availability
}

func gatewaysFromConfig() (*gateway.Registry, error) {
	registry := gateway.NewRegistry()

	for _, cfg := range Cfg.Gateways {
		var client gateway.Client
		switch cfg.Kind {
		case gatewayKindEvok:
			client = evok.New(cfg.Name, cfg.Address)
		case gatewayKindMcp23017:
			client = expander.New(cfg.Name, expander.Config{
				Bus:          cfg.Mcp23017.Bus,
				DeviceNumber: cfg.Mcp23017.DeviceNumber,
				NormalClosed: cfg.Mcp23017.NormalClosed,
				PollInterval: cfg.Mcp23017.PollInterval,
				Circuits:     Cfg.expanderCircuits(cfg.Name),
			}, expander.OpenMcp23017)
		default:
			return nil, errors.Errorf("%s: %s is not supported gateway kind", cfg.Name, cfg.Kind)
		}

		if err := registry.Add(gateway.NewManager(cfg.Name, cfg.Type, client, bus.New(), cfg.ReconnectInterval)); err != nil {
			return nil, err
		}
	}

	return registry, nil
}

// entitiesFromConfig builds every configured entity and subscribes it to its
// gateway bus. It must run before the gateways start so the first full state
// sync reaches all entities.
func entitiesFromConfig(client paho.Client, registry *gateway.Registry) (*entities, error) {
	e := &entities{}

	for _, m := range registry.All() {
		e.availability = append(e.availability, mqtt.NewAvailability(client, m))
	}

	for _, cfg := range Cfg.Covers {
		m, err := registry.Get(cfg.Gateway)
		if err != nil {
			return nil, err
		}

		s := relay.NewRelaysShutter(relay.Config{
			Name: cfg.Name,
			Timing: shutter.Timing{
				FullOpen:   cfg.FullOpenTime,
				FullClose:  cfg.FullCloseTime,
				TiltChange: cfg.TiltChangeTime,
			},
			MinReverseDirTime: cfg.MinReverseDirTime,
			ReportInterval:    progressInterval,
		}, relay.NewRelayPair(
			relay.NewCircuit(m, cfg.Device, cfg.PortUp),
			relay.NewCircuit(m, cfg.Device, cfg.PortDown),
		), timer.System{})
		s.Subscribe(m.Bus())

		bridge := mqtt.NewBridge(client, s, mqtt.Origin{Gateway: m.Name(), Device: cfg.Device, Port: cfg.PortUp})
		if cfg.DeviceClass != "" {
			bridge.DeviceClass = cfg.DeviceClass
		}
		bridge.Icon = cfg.Icon
		e.covers = append(e.covers, cover{bridge: bridge, metadata: cfg.Metadata})
	}

	for _, cfg := range Cfg.Lights {
		m, err := registry.Get(cfg.Gateway)
		if err != nil {
			return nil, err
		}

		l, err := light.New(cfg.Name, m, cfg.Device, cfg.Port, cfg.Mode)
		if err != nil {
			return nil, err
		}
		l.Subscribe(m.Bus())
		e.lights = append(e.lights, mqtt.NewLightBridge(client, l))
	}

	for _, cfg := range Cfg.BinarySensors {
		m, err := registry.Get(cfg.Gateway)
		if err != nil {
			return nil, err
		}

		s := binarysensor.New(cfg.Name, m, cfg.Device, cfg.Port)
		s.Subscribe(m.Bus())
		e.sensors = append(e.sensors, mqtt.NewSensorBridge(client, s))
	}

	return e, nil
}

// announce publishes discovery and current state of every entity and
// subscribes command topics. It runs on every broker (re)connect.
func (e *entities) announce(ctx context.Context, client paho.Client) {
	for _, a := range e.availability {
		a.Publish()
	}

	for _, c := range e.covers {
		bridge := c.bridge
		if len(c.metadata) > 0 {
			if err := bridge.SetMetadata(c.metadata); err != nil {
				logrus.Error(err)
			}
		}
		if Cfg.HASS.Enabled {
			if err := mqtt.PublishHAAutoDiscovery(client, Cfg.HASS.TopicPrefix, mqtt.NewHACoverFromMQTTBridge(bridge)); err != nil {
				logrus.Error(err)
			}
		}
		if err := bridge.Subscribe(ctx); err != nil {
			logrus.Error(err)
		}
		bridge.Publish()
	}

	for _, bridge := range e.lights {
		if Cfg.HASS.Enabled {
			if err := mqtt.PublishHAAutoDiscovery(client, Cfg.HASS.TopicPrefix, mqtt.NewHALightFromMQTTBridge(bridge)); err != nil {
				logrus.Error(err)
			}
		}
		if err := bridge.Subscribe(ctx); err != nil {
			logrus.Error(err)
		}
		bridge.Publish()
	}

	for _, bridge := range e.sensors {
		if Cfg.HASS.Enabled {
			if err := mqtt.PublishHAAutoDiscovery(client, Cfg.HASS.TopicPrefix, mqtt.NewHABinarySensorFromMQTTBridge(bridge)); err != nil {
				logrus.Error(err)
			}
		}
		bridge.Publish()
	}
}
