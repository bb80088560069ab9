package main

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/cristalhq/aconfig"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/jkaflik/neuron2mqtt/internal/gateway"
	"github.com/jkaflik/neuron2mqtt/internal/gateway/expander"
	"github.com/jkaflik/neuron2mqtt/internal/light"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

const (
	gatewayKindEvok     = "evok"
	gatewayKindMcp23017 = "mcp23017"
)

var (
	outputCircuitPattern = regexp.MustCompile(`^(?:[1-9]_[0-1][0-9]|[1-8])`)
	inputCircuitPattern  = regexp.MustCompile(`^[1-9]_[0-1][0-9]`)
)

type cfgMcp23017 struct {
	Bus          uint8         `yaml:"bus"`
	DeviceNumber uint8         `yaml:"device_number"`
	NormalClosed bool          `yaml:"normal_closed"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

type cfgGateway struct {
	Name              string        `yaml:"name"`
	Kind              string        `yaml:"kind"`
	Address           string        `yaml:"address"`
	Type              string        `yaml:"type"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`

	Mcp23017 cfgMcp23017 `yaml:"mcp23017"`
}

type cfgCover struct {
	Name     string `yaml:"name"`
	Gateway  string `yaml:"gateway"`
	Device   string `yaml:"device"`
	PortUp   string `yaml:"port_up"`
	PortDown string `yaml:"port_down"`

	FullOpenTime      time.Duration `yaml:"full_open_time"`
	FullCloseTime     time.Duration `yaml:"full_close_time"`
	TiltChangeTime    time.Duration `yaml:"tilt_change_time"`
	MinReverseDirTime time.Duration `yaml:"min_reverse_dir_time"`

	DeviceClass string                 `yaml:"device_class"`
	Icon        string                 `yaml:"icon"`
	Metadata    map[string]interface{} `yaml:"metadata"`
}

type cfgLight struct {
	Name    string     `yaml:"name"`
	Gateway string     `yaml:"gateway"`
	Device  string     `yaml:"device"`
	Port    string     `yaml:"port"`
	Mode    light.Mode `yaml:"mode"`
}

type cfgBinarySensor struct {
	Name    string `yaml:"name"`
	Gateway string `yaml:"gateway"`
	Device  string `yaml:"device"`
	Port    string `yaml:"port"`
}

type cfgMQTT struct {
	ClientID string `yaml:"client_id" env:"CLIENT_ID"`
	Broker   string `yaml:"broker" default:"127.0.0.1:1883" env:"BROKER"`
	Username string `yaml:"username" env:"USERNAME"`
	Password string `yaml:"password" env:"PASSWORD"`
}

type cfgHASS struct {
	Enabled     bool   `yaml:"enabled" default:"true" env:"ENABLED"`
	TopicPrefix string `yaml:"topic_prefix" default:"homeassistant" env:"TOPIC_PREFIX"`
}

type config struct {
	LogLevel string `yaml:"log_level" default:"info" env:"LOG_LEVEL"`

	MQTT cfgMQTT `yaml:"mqtt" env:"MQTT"`
	HASS cfgHASS `yaml:"hass" env:"HASS"`

	Gateways      []cfgGateway      `yaml:"gateways"`
	Covers        []cfgCover        `yaml:"covers"`
	Lights        []cfgLight        `yaml:"lights"`
	BinarySensors []cfgBinarySensor `yaml:"binary_sensors"`
}

var Cfg config

var configLoader = aconfig.LoaderFor(&Cfg, aconfig.Config{
	EnvPrefix: "N2M",
	SkipFlags: true,
	SkipFiles: true,
})

func loadConfigFromYamlFile(filename string) {
	f, err := os.Open(filename)
	if err != nil {
		logrus.Error(err)
		return
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(&Cfg); err != nil {
		logrus.Fatal(err)
	}
}

// validate checks entity bindings and fills per-item defaults that the
// loader cannot reach inside lists.
func (c *config) validate() error {
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = fmt.Sprintf("neuron2mqtt-%s", uuid.New())
	}

	gateways := map[string]*cfgGateway{}
	for i := range c.Gateways {
		g := &c.Gateways[i]
		if g.Name == "" {
			return errors.Errorf("gateways[%d]: name is required", i)
		}
		if _, found := gateways[g.Name]; found {
			return errors.Errorf("%s: duplicate gateway", g.Name)
		}
		switch g.Kind {
		case "", gatewayKindEvok:
			g.Kind = gatewayKindEvok
			if g.Address == "" {
				return errors.Errorf("%s: address is required", g.Name)
			}
		case gatewayKindMcp23017:
		default:
			return errors.Errorf("%s: %s is not supported gateway kind", g.Name, g.Kind)
		}
		if g.Type == "" {
			g.Type = g.Kind
		}
		if g.ReconnectInterval <= 0 {
			g.ReconnectInterval = gateway.DefaultReconnectInterval
		}
		gateways[g.Name] = g
	}

	names := map[string]bool{}
	unique := func(kind, name string) error {
		if name == "" {
			return errors.Errorf("%s: name is required", kind)
		}
		key := kind + "/" + name
		if names[key] {
			return errors.Errorf("%s: duplicate %s", name, kind)
		}
		names[key] = true
		return nil
	}

	for _, cv := range c.Covers {
		if err := unique("cover", cv.Name); err != nil {
			return err
		}
		g, err := lookupGateway(gateways, cv.Name, cv.Gateway)
		if err != nil {
			return err
		}
		if err := checkOutput(g, cv.Name, cv.Device, []string{"relay", "led", "ro"}, cv.PortUp, cv.PortDown); err != nil {
			return err
		}
		if cv.PortUp == cv.PortDown {
			return errors.Errorf("%s: port_up and port_down must differ", cv.Name)
		}
		if cv.FullOpenTime <= 0 || cv.FullCloseTime <= 0 || cv.TiltChangeTime <= 0 {
			return errors.Errorf("%s: full_open_time, full_close_time and tilt_change_time must be positive", cv.Name)
		}
		if cv.MinReverseDirTime < 0 {
			return errors.Errorf("%s: min_reverse_dir_time must not be negative", cv.Name)
		}
	}

	for _, l := range c.Lights {
		if err := unique("light", l.Name); err != nil {
			return err
		}
		g, err := lookupGateway(gateways, l.Name, l.Gateway)
		if err != nil {
			return err
		}
		if err := checkOutput(g, l.Name, l.Device, []string{"relay", "led", "ro", "do"}, l.Port); err != nil {
			return err
		}
		if l.Mode != light.ModeOnOff && l.Mode != light.ModePWM {
			return errors.Errorf("%s: %s is not supported light mode", l.Name, l.Mode)
		}
		if l.Mode == light.ModePWM && g.Kind == gatewayKindMcp23017 {
			return errors.Errorf("%s: gateway %s has no pwm outputs", l.Name, g.Name)
		}
	}

	for _, s := range c.BinarySensors {
		if err := unique("binary_sensor", s.Name); err != nil {
			return err
		}
		g, err := lookupGateway(gateways, s.Name, s.Gateway)
		if err != nil {
			return err
		}
		if g.Kind != gatewayKindEvok {
			return errors.Errorf("%s: gateway %s has no inputs", s.Name, g.Name)
		}
		if !oneOf(s.Device, "input", "di") {
			return errors.Errorf("%s: %s is not supported input device", s.Name, s.Device)
		}
		if !inputCircuitPattern.MatchString(s.Port) {
			return errors.Errorf("%s: %q is not a valid input circuit", s.Name, s.Port)
		}
	}

	return nil
}

func lookupGateway(gateways map[string]*cfgGateway, entity, name string) (*cfgGateway, error) {
	g, found := gateways[name]
	if !found {
		return nil, errors.Wrapf(gateway.ErrUnknownGateway, "%s: %q", entity, name)
	}
	return g, nil
}

func checkOutput(g *cfgGateway, entity, device string, devices []string, ports ...string) error {
	if g.Kind == gatewayKindMcp23017 {
		if device != expander.Device {
			return errors.Errorf("%s: gateway %s only drives %s circuits", entity, g.Name, expander.Device)
		}
		for _, port := range ports {
			if _, err := expander.PinFor(port); err != nil {
				return errors.Wrapf(err, "%s", entity)
			}
		}
		return nil
	}

	if !oneOf(device, devices...) {
		return errors.Errorf("%s: %s is not supported output device", entity, device)
	}
	for _, port := range ports {
		if !outputCircuitPattern.MatchString(port) {
			return errors.Errorf("%s: %q is not a valid output circuit", entity, port)
		}
	}
	return nil
}

func oneOf(v string, values ...string) bool {
	for _, candidate := range values {
		if v == candidate {
			return true
		}
	}
	return false
}

// expanderCircuits lists the output circuits bound on the named gateway.
func (c *config) expanderCircuits(gatewayName string) []string {
	var circuits []string
	for _, cv := range c.Covers {
		if cv.Gateway == gatewayName {
			circuits = append(circuits, cv.PortUp, cv.PortDown)
		}
	}
	for _, l := range c.Lights {
		if l.Gateway == gatewayName {
			circuits = append(circuits, l.Port)
		}
	}
	return circuits
}

func pahoOptsFromConfig() *paho.ClientOptions {
	return paho.NewClientOptions().
		SetClientID(Cfg.MQTT.ClientID).
		AddBroker(Cfg.MQTT.Broker).
		SetUsername(Cfg.MQTT.Username).
		SetPassword(Cfg.MQTT.Password).
		SetConnectTimeout(time.Second).
		SetPingTimeout(time.Second).
		SetWriteTimeout(time.Second).
		SetAutoReconnect(true)
}
