package mqtt

import (
	"context"
	"fmt"
	"sync"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/jkaflik/neuron2mqtt/internal/bus"
	"github.com/jkaflik/neuron2mqtt/internal/shutter"
)

type published struct {
	topic    string
	retained bool
	payload  interface{}
}

type fakeToken struct {
	paho.Token
	err error
}

func (t fakeToken) Wait() bool   { return true }
func (t fakeToken) Error() error { return t.err }

type fakeMessage struct {
	paho.Message
	topic   string
	payload []byte
}

func (m fakeMessage) Topic() string   { return m.topic }
func (m fakeMessage) Payload() []byte { return m.payload }

// fakeClient records publishes and lets tests deliver messages to subscribers.
type fakeClient struct {
	paho.Client

	l            sync.Mutex
	published    []published
	handlers     map[string]paho.MessageHandler
	unsubscribed []string
}

func newFakeClient() *fakeClient {
	return &fakeClient{handlers: map[string]paho.MessageHandler{}}
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	c.l.Lock()
	defer c.l.Unlock()

	c.published = append(c.published, published{topic: topic, retained: retained, payload: payload})
	return fakeToken{}
}

func (c *fakeClient) Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token {
	c.l.Lock()
	defer c.l.Unlock()

	c.handlers[topic] = callback
	return fakeToken{}
}

func (c *fakeClient) Unsubscribe(topics ...string) paho.Token {
	c.l.Lock()
	defer c.l.Unlock()

	c.unsubscribed = append(c.unsubscribed, topics...)
	for _, topic := range topics {
		delete(c.handlers, topic)
	}
	return fakeToken{}
}

func (c *fakeClient) deliver(topic, payload string) bool {
	c.l.Lock()
	h, ok := c.handlers[topic]
	c.l.Unlock()

	if ok {
		h(c, fakeMessage{topic: topic, payload: []byte(payload)})
	}
	return ok
}

func (c *fakeClient) take() []published {
	c.l.Lock()
	defer c.l.Unlock()

	p := c.published
	c.published = nil
	return p
}

// last returns the payload most recently published on topic.
func (c *fakeClient) last(topic string) (interface{}, bool) {
	c.l.Lock()
	defer c.l.Unlock()

	for i := len(c.published) - 1; i >= 0; i-- {
		if c.published[i].topic == topic {
			return c.published[i].payload, true
		}
	}
	return nil, false
}

type fakeShutter struct {
	name    string
	status  shutter.Status
	calls   []string
	err     error
	handler shutter.ShutterUpdateHandler
}

func (s *fakeShutter) Name() string                            { return s.name }
func (s *fakeShutter) Status() shutter.Status                  { return s.status }
func (s *fakeShutter) OnUpdate(h shutter.ShutterUpdateHandler) { s.handler = h }

func (s *fakeShutter) call(name string) error {
	s.calls = append(s.calls, name)
	return s.err
}

func (s *fakeShutter) Open(context.Context) error      { return s.call("open") }
func (s *fakeShutter) Close(context.Context) error     { return s.call("close") }
func (s *fakeShutter) Stop(context.Context) error      { return s.call("stop") }
func (s *fakeShutter) OpenTilt(context.Context) error  { return s.call("open_tilt") }
func (s *fakeShutter) CloseTilt(context.Context) error { return s.call("close_tilt") }

func (s *fakeShutter) SetPosition(_ context.Context, position int) error {
	return s.call(fmt.Sprintf("position %d", position))
}

func (s *fakeShutter) SetTilt(_ context.Context, tilt int) error {
	return s.call(fmt.Sprintf("tilt %d", tilt))
}

type fakeGateway struct {
	l     sync.Mutex
	bus   *bus.Bus
	state map[string]float64
	sent  []interface{}
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{bus: bus.New(), state: map[string]float64{}}
}

func (g *fakeGateway) Name() string { return "neuron" }

func (g *fakeGateway) Send(_ context.Context, _, _ string, value interface{}) error {
	g.l.Lock()
	defer g.l.Unlock()

	g.sent = append(g.sent, value)
	return nil
}

func (g *fakeGateway) CircuitState(device, circuit string) (float64, bool) {
	g.l.Lock()
	defer g.l.Unlock()

	v, ok := g.state[device+"/"+circuit]
	return v, ok
}

func (g *fakeGateway) report(device, circuit string, v float64) {
	g.l.Lock()
	g.state[device+"/"+circuit] = v
	g.l.Unlock()

	g.bus.Publish(bus.Topic{Gateway: "neuron", Device: device, Circuit: circuit})
}
