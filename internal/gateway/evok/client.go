// Package evok talks to a Unipi Neuron through the EVOK websocket API.
package evok

import (
	"bytes"
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jkaflik/neuron2mqtt/internal/gateway"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Full state replies of bigger units run to hundreds of circuits
	maxMessageSize = 1 << 20

	dialTimeout = 10 * time.Second
)

// DefaultDevices are the device classes subscribed to by RegisterDefaultFilter.
var DefaultDevices = []string{"input", "relay", "led", "ro", "do", "di"}

type command struct {
	Cmd     string   `json:"cmd"`
	Devices []string `json:"devices,omitempty"`
}

// Client is a gateway.Client speaking EVOK over a websocket.
type Client struct {
	name    string
	url     string
	devices []string
	dialer  *websocket.Dialer

	l       sync.Mutex
	conn    *websocket.Conn
	session string
	done    chan struct{}
}

var _ gateway.Client = (*Client)(nil)

// New creates a client for the EVOK instance at address. address is either a
// host[:port] or a full websocket URL.
func New(name, address string) *Client {
	url := address
	if !strings.Contains(address, "://") {
		url = "ws://" + strings.TrimSuffix(address, "/") + "/ws"
	}

	return &Client{
		name:    name,
		url:     url,
		devices: DefaultDevices,
		dialer:  &websocket.Dialer{HandshakeTimeout: dialTimeout},
	}
}

func (c *Client) Connect(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	conn, _, err := c.dialer.DialContext(dialCtx, c.url, nil)
	if err != nil {
		return errors.Wrapf(err, "%s: dial %s", c.name, c.url)
	}

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	c.l.Lock()
	c.conn = conn
	c.session = uuid.NewString()
	c.done = make(chan struct{})
	done := c.done
	session := c.session
	c.l.Unlock()

	go c.keepalive(ctx, conn, done)

	logrus.Infof("%s: connected to %s (session %s)", c.name, c.url, session)
	return nil
}

// keepalive pings the peer and drops the connection when ctx is done, which
// unblocks a pending read.
func (c *Client) keepalive(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			_ = c.Close()
			return
		case <-ticker.C:
			c.l.Lock()
			if c.conn != conn {
				c.l.Unlock()
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.l.Unlock()
			if err != nil {
				logrus.Warnf("%s: ping failed: %s", c.name, err)
				return
			}
		}
	}
}

func (c *Client) RegisterDefaultFilter(_ context.Context) error {
	return c.write(command{Cmd: "filter", Devices: c.devices})
}

func (c *Client) FullStateSync(ctx context.Context, h gateway.UpdateHandler) error {
	if err := c.write(command{Cmd: "all"}); err != nil {
		return err
	}

	return c.Receive(ctx, h)
}

func (c *Client) Receive(_ context.Context, h gateway.UpdateHandler) error {
	c.l.Lock()
	conn := c.conn
	c.l.Unlock()
	if conn == nil {
		return gateway.ErrNotConnected
	}

	_, payload, err := conn.ReadMessage()
	if err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
			logrus.Warnf("%s: websocket read error: %s", c.name, err)
		}
		return errors.Wrapf(err, "%s: receive", c.name)
	}
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))

	states, err := decodeStates(payload)
	if err != nil {
		// A frame we cannot parse does not break the stream.
		logrus.Errorf("%s: malformed message %q: %s", c.name, payload, err)
		return nil
	}

	for _, s := range states {
		if s.Dev == "" || s.Circuit == "" || !s.Value.valid {
			continue
		}
		h(s.Dev, s.Circuit, s.Value.v)
	}

	return nil
}

func (c *Client) Send(_ context.Context, device, circuit string, value interface{}) error {
	msg := map[string]interface{}{
		"cmd":     "set",
		"dev":     device,
		"circuit": circuit,
	}

	switch v := value.(type) {
	case string:
		msg["value"] = v
	case map[string]string:
		for k, x := range v {
			msg[k] = x
		}
	case map[string]interface{}:
		for k, x := range v {
			msg[k] = x
		}
	default:
		return errors.Errorf("%s: unsupported value %T for %s/%s", c.name, value, device, circuit)
	}

	return c.write(msg)
}

func (c *Client) write(v interface{}) error {
	c.l.Lock()
	defer c.l.Unlock()

	if c.conn == nil {
		return gateway.ErrNotConnected
	}

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(v); err != nil {
		return errors.Wrapf(err, "%s: write", c.name)
	}

	return nil
}

func (c *Client) Close() error {
	c.l.Lock()
	defer c.l.Unlock()

	if c.conn == nil {
		return nil
	}

	close(c.done)
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	err := c.conn.Close()
	logrus.Debugf("%s: session %s closed", c.name, c.session)
	c.conn = nil
	c.session = ""

	return err
}

type circuitState struct {
	Dev     string `json:"dev"`
	Circuit string `json:"circuit"`
	Value   value  `json:"value"`
}

// value accepts the numeric, boolean and numeric string forms EVOK reports.
type value struct {
	v     float64
	valid bool
}

func (v *value) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		return nil
	case bytes.Equal(b, []byte("true")):
		v.v, v.valid = 1, true
		return nil
	case bytes.Equal(b, []byte("false")):
		v.v, v.valid = 0, true
		return nil
	}

	var s string
	if len(b) > 0 && b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
	} else {
		s = string(b)
	}

	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return nil
	}
	v.v, v.valid = f, true
	return nil
}

func decodeStates(payload []byte) ([]circuitState, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) > 0 && payload[0] == '[' {
		var states []circuitState
		if err := json.Unmarshal(payload, &states); err != nil {
			return nil, err
		}
		return states, nil
	}

	var s circuitState
	if err := json.Unmarshal(payload, &s); err != nil {
		return nil, err
	}
	return []circuitState{s}, nil
}
