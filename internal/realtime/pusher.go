package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	protocolVersion = "7"
	clientName      = "vardash-go"
	clientVersion   = "1.0.0"

	DefaultCluster = "ap2"

	defaultActivityTimeout = 120 * time.Second
	pongTimeout            = 30 * time.Second
	writeTimeout           = 10 * time.Second
)

type frame struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type connectionEstablished struct {
	SocketID        string `json:"socket_id"`
	ActivityTimeout int    `json:"activity_timeout"`
}

type protocolError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Client is one Pusher connection shared by any number of channel subscriptions.
// It dials lazily on the first Subscribe and never reconnects.
type Client struct {
	cfg    Config
	dialer *websocket.Dialer

	mu       sync.Mutex
	conn     *websocket.Conn
	socketID string
	channels map[string]*channel
	closed   bool
	done     chan struct{}

	writeMu sync.Mutex
}

func New(cfg Config) (*Client, error) {
	if cfg.AppKey == "" {
		return nil, ErrAppKeyRequired
	}
	if cfg.Cluster == "" && cfg.Host == "" {
		cfg.Cluster = DefaultCluster
	}
	return &Client{
		cfg:      cfg,
		dialer:   websocket.DefaultDialer,
		channels: make(map[string]*channel),
	}, nil
}

// URL returns the websocket endpoint for the configured app.
func (c *Client) URL() string {
	scheme := "wss"
	if c.cfg.Insecure {
		scheme = "ws"
	}
	host := c.cfg.Host
	if host == "" {
		host = "ws-" + c.cfg.Cluster + ".pusher.com"
	}

	q := url.Values{}
	q.Set("protocol", protocolVersion)
	q.Set("client", clientName)
	q.Set("version", clientVersion)
	q.Set("flash", "false")

	u := url.URL{Scheme: scheme, Host: host, Path: "/app/" + c.cfg.AppKey, RawQuery: q.Encode()}
	return u.String()
}

func (c *Client) SocketID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.socketID
}

// Subscribe joins channel, connecting first when needed. Subscribing twice to the
// same channel returns the existing subscription.
func (c *Client) Subscribe(ctx context.Context, name string) (Channel, error) {
	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if ch, ok := c.channels[name]; ok {
		c.mu.Unlock()
		return ch, nil
	}
	ch := &channel{name: name, client: c, handlers: make(map[string][]Handler)}
	c.channels[name] = ch
	c.mu.Unlock()

	if err := c.send("pusher:subscribe", map[string]string{"channel": name}); err != nil {
		c.mu.Lock()
		delete(c.channels, name)
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s: %v", ErrSubscription, name, err)
	}
	return ch, nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	done := c.done
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	c.writeMu.Lock()
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeTimeout))
	c.writeMu.Unlock()

	err := conn.Close()
	<-done
	return err
}

func (c *Client) connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.conn != nil {
		return nil
	}

	conn, _, err := c.dialer.DialContext(ctx, c.URL(), nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHandshake, err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
	} else {
		conn.SetReadDeadline(time.Now().Add(pongTimeout))
	}

	var first frame
	if err := conn.ReadJSON(&first); err != nil {
		conn.Close()
		return fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	if first.Event != "pusher:connection_established" {
		conn.Close()
		if first.Event == "pusher:error" {
			var perr protocolError
			json.Unmarshal(decodeData(first.Data), &perr)
			return fmt.Errorf("%w: %d %s", ErrHandshake, perr.Code, perr.Message)
		}
		return fmt.Errorf("%w: unexpected event %q", ErrHandshake, first.Event)
	}

	var established connectionEstablished
	if err := json.Unmarshal(decodeData(first.Data), &established); err != nil {
		conn.Close()
		return fmt.Errorf("%w: %v", ErrHandshake, err)
	}

	activity := defaultActivityTimeout
	if established.ActivityTimeout > 0 {
		activity = time.Duration(established.ActivityTimeout) * time.Second
	}

	c.conn = conn
	c.socketID = established.SocketID
	c.done = make(chan struct{})

	slog.Debug("pusher connected", "socket_id", established.SocketID, "activity_timeout", activity)

	go c.readLoop(conn, activity, c.done)
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn, activity time.Duration, done chan struct{}) {
	defer close(done)

	var lastSeen atomic.Int64
	lastSeen.Store(time.Now().UnixNano())
	go c.keepalive(activity, &lastSeen, done)

	for {
		conn.SetReadDeadline(time.Now().Add(activity + pongTimeout))

		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			c.lost(conn, err)
			return
		}
		lastSeen.Store(time.Now().UnixNano())

		c.dispatch(f)
	}
}

// keepalive pings the server whenever a full activity period passed without traffic.
func (c *Client) keepalive(activity time.Duration, lastSeen *atomic.Int64, done <-chan struct{}) {
	ticker := time.NewTicker(activity)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			idle := time.Since(time.Unix(0, lastSeen.Load()))
			if idle < activity {
				continue
			}
			if err := c.send("pusher:ping", struct{}{}); err != nil {
				slog.Debug("pusher ping failed", "error", err)
			}
		}
	}
}

func (c *Client) dispatch(f frame) {
	switch f.Event {
	case "pusher:ping":
		if err := c.send("pusher:pong", struct{}{}); err != nil {
			slog.Warn("pusher pong failed", "error", err)
		}
		return
	case "pusher:pong":
		return
	case "pusher:error":
		var perr protocolError
		json.Unmarshal(decodeData(f.Data), &perr)
		slog.Warn("pusher error", "code", perr.Code, "message", perr.Message)
		return
	case "pusher_internal:subscription_succeeded":
		f.Event = EventSubscriptionSucceeded
	}

	if f.Channel == "" {
		return
	}

	c.mu.Lock()
	ch, ok := c.channels[f.Channel]
	c.mu.Unlock()
	if !ok {
		return
	}
	ch.emit(f.Event, decodeData(f.Data))
}

func (c *Client) lost(conn *websocket.Conn, err error) {
	c.mu.Lock()
	closed := c.closed
	c.closed = true
	c.mu.Unlock()

	conn.Close()
	if !closed {
		slog.Warn("pusher connection lost", "error", err)
	}
}

func (c *Client) send(event string, data any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrClosed
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(frame{Event: event, Data: payload})
}

func (c *Client) unsubscribe(name string) error {
	c.mu.Lock()
	delete(c.channels, name)
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil
	}
	return c.send("pusher:unsubscribe", map[string]string{"channel": name})
}

// decodeData unwraps the string-encoded JSON that Pusher uses for event data.
func decodeData(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || raw[0] != '"' {
		return raw
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return raw
	}
	return json.RawMessage(s)
}

type channel struct {
	name   string
	client *Client

	mu       sync.Mutex
	handlers map[string][]Handler
}

func (ch *channel) Name() string {
	return ch.name
}

func (ch *channel) Bind(event string, h Handler) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.handlers[event] = append(ch.handlers[event], h)
}

func (ch *channel) Unsubscribe() error {
	return ch.client.unsubscribe(ch.name)
}

func (ch *channel) emit(event string, data json.RawMessage) {
	ch.mu.Lock()
	handlers := append([]Handler(nil), ch.handlers[event]...)
	ch.mu.Unlock()

	for _, h := range handlers {
		h(data)
	}
}
