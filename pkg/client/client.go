// Package client is the Go SDK for the tradewire event stream. It owns
// the connect/backoff/resubscribe state machine: subscriptions are
// recorded locally and re-issued after every reconnect, because the
// server destroys the old session and keeps nothing.
package client

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// State is the client connection state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Config tunes the client.
type Config struct {
	URL   string
	Token string

	// AutoReconnect re-dials with exponential backoff after any failure.
	// Only an explicit Close stops it.
	AutoReconnect    bool
	ReconnectFloor   time.Duration // default 1s
	ReconnectCeiling time.Duration // default 60s

	HandshakeTimeout time.Duration // default 10s
	WriteTimeout     time.Duration // default 5s
	EventBuffer      int           // default 256
}

func (c *Config) applyDefaults() {
	if c.ReconnectFloor <= 0 {
		c.ReconnectFloor = time.Second
	}
	if c.ReconnectCeiling <= 0 {
		c.ReconnectCeiling = 60 * time.Second
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 256
	}
}

// Client maintains one connection to a tradewire server.
type Client struct {
	cfg     Config
	logger  *zap.Logger
	backoff *backoff

	mu      sync.Mutex
	state   State
	conn    *websocket.Conn
	writeMu sync.Mutex

	// Subscriptions survive reconnects.
	topics  map[string]struct{}
	symbols map[string]struct{}

	events  chan Envelope
	onState func(State)

	runCtx    context.Context
	runCancel context.CancelFunc
}

// New creates a client; call Connect to start it.
func New(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		cfg:       cfg,
		logger:    logger,
		backoff:   newBackoff(cfg.ReconnectFloor, cfg.ReconnectCeiling),
		state:     StateDisconnected,
		topics:    make(map[string]struct{}),
		symbols:   make(map[string]struct{}),
		events:    make(chan Envelope, cfg.EventBuffer),
		runCtx:    ctx,
		runCancel: cancel,
	}
}

// Events returns the stream of envelopes received from the server.
// Slow consumers lose the oldest buffered events.
func (c *Client) Events() <-chan Envelope {
	return c.events
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnStateChange registers a hook invoked on every state transition.
func (c *Client) OnStateChange(fn func(State)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	if c.state == StateClosed && s != StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = s
	fn := c.onState
	c.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

// Connect performs the first handshake. On failure with AutoReconnect
// enabled the retry loop keeps running in the background and the error
// describes only the first attempt.
func (c *Client) Connect(ctx context.Context) error {
	c.setState(StateConnecting)
	if err := c.dial(ctx); err != nil {
		if c.cfg.AutoReconnect {
			c.setState(StateReconnecting)
			go c.reconnectLoop()
		} else {
			c.setState(StateDisconnected)
		}
		return err
	}
	return nil
}

// dial runs one handshake attempt and, on success, restores recorded
// subscriptions and starts the read loop.
func (c *Client) dial(ctx context.Context) error {
	header := http.Header{}
	if c.cfg.Token != "" {
		header.Set("Authorization", c.cfg.Token)
	}
	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}

	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		conn.Close()
		return nil
	}
	c.conn = conn
	c.mu.Unlock()

	c.backoff.reset()
	c.setState(StateConnected)
	c.logger.Debug("connected", zap.String("url", c.cfg.URL))

	c.resubscribe()
	go c.readLoop(conn)
	return nil
}

// resubscribe restores the locally recorded subscription set after a
// reconnect.
func (c *Client) resubscribe() {
	c.mu.Lock()
	topics := setToSlice(c.topics)
	symbols := setToSlice(c.symbols)
	c.mu.Unlock()

	if len(topics) == 0 && len(symbols) == 0 {
		return
	}
	if err := c.send(TypeSubscribe, SubscriptionRequest{Topics: topics, Symbols: symbols}); err != nil {
		c.logger.Warn("resubscribe failed", zap.Error(err))
	}
}

// Subscribe records the interest locally and, when connected, sends it.
func (c *Client) Subscribe(topics, symbols []string) error {
	c.mu.Lock()
	for _, t := range topics {
		c.topics[t] = struct{}{}
	}
	for _, s := range symbols {
		c.symbols[s] = struct{}{}
	}
	connected := c.state == StateConnected
	c.mu.Unlock()

	if !connected {
		return nil
	}
	return c.send(TypeSubscribe, SubscriptionRequest{Topics: topics, Symbols: symbols})
}

// Unsubscribe removes the interest locally and, when connected, sends it.
func (c *Client) Unsubscribe(topics, symbols []string) error {
	c.mu.Lock()
	for _, t := range topics {
		delete(c.topics, t)
	}
	for _, s := range symbols {
		delete(c.symbols, s)
	}
	connected := c.state == StateConnected
	c.mu.Unlock()

	if !connected {
		return nil
	}
	return c.send(TypeUnsubscribe, SubscriptionRequest{Topics: topics, Symbols: symbols})
}

// Subscriptions returns the locally recorded subscription set.
func (c *Client) Subscriptions() (topics, symbols []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return setToSlice(c.topics), setToSlice(c.symbols)
}

func (c *Client) send(msgType string, data interface{}) error {
	payload, err := json.Marshal(struct {
		Type string      `json:"type"`
		Data interface{} `json:"data,omitempty"`
	}{Type: msgType, Data: data})
	if err != nil {
		return err
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return websocket.ErrCloseSent
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, payload)
}

// readLoop consumes server envelopes until the socket dies, answering
// pings and fanning everything else to the events channel.
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleDisconnect(err)
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Warn("dropping malformed envelope", zap.Error(err))
			continue
		}

		if env.Type == TypePing {
			if err := c.send(TypePong, nil); err != nil {
				c.logger.Debug("pong failed", zap.Error(err))
			}
			continue
		}

		select {
		case c.events <- env:
		default:
			// Consumer is behind; favor fresh events.
			select {
			case <-c.events:
			default:
			}
			select {
			case c.events <- env:
			default:
			}
		}
	}
}

func (c *Client) handleDisconnect(err error) {
	c.mu.Lock()
	closed := c.state == StateClosed
	c.conn = nil
	c.mu.Unlock()
	if closed {
		return
	}

	c.logger.Warn("connection lost", zap.Error(err))
	if !c.cfg.AutoReconnect {
		c.setState(StateDisconnected)
		return
	}
	c.setState(StateReconnecting)
	go c.reconnectLoop()
}

// reconnectLoop re-dials with exponential backoff until it succeeds or
// the client is closed.
func (c *Client) reconnectLoop() {
	for {
		delay := c.backoff.next()
		c.logger.Info("reconnecting", zap.Duration("delay", delay))

		select {
		case <-c.runCtx.Done():
			return
		case <-time.After(delay):
		}

		c.setState(StateConnecting)
		if err := c.dial(c.runCtx); err != nil {
			c.logger.Warn("reconnect attempt failed", zap.Error(err))
			c.setState(StateReconnecting)
			continue
		}
		return
	}
}

// Close disconnects permanently; no reconnect follows.
func (c *Client) Close() error {
	c.setState(StateClosed)
	c.runCancel()

	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		return conn.Close()
	}
	return nil
}

func setToSlice(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}
