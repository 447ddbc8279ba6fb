package ws

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// TokenValidator is the pluggable connect-time auth check. A nil
// validator admits every connection.
type TokenValidator func(token string) error

// Bus is the cross-instance fan-out channel the manager forwards every
// published event to. Implementations must not block the caller.
type Bus interface {
	// Forward relays a locally published event to other instances.
	Forward(ctx context.Context, topic, symbol string, envelope []byte) error
	// Healthy reports whether the shared channel is currently reachable.
	Healthy() bool
}

// TopicCache retains the last published envelope per topic so new
// subscribers can be primed. Failures are non-fatal.
type TopicCache interface {
	Store(ctx context.Context, topic string, envelope []byte) error
	Latest(ctx context.Context, topics []string) ([][]byte, error)
}

// ManagerConfig tunes the connection manager.
type ManagerConfig struct {
	MaxConnections    int
	SendQueueSize     int
	HeartbeatInterval time.Duration
	PongTimeout       time.Duration
	WriteTimeout      time.Duration
	ReadLimit         int64
	MaxViolations     int

	Authenticate TokenValidator
}

// DefaultManagerConfig returns production defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		MaxConnections:    1000,
		SendQueueSize:     256,
		HeartbeatInterval: 30 * time.Second,
		PongTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		ReadLimit:         64 * 1024,
		MaxViolations:     5,
	}
}

func (c *ManagerConfig) applyDefaults() {
	def := DefaultManagerConfig()
	if c.MaxConnections <= 0 {
		c.MaxConnections = def.MaxConnections
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = def.SendQueueSize
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = def.HeartbeatInterval
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = def.PongTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = def.ReadLimit
	}
	if c.MaxViolations <= 0 {
		c.MaxViolations = def.MaxViolations
	}
}

// Stats is a read-only snapshot of the manager for the operational
// surface.
type Stats struct {
	ActiveConnections      int            `json:"active_connections"`
	LifetimeConnections    int64          `json:"lifetime_connections"`
	LifetimeDisconnections int64          `json:"lifetime_disconnections"`
	MessagesSent           int64          `json:"messages_sent"`
	MessagesDropped        int64          `json:"messages_dropped"`
	SubscriptionsByTopic   map[string]int `json:"subscriptions_by_topic"`
	BusHealthy             bool           `json:"bus_healthy"`
	MaxConnections         int            `json:"max_connections"`
}

// busItem is one event awaiting cross-instance forwarding.
type busItem struct {
	topic    string
	symbol   string
	envelope []byte
}

// Manager is the sole owner of all sessions and the topic registry, and
// the single entry point producers publish through.
type Manager struct {
	cfg      ManagerConfig
	logger   *zap.Logger
	registry *Registry

	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool

	bus   Bus
	cache TopicCache
	busCh chan busItem

	lifetimeConnections    atomic.Int64
	lifetimeDisconnections atomic.Int64
	messagesSent           atomic.Int64
	messagesDropped        atomic.Int64

	done     chan struct{}
	doneOnce sync.Once
	wg       sync.WaitGroup
}

// NewManager creates a connection manager. bus and cache may be nil, in
// which case the instance runs standalone with no priming cache.
func NewManager(cfg ManagerConfig, bus Bus, cache TopicCache, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.applyDefaults()

	m := &Manager{
		cfg:      cfg,
		logger:   logger,
		registry: NewRegistry(),
		sessions: make(map[string]*Session),
		bus:      bus,
		cache:    cache,
		busCh:    make(chan busItem, 1024),
		done:     make(chan struct{}),
	}

	m.wg.Add(2)
	go m.busWorker()
	go m.heartbeatSweep()
	return m
}

// Accept validates the token, admits the connection if capacity allows,
// creates a session and sends the connected envelope. The raw connection
// is closed before any session exists when auth or capacity reject it.
func (m *Manager) Accept(conn *websocket.Conn, token string) (*Session, error) {
	if m.cfg.Authenticate != nil {
		if err := m.cfg.Authenticate(token); err != nil {
			m.logger.Debug("rejecting connection, auth failed", zap.Error(err))
			conn.Close()
			return nil, ErrAuthentication
		}
	}

	id := uuid.NewString()
	sess := newSession(id, conn, m, m.logger)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		conn.Close()
		return nil, ErrManagerClosed
	}
	if len(m.sessions) >= m.cfg.MaxConnections {
		m.mu.Unlock()
		m.refuseAtCapacity(conn)
		return nil, ErrCapacity
	}
	m.sessions[id] = sess
	active := len(m.sessions)
	m.mu.Unlock()

	m.lifetimeConnections.Add(1)
	metricConnectionsTotal.Inc()
	metricActiveConnections.Set(float64(active))

	sess.sendEnvelope(func() Envelope {
		env := NewEnvelope(TypeConnected, ConnectedPayload{ConnectionID: id})
		env.ConnectionID = id
		return env
	}(), true)

	go sess.writePump()
	go sess.readPump()

	m.logger.Info("connection accepted",
		zap.String("connection_id", id),
		zap.Int("active_connections", active))
	return sess, nil
}

// refuseAtCapacity makes a best-effort final error write before closing.
func (m *Manager) refuseAtCapacity(conn *websocket.Conn) {
	env := NewEnvelope(TypeError, ErrorPayload{
		Message: "connection limit reached",
		Code:    "CAPACITY",
	})
	if data, err := env.Encode(); err == nil {
		conn.SetWriteDeadline(time.Now().Add(time.Second))
		conn.WriteMessage(websocket.TextMessage, data)
	}
	conn.Close()
	m.logger.Warn("refused connection at capacity",
		zap.Int("max_connections", m.cfg.MaxConnections))
}

// Subscribe idempotently adds registry entries for the connection and
// echoes the resolved interest set back on the wire. Cached last values
// for the requested topics are queued so new subscribers start primed.
func (m *Manager) Subscribe(connID string, topics, symbols []string) error {
	m.mu.RLock()
	sess, ok := m.sessions[connID]
	m.mu.RUnlock()
	if !ok {
		return ErrUnknownConnection
	}

	m.registry.Subscribe(connID, topics, symbols)

	allTopics, allSymbols := m.registry.InterestsOf(connID)
	sess.sendEnvelope(NewEnvelope(TypeSubscribed, SubscriptionRequest{
		Topics:  emptyIfNil(allTopics),
		Symbols: emptyIfNil(allSymbols),
	}), true)

	m.primeFromCache(sess, topics)

	m.logger.Debug("subscribed",
		zap.String("connection_id", connID),
		zap.Strings("topics", topics),
		zap.Strings("symbols", symbols))
	return nil
}

func (m *Manager) primeFromCache(sess *Session, topics []string) {
	if m.cache == nil || len(topics) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	cached, err := m.cache.Latest(ctx, topics)
	if err != nil {
		m.logger.Debug("last-value cache unavailable", zap.Error(err))
		return
	}
	for _, data := range cached {
		_ = sess.Enqueue(data, false)
	}
}

// Unsubscribe idempotently removes registry entries and echoes the
// removed set. Unknown topics are a no-op.
func (m *Manager) Unsubscribe(connID string, topics, symbols []string) error {
	m.mu.RLock()
	sess, ok := m.sessions[connID]
	m.mu.RUnlock()
	if !ok {
		return ErrUnknownConnection
	}

	m.registry.Unsubscribe(connID, topics, symbols)

	sess.sendEnvelope(NewEnvelope(TypeUnsubscribed, SubscriptionRequest{
		Topics:  emptyIfNil(topics),
		Symbols: emptyIfNil(symbols),
	}), true)

	m.logger.Debug("unsubscribed",
		zap.String("connection_id", connID),
		zap.Strings("topics", topics),
		zap.Strings("symbols", symbols))
	return nil
}

// Publish fans an event out to every locally interested session and
// forwards it to the bus for other instances. It never blocks on a slow
// session: full queues evict their oldest entry instead.
func (m *Manager) Publish(topic, symbol string, payload interface{}) {
	env := NewEnvelope(EventTypeForTopic(topic), payload)
	data, err := env.Encode()
	if err != nil {
		m.logger.Error("encode published event", zap.Error(err), zap.String("topic", topic))
		return
	}

	m.deliverLocal(topic, symbol, data)

	select {
	case m.busCh <- busItem{topic: topic, symbol: symbol, envelope: data}:
	default:
		metricBusForwardFailures.Inc()
		m.logger.Warn("bus forward queue full, event not relayed", zap.String("topic", topic))
	}
}

// DeliverLocal hands a bus-received event to local sessions without
// re-forwarding it, which is what breaks relay loops.
func (m *Manager) DeliverLocal(topic, symbol string, envelope []byte) {
	m.deliverLocal(topic, symbol, envelope)
}

func (m *Manager) deliverLocal(topic, symbol string, envelope []byte) {
	start := time.Now()
	ids := m.registry.Interested(topic, symbol)
	for _, id := range ids {
		m.mu.RLock()
		sess, ok := m.sessions[id]
		m.mu.RUnlock()
		if !ok {
			// Session torn down between snapshot and delivery.
			continue
		}
		_ = sess.Enqueue(envelope, false)
	}
	metricPublishLatency.Observe(time.Since(start).Seconds())
}

// busWorker drains the forward queue so Publish callers never wait on
// bus or cache round-trips.
func (m *Manager) busWorker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.done:
			return
		case item := <-m.busCh:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if m.bus != nil {
				if err := m.bus.Forward(ctx, item.topic, item.symbol, item.envelope); err != nil {
					metricBusForwardFailures.Inc()
					m.logger.Warn("bus forward failed, continuing single-instance",
						zap.String("topic", item.topic), zap.Error(err))
				}
			}
			if m.cache != nil {
				if err := m.cache.Store(ctx, item.topic, item.envelope); err != nil {
					m.logger.Debug("last-value cache store failed",
						zap.String("topic", item.topic), zap.Error(err))
				}
			}
			cancel()
		}
	}
}

// heartbeatSweep prunes sessions that stayed silent past the ping window.
func (m *Manager) heartbeatSweep() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	deadline := m.cfg.HeartbeatInterval + m.cfg.PongTimeout
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			var stale []string
			m.mu.RLock()
			for id, sess := range m.sessions {
				if time.Since(sess.LastActivity()) > deadline {
					stale = append(stale, id)
				}
			}
			m.mu.RUnlock()

			for _, id := range stale {
				metricHeartbeatTimeouts.Inc()
				m.logger.Warn("heartbeat timeout, pruning session",
					zap.String("connection_id", id))
				m.Disconnect(id)
			}
		}
	}
}

// Disconnect removes the connection's registry entries, closes its queue
// and releases the session. Idempotent; safe concurrently with Publish.
func (m *Manager) Disconnect(connID string) {
	m.mu.Lock()
	sess, ok := m.sessions[connID]
	if ok {
		delete(m.sessions, connID)
	}
	active := len(m.sessions)
	m.mu.Unlock()
	if !ok {
		return
	}

	m.registry.RemoveAll(connID)
	m.messagesDropped.Add(int64(sess.DroppedMessages()))
	sess.teardown()

	m.lifetimeDisconnections.Add(1)
	metricDisconnectionsTotal.Inc()
	metricActiveConnections.Set(float64(active))

	m.logger.Info("connection closed",
		zap.String("connection_id", connID),
		zap.Int("active_connections", active),
		zap.Uint64("dropped_messages", sess.DroppedMessages()))
}

// Interests returns the connection's current topics and symbols.
func (m *Manager) Interests(connID string) (topics, symbols []string) {
	return m.registry.InterestsOf(connID)
}

// Session returns the live session for an id, if any.
func (m *Manager) Session(connID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[connID]
	return sess, ok
}

// Stats returns an observability snapshot.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	active := len(m.sessions)
	dropped := m.messagesDropped.Load()
	for _, sess := range m.sessions {
		dropped += int64(sess.DroppedMessages())
	}
	m.mu.RUnlock()

	busHealthy := false
	if m.bus != nil {
		busHealthy = m.bus.Healthy()
	}

	return Stats{
		ActiveConnections:      active,
		LifetimeConnections:    m.lifetimeConnections.Load(),
		LifetimeDisconnections: m.lifetimeDisconnections.Load(),
		MessagesSent:           m.messagesSent.Load(),
		MessagesDropped:        dropped,
		SubscriptionsByTopic:   m.registry.TopicCounts(),
		BusHealthy:             busHealthy,
		MaxConnections:         m.cfg.MaxConnections,
	}
}

// Shutdown disconnects every session and stops the background workers.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.Disconnect(id)
	}

	m.doneOnce.Do(func() { close(m.done) })

	finished := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
