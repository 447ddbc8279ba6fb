package ws

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Session represents one accepted client connection. It owns the socket,
// a bounded send queue drained by a dedicated writer goroutine, and the
// per-connection heartbeat state. Sessions are created and destroyed only
// by the Manager.
type Session struct {
	ID string

	conn    *websocket.Conn
	queue   *sendQueue
	mgr     *Manager
	logger  *zap.Logger
	created time.Time

	lastActivity int64 // unix nanos, atomic
	violations   int32

	done      chan struct{}
	closeOnce sync.Once
}

func newSession(id string, conn *websocket.Conn, mgr *Manager, logger *zap.Logger) *Session {
	return &Session{
		ID:           id,
		conn:         conn,
		queue:        newSendQueue(mgr.cfg.SendQueueSize),
		mgr:          mgr,
		logger:       logger.With(zap.String("connection_id", id)),
		created:      time.Now(),
		lastActivity: time.Now().UnixNano(),
		done:         make(chan struct{}),
	}
}

// Enqueue queues a pre-serialized envelope for delivery. Returns
// ErrQueueClosed after teardown; a full queue silently evicts its oldest
// domain frame instead of blocking the caller.
func (s *Session) Enqueue(data []byte, control bool) error {
	before := s.queue.droppedCount()
	if err := s.queue.push(frame{data: data, control: control}); err != nil {
		return err
	}
	if d := s.queue.droppedCount() - before; d > 0 {
		metricMessagesDropped.Add(float64(d))
	}
	return nil
}

func (s *Session) sendEnvelope(env Envelope, control bool) {
	data, err := env.Encode()
	if err != nil {
		s.logger.Error("encode envelope", zap.Error(err), zap.String("type", env.Type))
		return
	}
	_ = s.Enqueue(data, control)
}

func (s *Session) sendError(message, code string) {
	s.sendEnvelope(NewEnvelope(TypeError, ErrorPayload{Message: message, Code: code}), true)
}

// CreatedAt reports when the session was accepted.
func (s *Session) CreatedAt() time.Time {
	return s.created
}

// LastActivity reports when the client was last heard from.
func (s *Session) LastActivity() time.Time {
	return time.Unix(0, atomic.LoadInt64(&s.lastActivity))
}

func (s *Session) touch() {
	atomic.StoreInt64(&s.lastActivity, time.Now().UnixNano())
}

// DroppedMessages reports how many envelopes this session evicted from a
// full queue.
func (s *Session) DroppedMessages() uint64 {
	return s.queue.droppedCount()
}

// teardown closes the socket and queue exactly once and lets both pumps
// unwind. Safe to call concurrently with an in-flight publish.
func (s *Session) teardown() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.queue.close()
		_ = s.conn.Close()
	})
}

// writePump drains the send queue onto the socket, one envelope at a
// time, and emits protocol-level pings on the heartbeat interval.
func (s *Session) writePump() {
	ticker := time.NewTicker(s.mgr.cfg.HeartbeatInterval)
	defer func() {
		ticker.Stop()
		s.mgr.Disconnect(s.ID)
	}()

	for {
		// The ping must go out on schedule even when the queue never
		// drains, or the sweep would prune a busy connection unpinged.
		select {
		case <-ticker.C:
			s.sendEnvelope(Envelope{Type: TypePing}, true)
		default:
		}

		fr, ok := s.queue.pop()
		if ok {
			s.conn.SetWriteDeadline(time.Now().Add(s.mgr.cfg.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, fr.data); err != nil {
				s.logger.Debug("write failed", zap.Error(err))
				return
			}
			metricMessagesSent.Inc()
			s.mgr.messagesSent.Add(1)
			continue
		}

		if s.queue.isClosed() {
			s.conn.SetWriteDeadline(time.Now().Add(s.mgr.cfg.WriteTimeout))
			s.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}

		select {
		case <-s.queue.wake:
		case <-ticker.C:
			s.sendEnvelope(Envelope{Type: TypePing}, true)
		case <-s.done:
		}
	}
}

// readPump consumes inbound client messages: subscription changes, pings,
// pongs, and status queries. Any inbound traffic refreshes the heartbeat
// clock. Malformed messages draw an error envelope; the connection is
// closed only after repeated violations.
func (s *Session) readPump() {
	defer s.mgr.Disconnect(s.ID)

	s.conn.SetReadLimit(s.mgr.cfg.ReadLimit)
	for {
		select {
		case <-s.done:
			return
		default:
		}

		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		s.touch()

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			if s.violation("malformed message") {
				return
			}
			continue
		}

		switch msg.Type {
		case TypeSubscribe:
			s.handleSubscribe(msg.Data, true)
		case TypeUnsubscribe:
			s.handleSubscribe(msg.Data, false)
		case TypePing:
			s.sendEnvelope(Envelope{Type: TypePong}, true)
		case TypePong:
			// Heartbeat reply; touch above already noted it.
		case TypeGetStatus:
			s.sendEnvelope(NewEnvelope(TypeSystemStatus, s.mgr.Stats()), true)
		case TypeGetSubscriptions:
			topics, symbols := s.mgr.registry.InterestsOf(s.ID)
			s.sendEnvelope(NewEnvelope(TypeSubscribed, SubscriptionRequest{
				Topics:  emptyIfNil(topics),
				Symbols: emptyIfNil(symbols),
			}), true)
		default:
			if s.violation("unknown message type: " + msg.Type) {
				return
			}
		}
	}
}

func (s *Session) handleSubscribe(raw json.RawMessage, subscribe bool) {
	var req SubscriptionRequest
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &req); err != nil {
			if s.violation("malformed subscription request") {
				// Caller loop exits on next read; force the socket shut.
				s.teardown()
			}
			return
		}
	}

	if subscribe {
		for _, topic := range req.Topics {
			if !ValidTopic(topic) {
				s.sendError("invalid topic: "+topic, "INVALID_TOPIC")
				return
			}
		}
		s.mgr.Subscribe(s.ID, req.Topics, req.Symbols)
	} else {
		s.mgr.Unsubscribe(s.ID, req.Topics, req.Symbols)
	}
}

// violation records a protocol violation and reports whether the session
// crossed the disconnect threshold.
func (s *Session) violation(reason string) bool {
	count := atomic.AddInt32(&s.violations, 1)
	s.sendError(reason, "PROTOCOL_ERROR")
	if int(count) >= s.mgr.cfg.MaxViolations {
		s.logger.Warn("closing connection after repeated protocol violations",
			zap.Int32("violations", count))
		return true
	}
	return false
}

func emptyIfNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
