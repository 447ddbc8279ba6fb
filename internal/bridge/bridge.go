// Package bridge relays published events between the in-process
// connection manager and a shared cross-instance pub/sub channel, so an
// event produced on one backend instance reaches clients connected to
// another. Redis is the primary backend; Kafka is available where
// persistence of the relay channel matters.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Message is the envelope shape on the shared channel. Origin carries the
// publishing instance id so each instance can drop its own messages when
// they fan back (local delivery already happened at publish time).
type Message struct {
	Origin   string          `json:"origin"`
	Topic    string          `json:"topic"`
	Symbol   string          `json:"symbol,omitempty"`
	Envelope json.RawMessage `json:"envelope"`
}

// Deliverer is the local delivery path bus-received events are handed to.
// It must not re-forward to the bus.
type Deliverer interface {
	DeliverLocal(topic, symbol string, envelope []byte)
}

// Backend abstracts the shared pub/sub channel.
type Backend interface {
	Publish(ctx context.Context, payload []byte) error
	// Subscribe starts consuming and invokes handler for every payload
	// until ctx is cancelled.
	Subscribe(ctx context.Context, handler func([]byte)) error
	Healthy(ctx context.Context) bool
	Close() error
}

// Bridge ties a Backend to the local delivery path.
type Bridge struct {
	instanceID string
	backend    Backend
	logger     *zap.Logger
}

// New creates a bridge around the given backend with a fresh instance id.
func New(backend Backend, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{
		instanceID: uuid.NewString(),
		backend:    backend,
		logger:     logger,
	}
}

// InstanceID returns this instance's origin tag.
func (b *Bridge) InstanceID() string {
	return b.instanceID
}

// Start subscribes to the shared channel and relays received events to
// the deliverer. Failure to subscribe leaves the instance in
// single-instance mode; local delivery is unaffected.
func (b *Bridge) Start(ctx context.Context, deliverer Deliverer) error {
	err := b.backend.Subscribe(ctx, func(payload []byte) {
		var msg Message
		if err := json.Unmarshal(payload, &msg); err != nil {
			b.logger.Warn("dropping malformed bus message", zap.Error(err))
			return
		}
		if msg.Origin == b.instanceID {
			// Our own publish fanning back; already delivered locally.
			return
		}
		deliverer.DeliverLocal(msg.Topic, msg.Symbol, msg.Envelope)
	})
	if err != nil {
		b.logger.Error("bus subscribe failed, running single-instance", zap.Error(err))
		return fmt.Errorf("bridge subscribe: %w", err)
	}
	b.logger.Info("bus bridge started", zap.String("instance_id", b.instanceID))
	return nil
}

// Forward relays a locally published event to the shared channel.
func (b *Bridge) Forward(ctx context.Context, topic, symbol string, envelope []byte) error {
	payload, err := json.Marshal(Message{
		Origin:   b.instanceID,
		Topic:    topic,
		Symbol:   symbol,
		Envelope: envelope,
	})
	if err != nil {
		return fmt.Errorf("bridge encode: %w", err)
	}
	if err := b.backend.Publish(ctx, payload); err != nil {
		return fmt.Errorf("bridge publish: %w", err)
	}
	return nil
}

// Healthy reports whether the shared channel is currently reachable.
func (b *Bridge) Healthy() bool {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return b.backend.Healthy(ctx)
}

// Close releases the backend.
func (b *Bridge) Close() error {
	return b.backend.Close()
}
