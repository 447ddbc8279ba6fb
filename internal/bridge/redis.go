package bridge

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisBackend implements Backend over a single Redis pub/sub channel.
// Pub/sub is fire-and-forget; events published while an instance is down
// are not replayed to it.
type RedisBackend struct {
	client  *redis.Client
	channel string
	logger  *zap.Logger
}

// NewRedisBackend dials Redis at addr and targets the given channel.
func NewRedisBackend(addr, password string, db int, channel string, logger *zap.Logger) *RedisBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBackend{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		channel: channel,
		logger:  logger,
	}
}

// Client exposes the underlying connection for components sharing the
// same Redis, such as the last-value cache.
func (r *RedisBackend) Client() *redis.Client {
	return r.client
}

func (r *RedisBackend) Publish(ctx context.Context, payload []byte) error {
	return r.client.Publish(ctx, r.channel, payload).Err()
}

func (r *RedisBackend) Subscribe(ctx context.Context, handler func([]byte)) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	// Receive forces the SUBSCRIBE round-trip so connection errors
	// surface here instead of inside the relay goroutine.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return err
	}

	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					r.logger.Warn("redis subscription channel closed")
					return
				}
				handler([]byte(msg.Payload))
			}
		}
	}()
	return nil
}

func (r *RedisBackend) Healthy(ctx context.Context) bool {
	return r.client.Ping(ctx).Err() == nil
}

func (r *RedisBackend) Close() error {
	return r.client.Close()
}
