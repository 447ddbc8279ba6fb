// Package cache keeps the most recent envelope published per topic so a
// freshly subscribed connection can be primed instead of waiting for the
// next tick.
package cache

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// LastValue stores one envelope per topic in a Redis hash. Everything
// here is best effort: a miss or an unreachable Redis simply means the
// subscriber waits for the next live event.
type LastValue struct {
	client *redis.Client
	key    string
	logger *zap.Logger
}

// NewLastValue wraps an existing Redis connection. key is the hash the
// latest envelopes live under.
func NewLastValue(client *redis.Client, key string, logger *zap.Logger) *LastValue {
	if logger == nil {
		logger = zap.NewNop()
	}
	if key == "" {
		key = "tradewire:lastvalue"
	}
	return &LastValue{client: client, key: key, logger: logger}
}

// Store records the envelope as the latest for its topic.
func (c *LastValue) Store(ctx context.Context, topic string, envelope []byte) error {
	return c.client.HSet(ctx, c.key, topic, envelope).Err()
}

// Latest returns the cached envelope for each requested topic that has
// one. Topics with no cached value are skipped, not errors.
func (c *LastValue) Latest(ctx context.Context, topics []string) ([][]byte, error) {
	if len(topics) == 0 {
		return nil, nil
	}
	values, err := c.client.HMGet(ctx, c.key, topics...).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	out := make([][]byte, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok || s == "" {
			continue
		}
		out = append(out, []byte(s))
	}
	return out, nil
}
