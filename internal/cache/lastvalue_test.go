package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// testClient connects to the Redis named by TRADEWIRE_TEST_REDIS, or
// skips. These tests exercise the real HSet/HMGet path.
func testClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("TRADEWIRE_TEST_REDIS")
	if addr == "" {
		t.Skip("set TRADEWIRE_TEST_REDIS to run Redis integration tests")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, client.Ping(ctx).Err())
	t.Cleanup(func() { client.Close() })
	return client
}

func TestLastValueStoreAndLatest(t *testing.T) {
	client := testClient(t)
	key := "tradewire:test:" + uuid.NewString()
	t.Cleanup(func() { client.Del(context.Background(), key) })

	lv := NewLastValue(client, key, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, lv.Store(ctx, "executions", []byte(`{"type":"trade_executed","data":{"seq":1}}`)))
	require.NoError(t, lv.Store(ctx, "executions", []byte(`{"type":"trade_executed","data":{"seq":2}}`)))
	require.NoError(t, lv.Store(ctx, "health", []byte(`{"type":"health_update"}`)))

	got, err := lv.Latest(ctx, []string{"executions", "health", "never-published"})
	require.NoError(t, err)
	require.Len(t, got, 2, "topics without a cached value are skipped")
	assert.JSONEq(t, `{"type":"trade_executed","data":{"seq":2}}`, string(got[0]))
	assert.JSONEq(t, `{"type":"health_update"}`, string(got[1]))
}

func TestLastValueEmptyTopicList(t *testing.T) {
	lv := NewLastValue(nil, "", zap.NewNop())
	got, err := lv.Latest(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, got)
}
