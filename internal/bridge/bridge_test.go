package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// memoryBackend is an in-process pub/sub channel shared by every bridge
// subscribed to it, standing in for Redis in tests.
type memoryBackend struct {
	mu       sync.Mutex
	handlers []func([]byte)
	healthy  bool
	closed   bool
	subErr   error
}

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{healthy: true}
}

func (b *memoryBackend) Publish(ctx context.Context, payload []byte) error {
	b.mu.Lock()
	handlers := append([]func([]byte){}, b.handlers...)
	b.mu.Unlock()
	for _, h := range handlers {
		h(payload)
	}
	return nil
}

func (b *memoryBackend) Subscribe(ctx context.Context, handler func([]byte)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subErr != nil {
		return b.subErr
	}
	b.handlers = append(b.handlers, handler)
	return nil
}

func (b *memoryBackend) Healthy(ctx context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.healthy
}

func (b *memoryBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// recordingDeliverer captures locally delivered events.
type recordingDeliverer struct {
	mu     sync.Mutex
	events []Message
}

func (d *recordingDeliverer) DeliverLocal(topic, symbol string, envelope []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, Message{Topic: topic, Symbol: symbol, Envelope: envelope})
}

func (d *recordingDeliverer) snapshot() []Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Message{}, d.events...)
}

func TestBridgeForwardReachesOtherInstances(t *testing.T) {
	backend := newMemoryBackend()

	a := New(backend, zap.NewNop())
	b := New(backend, zap.NewNop())
	require.NotEqual(t, a.InstanceID(), b.InstanceID())

	var gotA, gotB recordingDeliverer
	require.NoError(t, a.Start(context.Background(), &gotA))
	require.NoError(t, b.Start(context.Background(), &gotB))

	envelope := []byte(`{"type":"trade_executed","data":{"symbol":"BTC/USDT"}}`)
	require.NoError(t, a.Forward(context.Background(), "executions", "BTC/USDT", envelope))

	// The publisher's own instance drops the fan-back.
	assert.Empty(t, gotA.snapshot())

	events := gotB.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, "executions", events[0].Topic)
	assert.Equal(t, "BTC/USDT", events[0].Symbol)
	assert.JSONEq(t, string(envelope), string(events[0].Envelope))
}

func TestBridgeExactlyOnceAcrossThreeInstances(t *testing.T) {
	backend := newMemoryBackend()

	bridges := []*Bridge{New(backend, zap.NewNop()), New(backend, zap.NewNop()), New(backend, zap.NewNop())}
	recorders := make([]*recordingDeliverer, len(bridges))
	for i, br := range bridges {
		recorders[i] = &recordingDeliverer{}
		require.NoError(t, br.Start(context.Background(), recorders[i]))
	}

	require.NoError(t, bridges[0].Forward(context.Background(), "health", "", []byte(`{}`)))

	assert.Empty(t, recorders[0].snapshot())
	assert.Len(t, recorders[1].snapshot(), 1)
	assert.Len(t, recorders[2].snapshot(), 1)
}

func TestBridgeDropsMalformedPayloads(t *testing.T) {
	backend := newMemoryBackend()

	br := New(backend, zap.NewNop())
	var got recordingDeliverer
	require.NoError(t, br.Start(context.Background(), &got))

	require.NoError(t, backend.Publish(context.Background(), []byte("not json")))
	assert.Empty(t, got.snapshot())
}

func TestBridgeSubscribeFailureIsSurfaced(t *testing.T) {
	backend := newMemoryBackend()
	backend.subErr = errors.New("broker unreachable")

	br := New(backend, zap.NewNop())
	err := br.Start(context.Background(), &recordingDeliverer{})
	require.Error(t, err)
	assert.ErrorIs(t, err, backend.subErr)
}

func TestBridgeHealthyMirrorsBackend(t *testing.T) {
	backend := newMemoryBackend()
	br := New(backend, zap.NewNop())

	assert.True(t, br.Healthy())
	backend.mu.Lock()
	backend.healthy = false
	backend.mu.Unlock()
	assert.False(t, br.Healthy())
}

func TestBridgeCloseReleasesBackend(t *testing.T) {
	backend := newMemoryBackend()
	br := New(backend, zap.NewNop())
	require.NoError(t, br.Close())
	assert.True(t, backend.closed)
}

func TestMessageRoundTrip(t *testing.T) {
	original := Message{
		Origin:   "instance-1",
		Topic:    "executions",
		Symbol:   "BTC/USDT",
		Envelope: json.RawMessage(`{"type":"trade_executed"}`),
	}
	data, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded Message
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, original.Origin, decoded.Origin)
	assert.Equal(t, original.Topic, decoded.Topic)
	assert.JSONEq(t, string(original.Envelope), string(decoded.Envelope))
}
