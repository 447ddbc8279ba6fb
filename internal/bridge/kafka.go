package bridge

import (
	"context"
	"errors"
	"io"
	"sync/atomic"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaBackend implements Backend over a Kafka topic. Each instance joins
// with its own group id so every instance sees every relayed event.
type KafkaBackend struct {
	writer *kafka.Writer
	reader *kafka.Reader
	logger *zap.Logger

	healthy atomic.Bool
}

// NewKafkaBackend targets the given brokers and topic. groupID must be
// unique per instance; sharing a group would split the relay stream.
func NewKafkaBackend(brokers []string, topic, groupID string, logger *zap.Logger) *KafkaBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	k := &KafkaBackend{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers: brokers,
			Topic:   topic,
			GroupID: groupID,
		}),
		logger: logger,
	}
	k.healthy.Store(true)
	return k
}

func (k *KafkaBackend) Publish(ctx context.Context, payload []byte) error {
	err := k.writer.WriteMessages(ctx, kafka.Message{Value: payload})
	k.healthy.Store(err == nil)
	return err
}

func (k *KafkaBackend) Subscribe(ctx context.Context, handler func([]byte)) error {
	go func() {
		for {
			m, err := k.reader.ReadMessage(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
					return
				}
				k.healthy.Store(false)
				k.logger.Warn("kafka read failed", zap.Error(err))
				return
			}
			k.healthy.Store(true)
			handler(m.Value)
		}
	}()
	return nil
}

func (k *KafkaBackend) Healthy(ctx context.Context) bool {
	return k.healthy.Load()
}

func (k *KafkaBackend) Close() error {
	rerr := k.reader.Close()
	werr := k.writer.Close()
	if rerr != nil {
		return rerr
	}
	return werr
}
