// Package kafka provides Kafka producer and consumer clients backed by
// segmentio/kafka-go. Trigger events travel as JSON; the consumer hands raw
// values to a MessageHandler and commits only after the handler succeeds.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/pkg/resilience"
	"github.com/segmentio/kafka-go"
)

// MessageHandler is a callback invoked for each Kafka message.
type MessageHandler func(ctx context.Context, key []byte, value []byte) error

// Reader is the subset of *kafka.Reader the consumer needs.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads messages from a Kafka topic and dispatches them to a
// MessageHandler.
type Consumer struct {
	reader  Reader
	logger  *slog.Logger
	handler MessageHandler
	retry   resilience.RetryConfig
}

// ConsumerOption tunes how a Consumer redelivers failed messages.
type ConsumerOption func(*Consumer)

// WithRedeliveryBackoff sets the delay before the first redelivery of a
// failed message and the cap the doubling delay grows to.
func WithRedeliveryBackoff(initial, max time.Duration) ConsumerOption {
	return func(c *Consumer) {
		c.retry.InitialDelay = initial
		c.retry.MaxDelay = max
	}
}

// NewConsumer creates a group Consumer for the given topic and handler.
func NewConsumer(cfg config.KafkaConfig, topic string, handler MessageHandler, opts ...ConsumerOption) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       topic,
		GroupID:     cfg.ConsumerGroup,
		MinBytes:    1,
		MaxBytes:    1e6,
		StartOffset: kafka.FirstOffset,
	})
	return NewConsumerWithReader(r, topic, handler, opts...)
}

// NewConsumerWithReader wraps an existing reader; tests pass a fake.
func NewConsumerWithReader(r Reader, topic string, handler MessageHandler, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		reader:  r,
		logger:  slog.Default().With("component", "kafka-consumer", "topic", topic),
		handler: handler,
		retry: resilience.RetryConfig{
			MaxAttempts:  math.MaxInt32,
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     time.Minute,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start enters the consume loop until ctx is cancelled. Committing an offset
// acknowledges everything before it on the partition, so a failed message is
// redelivered with backoff until it succeeds; the next message is not fetched
// meanwhile. A handler error wrapped with resilience.Permanent is logged and
// the message committed.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("consumer stopping", "reason", ctx.Err())
				return nil
			}
			c.logger.Error("failed to fetch message", "error", err)
			continue
		}
		c.logger.Debug("message received",
			"partition", msg.Partition,
			"offset", msg.Offset,
			"key", string(msg.Key),
		)
		err = resilience.Retry(ctx, "kafka-handle", c.retry, func() error {
			return c.handler(ctx, msg.Key, msg.Value)
		})
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("consumer stopping, message left for redelivery",
					"partition", msg.Partition,
					"offset", msg.Offset,
				)
				return nil
			}
			c.logger.Error("dropping message after permanent failure",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Error("failed to commit message",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
		}
	}
}

// Close closes the underlying Kafka reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// DecodeJSON is a generic helper that unmarshals a Kafka message value into T.
func DecodeJSON[T any](value []byte) (T, error) {
	var result T
	if err := json.Unmarshal(value, &result); err != nil {
		return result, fmt.Errorf("decoding kafka message: %w", err)
	}
	return result, nil
}
