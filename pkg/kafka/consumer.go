// Package kafka wraps segmentio/kafka-go for the row-change and
// index-complete topics. Messages are JSON; the consumer commits a message
// only after its handler succeeded or gave up on it.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/config"
)

// MessageHandler processes one message. A returned error causes the message
// to be retried.
type MessageHandler func(ctx context.Context, key []byte, value []byte) error

const (
	defaultMaxAttempts = 5
	initialBackoff     = 100 * time.Millisecond
	maxBackoff         = 5 * time.Second
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	reader      messageReader
	handler     MessageHandler
	maxAttempts int
	logger      *slog.Logger
}

// NewConsumer reads topic as member of groupID. Consumers that must each see
// every message, like searchers following index updates, need distinct
// group ids.
func NewConsumer(cfg config.KafkaConfig, topic, groupID string, handler MessageHandler) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       topic,
		GroupID:     groupID,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     500 * time.Millisecond,
		StartOffset: kafka.FirstOffset,
	})
	return newConsumer(r, topic, handler)
}

func newConsumer(r messageReader, topic string, handler MessageHandler) *Consumer {
	return &Consumer{
		reader:      r,
		handler:     handler,
		maxAttempts: defaultMaxAttempts,
		logger:      slog.Default().With("component", "kafka-consumer", "topic", topic),
	}
}

// Start consumes until ctx is cancelled, then closes the reader.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started")
	defer c.reader.Close()
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("consumer stopping", "reason", ctx.Err())
				return nil
			}
			c.logger.Error("failed to fetch message", "error", err)
			if !sleep(ctx, initialBackoff) {
				return nil
			}
			continue
		}
		c.logger.Debug("message received",
			"partition", msg.Partition,
			"offset", msg.Offset,
			"key", string(msg.Key),
			"value_size", len(msg.Value),
		)
		if !c.process(ctx, msg) {
			return nil
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Error("failed to commit message",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
		}
	}
}

// process runs the handler with backoff. It returns false when ctx ended
// before the message was dealt with.
func (c *Consumer) process(ctx context.Context, msg kafka.Message) bool {
	backoff := initialBackoff
	for attempt := 1; ; attempt++ {
		err := c.handler(ctx, msg.Key, msg.Value)
		if err == nil {
			return true
		}
		if errors.Is(err, ErrSkip) {
			c.logger.Warn("skipping message",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		if attempt >= c.maxAttempts {
			c.logger.Error("giving up on message",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"attempts", attempt,
				"error", err,
			)
			return true
		}
		c.logger.Warn("message handler failed, retrying",
			"partition", msg.Partition,
			"offset", msg.Offset,
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)
		if !sleep(ctx, backoff) {
			return false
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// ErrSkip marks a message that can never be processed, such as one that
// does not decode. The consumer commits it without retrying.
var ErrSkip = errors.New("skip message")

// DecodeJSON unmarshals a message value into T. Decoding failures wrap
// ErrSkip.
func DecodeJSON[T any](value []byte) (T, error) {
	var result T
	if err := json.Unmarshal(value, &result); err != nil {
		return result, fmt.Errorf("%w: decoding kafka message: %v", ErrSkip, err)
	}
	return result, nil
}
