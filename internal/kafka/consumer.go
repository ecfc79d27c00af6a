package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ms-payouts/internal/logger"

	"github.com/segmentio/kafka-go"
)

// MessageReader is the part of *kafka.Reader the consumer uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Handler func(ctx context.Context, msg kafka.Message) error

type Consumer struct {
	reader MessageReader
	log    *logger.Logger
	// MaxAttempts bounds handler retries for one message before it is
	// committed and skipped.
	MaxAttempts int
	Backoff     time.Duration
}

// NewConsumer creates a new Kafka consumer for the given topic and group
func NewConsumer(brokers []string, topic, groupID string, log *logger.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	return NewConsumerWithReader(reader, log)
}

func NewConsumerWithReader(r MessageReader, log *logger.Logger) *Consumer {
	if log == nil {
		log = logger.NewNop()
	}
	return &Consumer{reader: r, log: log, MaxAttempts: 3, Backoff: time.Second}
}

// Run consumes until ctx is cancelled. Each message is committed after the
// handler succeeds or gives up.
func (c *Consumer) Run(ctx context.Context, handle Handler) error {
	c.log.LogKafka("CONSUME", "", "Kafka consumer started")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				c.log.LogKafka("CONSUME", "", "Kafka consumer stopped")
				return nil
			}
			c.log.LogKafka("CONSUME", "", fmt.Sprintf("Error reading message: %v", err))
			if !sleep(ctx, c.Backoff) {
				return nil
			}
			continue
		}

		c.handle(ctx, msg, handle)

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.log.LogKafka("COMMIT", msg.Topic, fmt.Sprintf("Failed to commit offset %d: %v", msg.Offset, err))
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message, handle Handler) {
	attempts := c.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	for i := 1; i <= attempts; i++ {
		err := handle(ctx, msg)
		if err == nil {
			return
		}
		c.log.LogKafka("HANDLE", msg.Topic, fmt.Sprintf("Attempt %d/%d for key=%s failed: %v", i, attempts, msg.Key, err))
		if i < attempts && !sleep(ctx, c.Backoff) {
			return
		}
	}
	c.log.Error("KAFKA", fmt.Sprintf("Dropping message key=%s on %s after %d attempts", msg.Key, msg.Topic, attempts))
}

// Close gracefully shuts down the Kafka reader
func (c *Consumer) Close() error {
	return c.reader.Close()
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
