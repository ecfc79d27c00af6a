// Package notify moves booking notifications from the ledger outbox to Kafka
// and from Kafka to the buyer's inbox.
package notify

import (
	"context"
	"fmt"
	"time"

	"ms-payouts/internal/logger"
	"ms-payouts/internal/metrics"
	"ms-payouts/internal/models"
)

type OutboxStore interface {
	PendingOutbox(ctx context.Context, limit int) ([]models.OutboxMessage, error)
	MarkOutboxSent(ctx context.Context, id string) error
	MarkOutboxFailed(ctx context.Context, id, reason string) error
}

// Publisher is satisfied by *kafka.Producer.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
}

// Relay publishes outbox rows written alongside ledger changes. Delivery is
// at least once: a row is marked sent only after the broker accepted it.
type Relay struct {
	store     OutboxStore
	publisher Publisher
	log       *logger.Logger
	BatchSize int
}

func NewRelay(store OutboxStore, publisher Publisher, log *logger.Logger) *Relay {
	if log == nil {
		log = logger.NewNop()
	}
	return &Relay{store: store, publisher: publisher, log: log, BatchSize: 100}
}

// RunOnce relays one batch and returns how many rows were sent.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	rows, err := r.store.PendingOutbox(ctx, r.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("load outbox: %w", err)
	}

	sent := 0
	for _, msg := range rows {
		if ctx.Err() != nil {
			break
		}
		if err := r.publisher.Publish(ctx, msg.Topic, msg.Key, []byte(msg.Payload)); err != nil {
			metrics.OutboxRelayed.WithLabelValues("failed").Inc()
			r.log.LogKafka("RELAY_FAILED", msg.Topic, fmt.Sprintf("Message %s: %v", msg.ID, err))
			if merr := r.store.MarkOutboxFailed(context.WithoutCancel(ctx), msg.ID, err.Error()); merr != nil {
				r.log.LogDatabase("UPDATE", "outbox", fmt.Sprintf("Failed to record relay failure for %s: %v", msg.ID, merr))
			}
			continue
		}
		if err := r.store.MarkOutboxSent(context.WithoutCancel(ctx), msg.ID); err != nil {
			// Published but not marked: it will go out again next tick.
			r.log.LogDatabase("UPDATE", "outbox", fmt.Sprintf("Failed to mark %s sent: %v", msg.ID, err))
			continue
		}
		metrics.OutboxRelayed.WithLabelValues("sent").Inc()
		sent++
	}
	if sent > 0 {
		r.log.LogKafka("RELAYED", "outbox", fmt.Sprintf("Relayed %d of %d messages", sent, len(rows)))
	}
	return sent, nil
}

// Run relays on every tick until ctx is cancelled.
func (r *Relay) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := r.RunOnce(ctx); err != nil {
			r.log.Error("RELAY", err.Error())
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
