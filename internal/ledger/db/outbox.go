package db

import (
	"context"
	"fmt"

	"ms-payouts/internal/models"
)

// PendingOutbox returns unsent messages, oldest first.
func (d *DB) PendingOutbox(ctx context.Context, limit int) ([]models.OutboxMessage, error) {
	var msgs []models.OutboxMessage
	q := d.Bun.NewSelect().
		Model(&msgs).
		Where("sent_at IS NULL").
		Order("created_at ASC", "id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Scan(ctx)
	return msgs, err
}

func (d *DB) MarkOutboxSent(ctx context.Context, id string) error {
	_, err := d.Bun.NewUpdate().
		Model((*models.OutboxMessage)(nil)).
		Set("sent_at = ?", d.now()).
		Set("last_error = NULL").
		Where("id = ?", id).
		Where("sent_at IS NULL").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("mark outbox %s sent: %w", id, err)
	}
	return nil
}

func (d *DB) MarkOutboxFailed(ctx context.Context, id, reason string) error {
	_, err := d.Bun.NewUpdate().
		Model((*models.OutboxMessage)(nil)).
		Set("attempts = attempts + 1").
		Set("last_error = ?", reason).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("mark outbox %s failed: %w", id, err)
	}
	return nil
}
