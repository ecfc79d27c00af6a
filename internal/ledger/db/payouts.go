package db

import (
	"context"
	"fmt"
	"time"

	"ms-payouts/internal/models"
)

func (d *DB) GetPayout(ctx context.Context, id string) (*models.Payout, error) {
	var payout models.Payout
	err := d.Bun.NewSelect().
		Model(&payout).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err)
	}
	return &payout, nil
}

func (d *DB) ListPayoutsByPayment(ctx context.Context, paymentID string) ([]models.Payout, error) {
	var payouts []models.Payout
	err := d.Bun.NewSelect().
		Model(&payouts).
		Where("payment_id = ?", paymentID).
		Order("created_at ASC").
		Scan(ctx)
	return payouts, err
}

// ListUntransferredPayouts returns candidates for the sweeper, oldest first.
// Rows with a live lease are still returned; ClaimPayout filters them.
func (d *DB) ListUntransferredPayouts(ctx context.Context, limit int) ([]models.Payout, error) {
	var payouts []models.Payout
	q := d.Bun.NewSelect().
		Model(&payouts).
		Where("is_transferred = ?", false).
		Where("dead_lettered = ?", false).
		Order("created_at ASC", "id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Scan(ctx)
	return payouts, err
}

// ListTransferredPayouts returns rows believed settled but not yet confirmed.
// Confirmed rows are final and never re-checked.
func (d *DB) ListTransferredPayouts(ctx context.Context, limit int) ([]models.Payout, error) {
	var payouts []models.Payout
	q := d.Bun.NewSelect().
		Model(&payouts).
		Where("is_transferred = ?", true).
		Where("transfer_id IS NOT NULL").
		Where("transfer_id <> ''").
		Where("confirmed_at IS NULL").
		Order("created_at ASC", "id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Scan(ctx)
	return payouts, err
}

func (d *DB) ListDeadLetteredPayouts(ctx context.Context) ([]models.Payout, error) {
	var payouts []models.Payout
	err := d.Bun.NewSelect().
		Model(&payouts).
		Where("dead_lettered = ?", true).
		Order("updated_at DESC").
		Scan(ctx)
	return payouts, err
}

// ClaimPayout takes a lease on an untransferred row. It is a single
// conditional UPDATE, so of two concurrent sweepers at most one gets true.
// With maxAttempts > 0 a row that has used up its attempts is never claimed.
func (d *DB) ClaimPayout(ctx context.Context, id, owner string, ttl time.Duration, maxAttempts int) (bool, error) {
	now := d.now()
	until := now.Add(ttl)
	q := d.Bun.NewUpdate().
		Model((*models.Payout)(nil)).
		Set("lease_owner = ?", owner).
		Set("lease_until = ?", until).
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Where("is_transferred = ?", false).
		Where("dead_lettered = ?", false).
		Where("(lease_until IS NULL OR lease_until < ?)", now)
	if maxAttempts > 0 {
		q = q.Where("transfer_attempts < ?", maxAttempts)
	}
	res, err := q.Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("claim payout %s: %w", id, err)
	}
	return affected(res)
}

// MarkPayoutTransferred records an initiated transfer and releases the lease.
// transfer_id and is_transferred are written in the same statement.
func (d *DB) MarkPayoutTransferred(ctx context.Context, id, owner, transferID string) (bool, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.Payout)(nil)).
		Set("transfer_id = ?", transferID).
		Set("is_transferred = ?", true).
		Set("last_error = NULL").
		Set("lease_owner = NULL").
		Set("lease_until = NULL").
		Set("updated_at = ?", d.now()).
		Where("id = ?", id).
		Where("lease_owner = ?", owner).
		Where("is_transferred = ?", false).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("mark payout %s transferred: %w", id, err)
	}
	return affected(res)
}

// RecordTransferFailure counts a rejected attempt and releases the lease.
// With maxAttempts > 0 the row is dead-lettered once the count reaches it.
func (d *DB) RecordTransferFailure(ctx context.Context, id, owner, reason string, maxAttempts int) (deadLettered bool, err error) {
	payout, err := d.GetPayout(ctx, id)
	if err != nil {
		return false, err
	}
	attempts := payout.TransferAttempts + 1
	deadLettered = maxAttempts > 0 && attempts >= maxAttempts

	res, err := d.Bun.NewUpdate().
		Model((*models.Payout)(nil)).
		Set("transfer_attempts = ?", attempts).
		Set("last_error = ?", reason).
		Set("dead_lettered = ?", deadLettered).
		Set("lease_owner = NULL").
		Set("lease_until = NULL").
		Set("updated_at = ?", d.now()).
		Where("id = ?", id).
		Where("lease_owner = ?", owner).
		Where("transfer_attempts = ?", payout.TransferAttempts).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("record transfer failure for %s: %w", id, err)
	}
	ok, err := affected(res)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, fmt.Errorf("record transfer failure for %s: lease lost", id)
	}
	return deadLettered, nil
}

// ReleasePayout drops the lease without counting an attempt. Used when the
// processor outcome is unknown; the next attempt reuses the idempotency key.
func (d *DB) ReleasePayout(ctx context.Context, id, owner, reason string) error {
	_, err := d.Bun.NewUpdate().
		Model((*models.Payout)(nil)).
		Set("last_error = ?", reason).
		Set("lease_owner = NULL").
		Set("lease_until = NULL").
		Set("updated_at = ?", d.now()).
		Where("id = ?", id).
		Where("lease_owner = ?", owner).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("release payout %s: %w", id, err)
	}
	return nil
}

// ConfirmTransfer marks a transfer confirmed by the processor. The update is
// conditional on the row still carrying transferID.
func (d *DB) ConfirmTransfer(ctx context.Context, id, transferID string) (bool, error) {
	now := d.now()
	res, err := d.Bun.NewUpdate().
		Model((*models.Payout)(nil)).
		Set("is_transferred = ?", true).
		Set("confirmed_at = ?", now).
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Where("transfer_id = ?", transferID).
		Where("is_transferred = ?", true).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("confirm transfer %s: %w", transferID, err)
	}
	return affected(res)
}

// RevertTransfer returns a payout whose transfer failed to the untransferred
// pool. The stale id moves to failed_transfer_id and the attempt counter
// advances so the next transfer uses a fresh idempotency key. With
// maxAttempts > 0 the row is dead-lettered once the count reaches it.
// reverted is false when the row no longer carries transferID.
func (d *DB) RevertTransfer(ctx context.Context, id, transferID, reason string, maxAttempts int) (reverted, deadLettered bool, err error) {
	payout, err := d.GetPayout(ctx, id)
	if err != nil {
		return false, false, err
	}
	attempts := payout.TransferAttempts + 1
	deadLettered = maxAttempts > 0 && attempts >= maxAttempts

	res, err := d.Bun.NewUpdate().
		Model((*models.Payout)(nil)).
		Set("is_transferred = ?", false).
		Set("failed_transfer_id = transfer_id").
		Set("transfer_id = NULL").
		Set("transfer_attempts = ?", attempts).
		Set("dead_lettered = ?", deadLettered).
		Set("last_error = ?", reason).
		Set("updated_at = ?", d.now()).
		Where("id = ?", id).
		Where("transfer_id = ?", transferID).
		Where("is_transferred = ?", true).
		Where("transfer_attempts = ?", payout.TransferAttempts).
		Exec(ctx)
	if err != nil {
		return false, false, fmt.Errorf("revert transfer %s: %w", transferID, err)
	}
	ok, err := affected(res)
	if err != nil || !ok {
		return false, false, err
	}
	return true, deadLettered, nil
}

// RequeueDeadLetter puts a dead-lettered payout back in the sweep pool.
func (d *DB) RequeueDeadLetter(ctx context.Context, id string) (bool, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.Payout)(nil)).
		Set("dead_lettered = ?", false).
		Set("transfer_attempts = 0").
		Set("updated_at = ?", d.now()).
		Where("id = ?", id).
		Where("dead_lettered = ?", true).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("requeue payout %s: %w", id, err)
	}
	return affected(res)
}
