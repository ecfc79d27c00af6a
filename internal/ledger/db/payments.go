package db

import (
	"context"
	"fmt"

	"ms-payouts/internal/models"

	"github.com/uptrace/bun"
)

// CreatePurchase inserts the Payment, its Payout and any outbox messages in
// one transaction. Either every row is committed or none is.
func (d *DB) CreatePurchase(ctx context.Context, payment *models.Payment, payout *models.Payout, outbox ...*models.OutboxMessage) error {
	now := d.now()
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = now
	}
	if payout.CreatedAt.IsZero() {
		payout.CreatedAt = now
	}

	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(payment).Exec(ctx); err != nil {
			return fmt.Errorf("insert payment %s: %w", payment.ID, err)
		}
		if _, err := tx.NewInsert().Model(payout).Exec(ctx); err != nil {
			return fmt.Errorf("insert payout %s: %w", payout.ID, err)
		}
		for _, msg := range outbox {
			if msg.CreatedAt.IsZero() {
				msg.CreatedAt = now
			}
			if _, err := tx.NewInsert().Model(msg).Exec(ctx); err != nil {
				return fmt.Errorf("insert outbox message %s: %w", msg.ID, err)
			}
		}
		return nil
	})
}

// GetPayment → fetch one payment by its ID
func (d *DB) GetPayment(ctx context.Context, id string) (*models.Payment, error) {
	var payment models.Payment
	err := d.Bun.NewSelect().
		Model(&payment).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err)
	}
	return &payment, nil
}

// GetPaymentByTransactionID → fetch the payment created for a processor charge
func (d *DB) GetPaymentByTransactionID(ctx context.Context, transactionID string) (*models.Payment, error) {
	var payment models.Payment
	err := d.Bun.NewSelect().
		Model(&payment).
		Where("transaction_id = ?", transactionID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err)
	}
	return &payment, nil
}

func (d *DB) ListPaymentsByUser(ctx context.Context, userID string) ([]models.Payment, error) {
	var payments []models.Payment
	err := d.Bun.NewSelect().
		Model(&payments).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Scan(ctx)
	return payments, err
}

func (d *DB) ListPaymentsByEvent(ctx context.Context, eventID string) ([]models.Payment, error) {
	var payments []models.Payment
	err := d.Bun.NewSelect().
		Model(&payments).
		Where("event_id = ?", eventID).
		Order("created_at DESC").
		Scan(ctx)
	return payments, err
}

// UpdatePaymentStatus moves a pending payment to a terminal status. Returns
// false when the payment was not pending any more.
func (d *DB) UpdatePaymentStatus(ctx context.Context, transactionID string, to models.PaymentStatus) (bool, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.Payment)(nil)).
		Set("status = ?", to).
		Set("updated_at = ?", d.now()).
		Where("transaction_id = ?", transactionID).
		Where("status = ?", models.StatusPending).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("update payment status: %w", err)
	}
	return affected(res)
}

// RedeemPayment flips the QR artifact from unused to used exactly once.
func (d *DB) RedeemPayment(ctx context.Context, id string) (bool, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.Payment)(nil)).
		Set("qr_status = ?", models.QRUsed).
		Set("updated_at = ?", d.now()).
		Where("id = ?", id).
		Where("qr_status = ?", models.QRUnused).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("redeem payment: %w", err)
	}
	return affected(res)
}
