package payout

import (
	"context"
	"errors"
	"fmt"

	"ms-payouts/internal/ledger/db"
	"ms-payouts/internal/models"
	"ms-payouts/internal/processor"
)

const (
	opBooking = "booking"
	opRedeem  = "redeem"
	opWebhook = "webhook"
	opPayouts = "payouts"
)

func (s *Service) GetBooking(ctx context.Context, id string) (*models.Payment, error) {
	payment, err := s.store.GetPayment(ctx, id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, newError(KindNotFound, opBooking, "Booking not found", err)
		}
		return nil, newError(KindPersistence, opBooking, "Failed to load booking", err)
	}
	return payment, nil
}

func (s *Service) ListUserBookings(ctx context.Context, userID string) ([]models.Payment, error) {
	payments, err := s.store.ListPaymentsByUser(ctx, userID)
	if err != nil {
		return nil, newError(KindPersistence, opBooking, "Failed to load bookings", err)
	}
	if len(payments) == 0 {
		return nil, newError(KindNotFound, opBooking, "No bookings found for this user", nil)
	}
	return payments, nil
}

func (s *Service) ListEventBookings(ctx context.Context, eventID string) ([]models.Payment, error) {
	payments, err := s.store.ListPaymentsByEvent(ctx, eventID)
	if err != nil {
		return nil, newError(KindPersistence, opBooking, "Failed to load bookings", err)
	}
	if len(payments) == 0 {
		return nil, newError(KindNotFound, opBooking, "No bookings found for this event", nil)
	}
	return payments, nil
}

// Redeem marks a paid ticket as used. When token is given it must be the
// sealed payload from the booking's QR code.
func (s *Service) Redeem(ctx context.Context, id, token string) (*models.Payment, error) {
	payment, err := s.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}

	if token != "" {
		ticket, err := s.tickets.Open(token)
		if err != nil {
			return nil, newError(KindValidation, opRedeem, "Invalid ticket", err)
		}
		if ticket.PaymentIntentID != payment.TransactionID {
			return nil, newError(KindValidation, opRedeem, "Ticket does not match booking", nil)
		}
	}

	if payment.Status != models.StatusSuccess {
		return nil, newError(KindConflict, opRedeem, fmt.Sprintf("Payment is %s", payment.Status), nil)
	}

	ok, err := s.store.RedeemPayment(ctx, id)
	if err != nil {
		return nil, newError(KindPersistence, opRedeem, "Failed to redeem ticket", err)
	}
	if !ok {
		return nil, newError(KindConflict, opRedeem, "Ticket already used", nil)
	}

	payment.QRStatus = models.QRUsed
	s.log.Info("REDEEM", fmt.Sprintf("Ticket for payment %s redeemed", id))
	return payment, nil
}

// HandleWebhook applies a processor event to the Payment it refers to.
// Only pending payments move; replays and unknown payments are ignored.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	if s.webhooks == nil {
		return newError(KindValidation, opWebhook, "Webhooks are not configured", nil)
	}
	ev, err := s.webhooks.VerifyWebhook(payload, signature)
	if err != nil {
		if errors.Is(err, processor.ErrInvalidSignature) {
			return newError(KindValidation, opWebhook, "Invalid signature", err)
		}
		return newError(KindValidation, opWebhook, "Invalid event", err)
	}

	var to models.PaymentStatus
	switch ev.Type {
	case processor.EventPaymentSucceeded:
		to = models.StatusSuccess
	case processor.EventPaymentFailed:
		to = models.StatusFailed
	default:
		s.log.Debug("WEBHOOK", "Ignoring event type "+ev.Type)
		return nil
	}

	ok, err := s.store.UpdatePaymentStatus(ctx, ev.PaymentIntentID, to)
	if err != nil {
		return newError(KindPersistence, opWebhook, "Failed to update payment", err)
	}
	if !ok {
		s.log.Info("WEBHOOK", fmt.Sprintf("Event %s for %s did not change any pending payment", ev.ID, ev.PaymentIntentID))
		return nil
	}
	s.log.LogProcessor("WEBHOOK", ev.PaymentIntentID, fmt.Sprintf("Payment marked %s", to))
	return nil
}

func (s *Service) GetPayout(ctx context.Context, id string) (*models.Payout, error) {
	p, err := s.store.GetPayout(ctx, id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, newError(KindNotFound, opPayouts, "Payout not found", err)
		}
		return nil, newError(KindPersistence, opPayouts, "Failed to load payout", err)
	}
	return p, nil
}

func (s *Service) ListDeadLettered(ctx context.Context) ([]models.Payout, error) {
	rows, err := s.store.ListDeadLetteredPayouts(ctx)
	if err != nil {
		return nil, newError(KindPersistence, opPayouts, "Failed to load dead-lettered payouts", err)
	}
	if rows == nil {
		rows = []models.Payout{}
	}
	return rows, nil
}

// Requeue returns a dead-lettered payout to the sweep pool with a fresh
// attempt count.
func (s *Service) Requeue(ctx context.Context, id string) (*models.Payout, error) {
	ok, err := s.store.RequeueDeadLetter(ctx, id)
	if err != nil {
		return nil, newError(KindPersistence, opPayouts, "Failed to requeue payout", err)
	}
	p, err := s.GetPayout(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, newError(KindConflict, opPayouts, "Payout is not dead-lettered", nil)
	}
	s.log.LogPayout("REQUEUED", id, "Dead-lettered payout returned to sweep")
	return p, nil
}
