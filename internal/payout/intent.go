package payout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"ms-payouts/internal/ledger/db"
	"ms-payouts/internal/metrics"
	"ms-payouts/internal/models"
	"ms-payouts/internal/processor"
)

const opCreateIntent = "create_payment_intent"

// CreatePaymentIntent authorizes a charge with the processor and records the
// pending Payment, its untransferred Payout and the booking notification in
// one transaction. Amount is in minor units.
func (s *Service) CreatePaymentIntent(ctx context.Context, req models.PaymentIntentRequest) (*models.PaymentIntentResponse, error) {
	if err := s.validateIntent(&req); err != nil {
		metrics.PaymentIntents.WithLabelValues("invalid").Inc()
		return nil, err
	}

	org, err := s.store.GetOrganizer(ctx, req.OrganizerID)
	if err != nil {
		return nil, lookupError("Organizer", req.OrganizerID, err)
	}
	if org.StripeAccountID == "" {
		return nil, newError(KindValidation, opCreateIntent, "Organizer has no connected account", nil)
	}

	user, err := s.store.GetUser(ctx, req.UserID)
	if err != nil {
		return nil, lookupError("User", req.UserID, err)
	}

	eventName := ""
	if event, err := s.store.GetEvent(ctx, req.EventID); err == nil {
		eventName = event.Name
	} else {
		s.log.Warn("INTENT", fmt.Sprintf("Event %s lookup failed, sending notification without name: %v", req.EventID, err))
	}

	paymentID := s.newID()
	transferGroup := models.TransferGroup(req.OrganizerID)

	intent, err := s.processor.CreatePaymentIntent(ctx, processor.PaymentIntentInput{
		Amount:        req.Amount,
		Currency:      req.Currency,
		TransferGroup: transferGroup,
		Metadata: map[string]string{
			"payment_id":   paymentID,
			"organizer_id": req.OrganizerID,
			"user_id":      req.UserID,
			"event_id":     req.EventID,
		},
	})
	if err != nil {
		metrics.PaymentIntents.WithLabelValues("processor_error").Inc()
		return nil, processorError(opCreateIntent, err)
	}

	qrCode, err := s.tickets.DataURL(models.TicketPayload{
		Amount:          req.Amount,
		UserID:          req.UserID,
		EventID:         req.EventID,
		Status:          string(models.StatusPending),
		Count:           req.TicketCount,
		TicketID:        req.TicketID,
		PaymentIntentID: intent.ID,
	})
	if err != nil {
		s.compensate(ctx, intent.ID)
		return nil, newError(KindUnknown, opCreateIntent, "Failed to generate ticket", err)
	}

	payment := &models.Payment{
		ID:            paymentID,
		UserID:        req.UserID,
		EventID:       req.EventID,
		TransactionID: intent.ID,
		Amount:        req.Amount,
		Currency:      req.Currency,
		Status:        models.StatusPending,
		PaymentMethod: req.PaymentMethod,
		QRCode:        qrCode,
		QRStatus:      models.QRUnused,
		TicketCount:   req.TicketCount,
		TicketID:      req.TicketID,
	}
	payout := &models.Payout{
		ID:            s.newID(),
		PaymentID:     paymentID,
		Amount:        req.Amount,
		Currency:      req.Currency,
		OrganizerID:   req.OrganizerID,
		UserID:        req.UserID,
		TransferGroup: transferGroup,
	}

	var outbox []*models.OutboxMessage
	if msg, err := s.bookingMessage(payment, user, eventName); err != nil {
		s.log.Warn("INTENT", fmt.Sprintf("Skipping booking notification for %s: %v", paymentID, err))
	} else if msg != nil {
		outbox = append(outbox, msg)
	}

	if err := s.store.CreatePurchase(ctx, payment, payout, outbox...); err != nil {
		s.log.LogDatabase("INSERT", "payments", fmt.Sprintf("Purchase %s not committed: %v", paymentID, err))
		s.compensate(ctx, intent.ID)
		metrics.PaymentIntents.WithLabelValues("persistence_error").Inc()
		return nil, newError(KindPersistence, opCreateIntent, "Failed to record payment", err)
	}

	metrics.PaymentIntents.WithLabelValues("created").Inc()
	s.log.LogPayout("CREATED", payout.ID, fmt.Sprintf("Payment %s (%s) for organizer %s, %d %s",
		paymentID, intent.ID, req.OrganizerID, req.Amount, req.Currency))

	return &models.PaymentIntentResponse{
		ClientSecret: intent.ClientSecret,
		PaymentID:    paymentID,
	}, nil
}

func (s *Service) validateIntent(req *models.PaymentIntentRequest) error {
	var missing []string
	if req.OrganizerID == "" {
		missing = append(missing, "organizerId")
	}
	if req.UserID == "" {
		missing = append(missing, "userId")
	}
	if req.EventID == "" {
		missing = append(missing, "eventId")
	}
	if len(missing) > 0 {
		return newError(KindValidation, opCreateIntent, "Missing required fields: "+strings.Join(missing, ", "), nil)
	}
	if req.Amount <= 0 {
		return newError(KindValidation, opCreateIntent, "amount must be a positive integer in minor units", nil)
	}
	if req.TicketCount < 0 {
		return newError(KindValidation, opCreateIntent, "ticketCount cannot be negative", nil)
	}
	if req.TicketCount == 0 {
		req.TicketCount = 1
	}
	req.Currency = strings.ToLower(strings.TrimSpace(req.Currency))
	if req.Currency == "" {
		req.Currency = s.opts.Currency
	}
	if req.PaymentMethod == "" {
		req.PaymentMethod = "card"
	}
	return nil
}

func (s *Service) bookingMessage(p *models.Payment, user *models.User, eventName string) (*models.OutboxMessage, error) {
	if s.opts.Topics.BookingNotifications == "" || user.Email == "" {
		return nil, nil
	}
	body, err := json.Marshal(models.BookingNotification{
		PaymentID:   p.ID,
		To:          user.Email,
		BuyerName:   user.FullName(),
		EventID:     p.EventID,
		EventName:   eventName,
		Amount:      p.Amount,
		Currency:    p.Currency,
		TicketCount: p.TicketCount,
		Status:      string(p.Status),
	})
	if err != nil {
		return nil, err
	}
	return &models.OutboxMessage{
		ID:      s.newID(),
		Topic:   s.opts.Topics.BookingNotifications,
		Key:     p.ID,
		Payload: string(body),
	}, nil
}

// compensate cancels an authorized intent whose ledger rows were not written.
func (s *Service) compensate(ctx context.Context, intentID string) {
	if err := s.processor.CancelPaymentIntent(context.WithoutCancel(ctx), intentID); err != nil {
		s.log.Error("INTENT", fmt.Sprintf("Failed to cancel orphaned payment intent %s: %v", intentID, err))
		return
	}
	s.log.Warn("INTENT", fmt.Sprintf("Cancelled payment intent %s after failed write", intentID))
}

func lookupError(what, id string, err error) error {
	if errors.Is(err, db.ErrNotFound) {
		return newError(KindNotFound, "lookup", what+" not found", err)
	}
	return newError(KindPersistence, "lookup", "Failed to load "+strings.ToLower(what), fmt.Errorf("%s %s: %w", what, id, err))
}

// processorError maps a processor failure onto a Kind. The public text is
// generic; operator endpoints surface Err instead.
func processorError(op string, err error) error {
	switch {
	case errors.Is(err, processor.ErrIndeterminate):
		return newError(KindIndeterminate, op, "Payment processor did not respond", err)
	case processor.IsRejected(err):
		return newError(KindExternal, op, "Payment processor rejected the request", err)
	default:
		return newError(KindExternal, op, "Payment processor error", err)
	}
}
