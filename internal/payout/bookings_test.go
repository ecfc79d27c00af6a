package payout_test

import (
	"context"
	"testing"

	"ms-payouts/internal/models"
	"ms-payouts/internal/payout"
	"ms-payouts/internal/processor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// paidBooking creates a booking and settles it through a webhook.
func paidBooking(t *testing.T, h *harness) *models.Payment {
	t.Helper()
	ctx := context.Background()
	resp, err := h.svc.CreatePaymentIntent(ctx, intentRequest("org-x", 5000))
	require.NoError(t, err)
	payment, err := h.store.GetPayment(ctx, resp.PaymentID)
	require.NoError(t, err)

	h.fake.Signature = "sig"
	h.fake.Webhook = &processor.WebhookEvent{ID: "evt_1", Type: processor.EventPaymentSucceeded, PaymentIntentID: payment.TransactionID}
	require.NoError(t, h.svc.HandleWebhook(ctx, []byte(`{}`), "sig"))

	payment, err = h.svc.GetBooking(ctx, resp.PaymentID)
	require.NoError(t, err)
	require.Equal(t, models.StatusSuccess, payment.Status)
	return payment
}

func TestGetBooking_NotFound(t *testing.T) {
	h := newHarness(t, payout.Options{})

	_, err := h.svc.GetBooking(context.Background(), "missing")
	assert.Equal(t, payout.KindNotFound, payout.KindOf(err))
	assert.Equal(t, "Booking not found", payout.PublicMessage(err))
}

func TestListBookings(t *testing.T) {
	h := newHarness(t, payout.Options{})
	ctx := context.Background()

	_, err := h.svc.ListUserBookings(ctx, "user-1")
	assert.Equal(t, payout.KindNotFound, payout.KindOf(err))
	_, err = h.svc.ListEventBookings(ctx, "event-1")
	assert.Equal(t, payout.KindNotFound, payout.KindOf(err))

	h.purchase(t, "org-x", 5000, 2)

	byUser, err := h.svc.ListUserBookings(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, byUser, 2)
	byEvent, err := h.svc.ListEventBookings(ctx, "event-1")
	require.NoError(t, err)
	assert.Len(t, byEvent, 2)
}

func TestHandleWebhook_TransitionsPendingOnly(t *testing.T) {
	h := newHarness(t, payout.Options{})
	ctx := context.Background()
	payment := paidBooking(t, h)

	// A late failure event cannot undo a settled payment.
	h.fake.Webhook = &processor.WebhookEvent{ID: "evt_2", Type: processor.EventPaymentFailed, PaymentIntentID: payment.TransactionID}
	require.NoError(t, h.svc.HandleWebhook(ctx, []byte(`{}`), "sig"))

	got, err := h.svc.GetBooking(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuccess, got.Status)
}

func TestHandleWebhook_PaymentFailed(t *testing.T) {
	h := newHarness(t, payout.Options{})
	ctx := context.Background()
	resp, err := h.svc.CreatePaymentIntent(ctx, intentRequest("org-x", 5000))
	require.NoError(t, err)
	payment, err := h.store.GetPayment(ctx, resp.PaymentID)
	require.NoError(t, err)

	h.fake.Signature = "sig"
	h.fake.Webhook = &processor.WebhookEvent{ID: "evt_1", Type: processor.EventPaymentFailed, PaymentIntentID: payment.TransactionID}
	require.NoError(t, h.svc.HandleWebhook(ctx, []byte(`{}`), "sig"))

	got, err := h.svc.GetBooking(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
}

func TestHandleWebhook_RejectsBadSignature(t *testing.T) {
	h := newHarness(t, payout.Options{})
	h.fake.Signature = "sig"
	h.fake.Webhook = &processor.WebhookEvent{Type: processor.EventPaymentSucceeded, PaymentIntentID: "pi_1"}

	err := h.svc.HandleWebhook(context.Background(), []byte(`{}`), "forged")
	assert.Equal(t, payout.KindValidation, payout.KindOf(err))
	assert.Equal(t, "Invalid signature", payout.PublicMessage(err))
}

func TestHandleWebhook_IgnoresOtherEventsAndUnknownPayments(t *testing.T) {
	h := newHarness(t, payout.Options{})
	ctx := context.Background()
	h.fake.Signature = "sig"

	h.fake.Webhook = &processor.WebhookEvent{ID: "evt_1", Type: "charge.refunded", PaymentIntentID: "pi_1"}
	assert.NoError(t, h.svc.HandleWebhook(ctx, []byte(`{}`), "sig"))

	h.fake.Webhook = &processor.WebhookEvent{ID: "evt_2", Type: processor.EventPaymentSucceeded, PaymentIntentID: "pi_unknown"}
	assert.NoError(t, h.svc.HandleWebhook(ctx, []byte(`{}`), "sig"))
}

func TestHandleWebhook_NotConfigured(t *testing.T) {
	h := newHarness(t, payout.Options{})
	svc := payout.NewService(payout.Deps{Store: h.store, Processor: h.fake, Tickets: h.tickets}, payout.Options{})

	err := svc.HandleWebhook(context.Background(), []byte(`{}`), "sig")
	assert.Equal(t, payout.KindValidation, payout.KindOf(err))
}

func TestRedeem_Once(t *testing.T) {
	h := newHarness(t, payout.Options{})
	ctx := context.Background()
	payment := paidBooking(t, h)

	token, err := h.tickets.Seal(models.TicketPayload{PaymentIntentID: payment.TransactionID})
	require.NoError(t, err)

	redeemed, err := h.svc.Redeem(ctx, payment.ID, token)
	require.NoError(t, err)
	assert.Equal(t, models.QRUsed, redeemed.QRStatus)

	_, err = h.svc.Redeem(ctx, payment.ID, token)
	assert.Equal(t, payout.KindConflict, payout.KindOf(err))
	assert.Equal(t, "Ticket already used", payout.PublicMessage(err))
}

func TestRedeem_RejectsForeignOrPendingTickets(t *testing.T) {
	h := newHarness(t, payout.Options{})
	ctx := context.Background()
	payment := paidBooking(t, h)

	other, err := h.tickets.Seal(models.TicketPayload{PaymentIntentID: "pi_other"})
	require.NoError(t, err)
	_, err = h.svc.Redeem(ctx, payment.ID, other)
	assert.Equal(t, payout.KindValidation, payout.KindOf(err))

	_, err = h.svc.Redeem(ctx, payment.ID, "not-a-token")
	assert.Equal(t, payout.KindValidation, payout.KindOf(err))

	resp, err := h.svc.CreatePaymentIntent(ctx, intentRequest("org-x", 5000))
	require.NoError(t, err)
	_, err = h.svc.Redeem(ctx, resp.PaymentID, "")
	assert.Equal(t, payout.KindConflict, payout.KindOf(err))
	assert.Equal(t, "Payment is pending", payout.PublicMessage(err))

	_, err = h.svc.Redeem(ctx, "missing", "")
	assert.Equal(t, payout.KindNotFound, payout.KindOf(err))
}

func TestPayoutOperations(t *testing.T) {
	h := newHarness(t, payout.Options{})
	ctx := context.Background()
	row := h.purchase(t, "org-x", 5000, 1)[0]

	got, err := h.svc.GetPayout(ctx, row.ID)
	require.NoError(t, err)
	assert.Equal(t, row.PaymentID, got.PaymentID)

	_, err = h.svc.GetPayout(ctx, "missing")
	assert.Equal(t, payout.KindNotFound, payout.KindOf(err))

	_, err = h.svc.Requeue(ctx, row.ID)
	assert.Equal(t, payout.KindConflict, payout.KindOf(err))
	_, err = h.svc.Requeue(ctx, "missing")
	assert.Equal(t, payout.KindNotFound, payout.KindOf(err))

	dead, err := h.svc.ListDeadLettered(ctx)
	require.NoError(t, err)
	assert.NotNil(t, dead)
	assert.Empty(t, dead)
}
