// Package processor is the payment processor capability used by the payout
// ledger. The Stripe type talks to the real API; processortest.Fake is an
// in-memory stand-in for tests.
package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ms-payouts/internal/models"
)

var (
	// ErrIndeterminate means the call may or may not have taken effect
	// (timeout, network failure, processor 5xx).
	ErrIndeterminate = errors.New("processor outcome unknown")
	// ErrInvalidSignature is returned for webhook payloads that fail verification.
	ErrInvalidSignature = errors.New("invalid webhook signature")
)

// RejectedError is a definitive refusal by the processor.
type RejectedError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *RejectedError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("processor rejected request (%d %s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("processor rejected request (%d): %s", e.StatusCode, e.Message)
}

// IsRejected reports whether err is a definitive processor refusal.
func IsRejected(err error) bool {
	var rej *RejectedError
	return errors.As(err, &rej)
}

type PaymentIntentInput struct {
	Amount        int64
	Currency      string
	TransferGroup string
	Metadata      map[string]string
}

type PaymentIntent struct {
	ID           string
	ClientSecret string
}

type TransferInput struct {
	Amount         int64
	Currency       string
	Destination    string
	TransferGroup  string
	IdempotencyKey string
	Metadata       map[string]string
}

type Transfer struct {
	ID          string
	Amount      int64
	Currency    string
	Destination string
	Status      models.TransferStatus
}

// Payout is a payout from a connected account to its bank.
type Payout struct {
	ID          string
	Amount      int64
	Currency    string
	Status      string
	Created     time.Time
	Destination string
}

type PayoutPage struct {
	Payouts []Payout
	HasMore bool
}

// WebhookEvent is the subset of a processor event the ledger acts on.
type WebhookEvent struct {
	ID              string
	Type            string
	PaymentIntentID string
}

const (
	EventPaymentSucceeded = "payment_intent.succeeded"
	EventPaymentFailed    = "payment_intent.payment_failed"
)

// Processor is what the ledger needs from a payment processor.
type Processor interface {
	CreatePaymentIntent(ctx context.Context, in PaymentIntentInput) (*PaymentIntent, error)
	CancelPaymentIntent(ctx context.Context, id string) error
	CreateTransfer(ctx context.Context, in TransferInput) (*Transfer, error)
	GetTransfer(ctx context.Context, id string) (*Transfer, error)
	// ListPayouts returns one page of a connected account's payouts.
	ListPayouts(ctx context.Context, accountID, startingAfter string, limit int) (*PayoutPage, error)
	// GetBalance returns the connected account's balance object unmodified.
	GetBalance(ctx context.Context, accountID string) (json.RawMessage, error)
}

type WebhookVerifier interface {
	VerifyWebhook(payload []byte, signature string) (*WebhookEvent, error)
}
