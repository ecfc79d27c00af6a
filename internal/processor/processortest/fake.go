// Package processortest provides an in-memory processor for tests.
package processortest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"ms-payouts/internal/models"
	"ms-payouts/internal/processor"
)

// Fake is a scripted processor. Transfers are keyed by idempotency key the
// way the real API replays them. All methods are safe for concurrent use.
type Fake struct {
	mu sync.Mutex

	// IntentErr is returned by CreatePaymentIntent when set.
	IntentErr error
	// TransferErr, when set, decides the outcome of each CreateTransfer call.
	// Returning processor.ErrIndeterminate with applied=true simulates a
	// transfer that was created but whose response was lost.
	TransferErr func(in processor.TransferInput) (applied bool, err error)
	// GetTransferErr is returned by GetTransfer for the listed ids.
	GetTransferErr map[string]error
	ListErr        error
	BalanceErr     error

	// DefaultStatus is the status new transfers report. Defaults to pending.
	DefaultStatus models.TransferStatus

	Intents   map[string]processor.PaymentIntentInput
	Cancelled []string
	Transfers map[string]*processor.Transfer
	Payouts   map[string][]processor.Payout
	Balances  map[string]json.RawMessage

	// TransferCalls counts CreateTransfer invocations, including replays.
	TransferCalls int
	ListCalls     int
	// Webhook is returned by VerifyWebhook when Signature matches.
	Webhook   *processor.WebhookEvent
	Signature string

	byKey  map[string]string
	nextID int
}

var (
	_ processor.Processor       = (*Fake)(nil)
	_ processor.WebhookVerifier = (*Fake)(nil)
)

func New() *Fake {
	return &Fake{
		Intents:   make(map[string]processor.PaymentIntentInput),
		Transfers: make(map[string]*processor.Transfer),
		Payouts:   make(map[string][]processor.Payout),
		Balances:  make(map[string]json.RawMessage),
		byKey:     make(map[string]string),
	}
}

func (f *Fake) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s_%d", prefix, f.nextID)
}

func (f *Fake) CreatePaymentIntent(ctx context.Context, in processor.PaymentIntentInput) (*processor.PaymentIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.IntentErr != nil {
		return nil, f.IntentErr
	}
	id := f.id("pi")
	f.Intents[id] = in
	return &processor.PaymentIntent{ID: id, ClientSecret: id + "_secret"}, nil
}

func (f *Fake) CancelPaymentIntent(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Cancelled = append(f.Cancelled, id)
	return nil
}

func (f *Fake) CreateTransfer(ctx context.Context, in processor.TransferInput) (*processor.Transfer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.TransferCalls++

	if in.IdempotencyKey != "" {
		if id, ok := f.byKey[in.IdempotencyKey]; ok {
			t := *f.Transfers[id]
			return &t, nil
		}
	}

	if f.TransferErr != nil {
		applied, err := f.TransferErr(in)
		if err != nil {
			if applied {
				f.store(in)
			}
			return nil, err
		}
	}
	t := *f.store(in)
	return &t, nil
}

func (f *Fake) store(in processor.TransferInput) *processor.Transfer {
	status := f.DefaultStatus
	if status == "" {
		status = models.TransferPending
	}
	t := &processor.Transfer{
		ID:          f.id("tr"),
		Amount:      in.Amount,
		Currency:    in.Currency,
		Destination: in.Destination,
		Status:      status,
	}
	f.Transfers[t.ID] = t
	if in.IdempotencyKey != "" {
		f.byKey[in.IdempotencyKey] = t.ID
	}
	return t
}

func (f *Fake) GetTransfer(ctx context.Context, id string) (*processor.Transfer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.GetTransferErr[id]; ok {
		return nil, err
	}
	t, ok := f.Transfers[id]
	if !ok {
		return nil, &processor.RejectedError{StatusCode: 404, Code: "resource_missing", Message: "No such transfer: " + id}
	}
	out := *t
	return &out, nil
}

// SetTransferStatus changes what GetTransfer reports for id.
func (f *Fake) SetTransferStatus(id string, status models.TransferStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.Transfers[id]; ok {
		t.Status = status
	}
}

// TransferCount is the number of distinct transfers created.
func (f *Fake) TransferCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Transfers)
}

func (f *Fake) ListPayouts(ctx context.Context, accountID, startingAfter string, limit int) (*processor.PayoutPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ListCalls++
	if f.ListErr != nil {
		return nil, f.ListErr
	}

	all := f.Payouts[accountID]
	start := 0
	if startingAfter != "" {
		start = len(all)
		for i, p := range all {
			if p.ID == startingAfter {
				start = i + 1
				break
			}
		}
	}
	end := start + limit
	if limit <= 0 || end > len(all) {
		end = len(all)
	}
	page := &processor.PayoutPage{HasMore: end < len(all)}
	page.Payouts = append(page.Payouts, all[start:end]...)
	return page, nil
}

func (f *Fake) GetBalance(ctx context.Context, accountID string) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.BalanceErr != nil {
		return nil, f.BalanceErr
	}
	b, ok := f.Balances[accountID]
	if !ok {
		return nil, &processor.RejectedError{StatusCode: 404, Code: "account_invalid", Message: "No such account: " + accountID}
	}
	return b, nil
}

func (f *Fake) VerifyWebhook(payload []byte, signature string) (*processor.WebhookEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if signature != f.Signature || f.Webhook == nil {
		return nil, processor.ErrInvalidSignature
	}
	ev := *f.Webhook
	return &ev, nil
}
