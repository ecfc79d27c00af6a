package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"ms-payouts/internal/logger"
	"ms-payouts/internal/models"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"
)

var ErrStripeClientInitFailed = errors.New("failed to initialize Stripe client")

type StripeOptions struct {
	SecretKey     string
	WebhookSecret string
	// Timeout bounds every call, both on the HTTP client and the request context.
	Timeout time.Duration
	// BaseURL points the client at a different API host. Used by tests.
	BaseURL string
}

var (
	_ Processor       = (*Stripe)(nil)
	_ WebhookVerifier = (*Stripe)(nil)
)

// Stripe implements Processor over the Stripe API.
type Stripe struct {
	client        *client.API
	webhookSecret string
	timeout       time.Duration
	log           *logger.Logger
}

func NewStripe(opts StripeOptions, log *logger.Logger) (*Stripe, error) {
	if log == nil {
		log = logger.NewNop()
	}
	if opts.SecretKey == "" {
		log.Error("STRIPE", "STRIPE_SECRET_KEY environment variable not set")
		return nil, ErrStripeClientInitFailed
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}

	cfg := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: opts.Timeout},
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	}
	if opts.BaseURL != "" {
		cfg.URL = stripe.String(opts.BaseURL)
	}

	sc := client.New(opts.SecretKey, stripe.NewBackendsWithConfig(cfg))
	if sc == nil {
		log.Error("STRIPE", "Failed to initialize Stripe client")
		return nil, ErrStripeClientInitFailed
	}

	log.Info("STRIPE", "Stripe client initialized successfully")
	return &Stripe{
		client:        sc,
		webhookSecret: opts.WebhookSecret,
		timeout:       opts.Timeout,
		log:           log,
	}, nil
}

func (s *Stripe) CreatePaymentIntent(ctx context.Context, in PaymentIntentInput) (*PaymentIntent, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(in.Amount),
		Currency: stripe.String(in.Currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	if in.TransferGroup != "" {
		params.TransferGroup = stripe.String(in.TransferGroup)
	}
	for k, v := range in.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx

	pi, err := s.client.PaymentIntents.New(params)
	if err != nil {
		s.log.LogProcessor("INTENT", in.TransferGroup, fmt.Sprintf("Failed to create payment intent: %v", err))
		return nil, classify(err)
	}
	s.log.LogProcessor("INTENT", pi.ID, fmt.Sprintf("Created payment intent for %d %s", in.Amount, in.Currency))
	return &PaymentIntent{ID: pi.ID, ClientSecret: pi.ClientSecret}, nil
}

func (s *Stripe) CancelPaymentIntent(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	if _, err := s.client.PaymentIntents.Cancel(id, params); err != nil {
		s.log.LogProcessor("CANCEL", id, fmt.Sprintf("Failed to cancel payment intent: %v", err))
		return classify(err)
	}
	s.log.LogProcessor("CANCEL", id, "Payment intent cancelled")
	return nil
}

func (s *Stripe) CreateTransfer(ctx context.Context, in TransferInput) (*Transfer, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	params := &stripe.TransferParams{
		Amount:      stripe.Int64(in.Amount),
		Currency:    stripe.String(in.Currency),
		Destination: stripe.String(in.Destination),
	}
	if in.TransferGroup != "" {
		params.TransferGroup = stripe.String(in.TransferGroup)
	}
	for k, v := range in.Metadata {
		params.AddMetadata(k, v)
	}
	if in.IdempotencyKey != "" {
		params.SetIdempotencyKey(in.IdempotencyKey)
	}
	params.Context = ctx

	t, err := s.client.Transfers.New(params)
	if err != nil {
		s.log.LogProcessor("TRANSFER", in.IdempotencyKey, fmt.Sprintf("Transfer to %s failed: %v", in.Destination, err))
		return nil, classify(err)
	}
	s.log.LogProcessor("TRANSFER", t.ID, fmt.Sprintf("Transferred %d %s to %s", t.Amount, t.Currency, in.Destination))
	return toTransfer(t), nil
}

func (s *Stripe) GetTransfer(ctx context.Context, id string) (*Transfer, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	params := &stripe.TransferParams{}
	params.Context = ctx
	t, err := s.client.Transfers.Get(id, params)
	if err != nil {
		s.log.LogProcessor("TRANSFER", id, fmt.Sprintf("Failed to fetch transfer: %v", err))
		return nil, classify(err)
	}
	return toTransfer(t), nil
}

func (s *Stripe) ListPayouts(ctx context.Context, accountID, startingAfter string, limit int) (*PayoutPage, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	params := &stripe.PayoutListParams{}
	params.Limit = stripe.Int64(int64(limit))
	params.Single = true
	if startingAfter != "" {
		params.StartingAfter = stripe.String(startingAfter)
	}
	params.SetStripeAccount(accountID)
	params.Context = ctx

	iter := s.client.Payouts.List(params)
	page := &PayoutPage{}
	for iter.Next() {
		p := iter.Payout()
		out := Payout{
			ID:       p.ID,
			Amount:   p.Amount,
			Currency: string(p.Currency),
			Status:   string(p.Status),
			Created:  time.Unix(p.Created, 0),
		}
		if p.Destination != nil {
			out.Destination = p.Destination.ID
		}
		page.Payouts = append(page.Payouts, out)
	}
	if err := iter.Err(); err != nil {
		s.log.LogProcessor("PAYOUTS", accountID, fmt.Sprintf("Failed to list payouts: %v", err))
		return nil, classify(err)
	}
	if meta := iter.Meta(); meta != nil {
		page.HasMore = meta.HasMore
	}
	return page, nil
}

func (s *Stripe) GetBalance(ctx context.Context, accountID string) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	params := &stripe.BalanceParams{}
	params.SetStripeAccount(accountID)
	params.Context = ctx

	b, err := s.client.Balance.Get(params)
	if err != nil {
		s.log.LogProcessor("BALANCE", accountID, fmt.Sprintf("Failed to fetch balance: %v", err))
		return nil, classify(err)
	}
	if b.LastResponse != nil && len(b.LastResponse.RawJSON) > 0 {
		return json.RawMessage(b.LastResponse.RawJSON), nil
	}
	raw, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("encode balance: %w", err)
	}
	return raw, nil
}

// VerifyWebhook checks the Stripe-Signature header and decodes the event.
func (s *Stripe) VerifyWebhook(payload []byte, signature string) (*WebhookEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		s.log.LogSecurity("WEBHOOK", fmt.Sprintf("Signature verification failed: %v", err))
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	out := &WebhookEvent{ID: event.ID, Type: string(event.Type)}
	if event.Data != nil && len(event.Data.Raw) > 0 {
		var obj struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(event.Data.Raw, &obj); err != nil {
			return nil, fmt.Errorf("decode webhook object: %w", err)
		}
		out.PaymentIntentID = obj.ID
	}
	return out, nil
}

func toTransfer(t *stripe.Transfer) *Transfer {
	out := &Transfer{
		ID:       t.ID,
		Amount:   t.Amount,
		Currency: string(t.Currency),
		Status:   TransferStatusOf(t),
	}
	if t.Destination != nil {
		out.Destination = t.Destination.ID
	}
	return out
}

// TransferStatusOf derives a settlement status from a Stripe transfer, which
// has no status field of its own. A reversed transfer failed; one with a
// balance transaction has settled; anything else is still pending.
func TransferStatusOf(t *stripe.Transfer) models.TransferStatus {
	switch {
	case t.Reversed:
		return models.TransferFailed
	case t.BalanceTransaction != nil && t.BalanceTransaction.ID != "":
		return models.TransferSucceeded
	default:
		return models.TransferPending
	}
}

// classify maps a Stripe client error onto RejectedError or ErrIndeterminate.
func classify(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.HTTPStatusCode >= 500 || stripeErr.HTTPStatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("%w: %v", ErrIndeterminate, err)
		}
		return &RejectedError{
			StatusCode: stripeErr.HTTPStatusCode,
			Code:       string(stripeErr.Code),
			Message:    stripeErr.Msg,
		}
	}
	return fmt.Errorf("%w: %v", ErrIndeterminate, err)
}
