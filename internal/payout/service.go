// Package payout implements the organizer payout ledger: purchase intake,
// the transfer sweep, transfer reconciliation and processor-side reporting.
package payout

import (
	"context"
	"strings"
	"time"

	"ms-payouts/internal/logger"
	"ms-payouts/internal/models"
	"ms-payouts/internal/processor"

	"github.com/google/uuid"
)

// Store is the ledger persistence the service needs. *db.DB implements it.
type Store interface {
	CreatePurchase(ctx context.Context, payment *models.Payment, payout *models.Payout, outbox ...*models.OutboxMessage) error
	GetPayment(ctx context.Context, id string) (*models.Payment, error)
	GetPaymentByTransactionID(ctx context.Context, transactionID string) (*models.Payment, error)
	ListPaymentsByUser(ctx context.Context, userID string) ([]models.Payment, error)
	ListPaymentsByEvent(ctx context.Context, eventID string) ([]models.Payment, error)
	UpdatePaymentStatus(ctx context.Context, transactionID string, to models.PaymentStatus) (bool, error)
	RedeemPayment(ctx context.Context, id string) (bool, error)

	GetPayout(ctx context.Context, id string) (*models.Payout, error)
	ListPayoutsByPayment(ctx context.Context, paymentID string) ([]models.Payout, error)
	ListUntransferredPayouts(ctx context.Context, limit int) ([]models.Payout, error)
	ListTransferredPayouts(ctx context.Context, limit int) ([]models.Payout, error)
	ListDeadLetteredPayouts(ctx context.Context) ([]models.Payout, error)
	ClaimPayout(ctx context.Context, id, owner string, ttl time.Duration, maxAttempts int) (bool, error)
	MarkPayoutTransferred(ctx context.Context, id, owner, transferID string) (bool, error)
	RecordTransferFailure(ctx context.Context, id, owner, reason string, maxAttempts int) (bool, error)
	ReleasePayout(ctx context.Context, id, owner, reason string) error
	ConfirmTransfer(ctx context.Context, id, transferID string) (bool, error)
	RevertTransfer(ctx context.Context, id, transferID, reason string, maxAttempts int) (reverted, deadLettered bool, err error)
	RequeueDeadLetter(ctx context.Context, id string) (bool, error)

	GetOrganizer(ctx context.Context, id string) (*models.Organizer, error)
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetEvent(ctx context.Context, id string) (*models.Event, error)
}

// Publisher emits ledger events. *kafka.Producer implements it.
type Publisher interface {
	PublishJSON(ctx context.Context, topic, key string, v interface{}) error
}

// RunLocker serialises whole sweep and reconcile runs across replicas.
type RunLocker interface {
	Acquire(ctx context.Context, name, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, name, owner string) error
}

// TicketEncoder produces and verifies the redemption artifact.
type TicketEncoder interface {
	DataURL(ticket models.TicketPayload) (string, error)
	Open(token string) (*models.TicketPayload, error)
}

type Topics struct {
	BookingNotifications string
	PayoutTransferred    string
	PayoutReverted       string
}

type Options struct {
	Currency             string
	LeaseTTL             time.Duration
	MaxTransferAttempts  int
	BatchSize            int
	ReconcileConcurrency int
	RunLockTTL           time.Duration
	Topics               Topics
	// Owner identifies this instance on leases and run locks.
	Owner string
}

type Deps struct {
	Store     Store
	Processor processor.Processor
	Tickets   TicketEncoder
	// Webhooks, Publisher and Locker are optional.
	Webhooks  processor.WebhookVerifier
	Publisher Publisher
	Locker    RunLocker
	Log       *logger.Logger
}

type Service struct {
	store     Store
	processor processor.Processor
	tickets   TicketEncoder
	webhooks  processor.WebhookVerifier
	publisher Publisher
	locker    RunLocker
	log       *logger.Logger
	opts      Options
	newID     func() string
	now       func() time.Time
}

func NewService(deps Deps, opts Options) *Service {
	if deps.Log == nil {
		deps.Log = logger.NewNop()
	}
	if opts.Currency == "" {
		opts.Currency = "usd"
	}
	opts.Currency = strings.ToLower(opts.Currency)
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = 2 * time.Minute
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 500
	}
	if opts.ReconcileConcurrency <= 0 {
		opts.ReconcileConcurrency = 4
	}
	if opts.RunLockTTL <= 0 {
		opts.RunLockTTL = 10 * time.Minute
	}
	if opts.Owner == "" {
		opts.Owner = uuid.New().String()
	}
	return &Service{
		store:     deps.Store,
		processor: deps.Processor,
		tickets:   deps.Tickets,
		webhooks:  deps.Webhooks,
		publisher: deps.Publisher,
		locker:    deps.Locker,
		log:       deps.Log,
		opts:      opts,
		newID:     func() string { return uuid.New().String() },
		now:       time.Now,
	}
}

func (s *Service) publish(ctx context.Context, topic string, p *models.Payout, eventType string) {
	if s.publisher == nil || topic == "" {
		return
	}
	ev := models.PayoutEvent{
		Type:        eventType,
		PayoutID:    p.ID,
		PaymentID:   p.PaymentID,
		OrganizerID: p.OrganizerID,
		TransferID:  p.TransferID,
		Amount:      p.Amount,
		Currency:    p.Currency,
		Timestamp:   s.now().UTC(),
	}
	if err := s.publisher.PublishJSON(ctx, topic, p.ID, ev); err != nil {
		// Ledger state is already committed; the event is informational.
		s.log.Warn("KAFKA", "Failed to publish "+eventType+" for payout "+p.ID+": "+err.Error())
	}
}

// withRunLock runs fn under the named cluster lock when a locker is set.
// ok is false when another instance holds the lock.
func (s *Service) withRunLock(ctx context.Context, name string, fn func() error) (ok bool, err error) {
	if s.locker == nil {
		return true, fn()
	}
	acquired, err := s.locker.Acquire(ctx, name, s.opts.Owner, s.opts.RunLockTTL)
	if err != nil {
		return false, newError(KindPersistence, name, "run lock unavailable", err)
	}
	if !acquired {
		return false, nil
	}
	defer func() {
		if rerr := s.locker.Release(context.WithoutCancel(ctx), name, s.opts.Owner); rerr != nil {
			s.log.Warn("LOCK", "Failed to release "+name+": "+rerr.Error())
		}
	}()
	return true, fn()
}
