package payout_test

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"ms-payouts/internal/ledger/db"
	"ms-payouts/internal/models"
	"ms-payouts/internal/payout"
	"ms-payouts/internal/processor/processortest"
	"ms-payouts/internal/qr"

	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "github.com/uptrace/bun/driver/sqliteshim"
)

const testSecret = "test-qr-secret"

type recordingPublisher struct {
	mu     sync.Mutex
	events map[string][]models.PayoutEvent
}

func (p *recordingPublisher) PublishJSON(ctx context.Context, topic, key string, v interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.events == nil {
		p.events = make(map[string][]models.PayoutEvent)
	}
	if ev, ok := v.(models.PayoutEvent); ok {
		p.events[topic] = append(p.events[topic], ev)
	}
	return nil
}

func (p *recordingPublisher) Events(topic string) []models.PayoutEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.PayoutEvent(nil), p.events[topic]...)
}

type memLocker struct {
	mu    sync.Mutex
	held  map[string]string
	calls int
}

func (l *memLocker) Acquire(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.held == nil {
		l.held = make(map[string]string)
	}
	if _, ok := l.held[name]; ok {
		return false, nil
	}
	l.held[name] = owner
	return true, nil
}

func (l *memLocker) Release(ctx context.Context, name, owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[name] == owner {
		delete(l.held, name)
	}
	return nil
}

type harness struct {
	store     *db.DB
	fake      *processortest.Fake
	publisher *recordingPublisher
	locker    *memLocker
	tickets   *qr.Generator
	svc       *payout.Service
}

var testTopics = payout.Topics{
	BookingNotifications: "bookings",
	PayoutTransferred:    "transferred",
	PayoutReverted:       "reverted",
}

func setupTestDB(t *testing.T) *db.DB {
	t.Helper()
	sqldb, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to connect to in-memory database: %v", err)
	}
	sqldb.SetMaxOpenConns(1)

	store := db.New(bun.NewDB(sqldb, sqlitedialect.New()))
	if err := store.CreateSchema(context.Background()); err != nil {
		t.Fatalf("Failed to create schema: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newHarness(t *testing.T, opts payout.Options) *harness {
	t.Helper()
	h := &harness{
		store:     setupTestDB(t),
		fake:      processortest.New(),
		publisher: &recordingPublisher{},
		locker:    &memLocker{},
		tickets:   qr.NewGenerator(testSecret),
	}
	h.svc = h.service(opts)
	seedDirectory(t, h.store)
	return h
}

func (h *harness) service(opts payout.Options) *payout.Service {
	if opts.Topics == (payout.Topics{}) {
		opts.Topics = testTopics
	}
	return payout.NewService(payout.Deps{
		Store:     h.store,
		Processor: h.fake,
		Tickets:   h.tickets,
		Webhooks:  h.fake,
		Publisher: h.publisher,
		Locker:    h.locker,
	}, opts)
}

func seedDirectory(t *testing.T, store *db.DB) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	rows := []interface{}{
		&models.Organizer{ID: "org-x", Name: "Org X", StripeAccountID: "acct_1", CreatedAt: now},
		&models.Organizer{ID: "org-y", Name: "Org Y", StripeAccountID: "acct_2", CreatedAt: now},
		&models.Organizer{ID: "org-none", Name: "No Account", CreatedAt: now},
		&models.User{ID: "user-1", Email: "buyer@example.com", FirstName: "Ada", LastName: "Byron", CreatedAt: now},
		&models.Event{ID: "event-1", OrganizerID: "org-x", Name: "Launch Night", CreatedAt: now},
	}
	for _, row := range rows {
		_, err := store.Bun.NewInsert().Model(row).Exec(ctx)
		require.NoError(t, err)
	}
}

func intentRequest(orgID string, amount int64) models.PaymentIntentRequest {
	return models.PaymentIntentRequest{
		Amount:      amount,
		OrganizerID: orgID,
		UserID:      "user-1",
		EventID:     "event-1",
		TicketCount: 2,
		TicketID:    "ticket-1",
	}
}

// purchase creates n payments for orgID and returns their payout rows.
func (h *harness) purchase(t *testing.T, orgID string, amount int64, n int) []models.Payout {
	t.Helper()
	ctx := context.Background()
	var out []models.Payout
	for i := 0; i < n; i++ {
		resp, err := h.svc.CreatePaymentIntent(ctx, intentRequest(orgID, amount))
		require.NoError(t, err)
		rows, err := h.store.ListPayoutsByPayment(ctx, resp.PaymentID)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		out = append(out, rows[0])
	}
	return out
}

func (h *harness) payout(t *testing.T, id string) *models.Payout {
	t.Helper()
	p, err := h.store.GetPayout(context.Background(), id)
	require.NoError(t, err)
	return p
}
