package db_test

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"ms-payouts/internal/ledger/db"
	"ms-payouts/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "github.com/uptrace/bun/driver/sqliteshim"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func setupTestDB(t *testing.T) (*db.DB, *testClock) {
	// Connect to an in-memory SQLite DB for testing
	sqldb, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to connect to in-memory database: %v", err)
	}
	sqldb.SetMaxOpenConns(1)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	clock := &testClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := db.New(bunDB)
	store.Now = clock.Now

	if err := store.CreateSchema(context.Background()); err != nil {
		t.Fatalf("Failed to create schema: %v", err)
	}
	t.Cleanup(func() { _ = bunDB.Close() })
	return store, clock
}

func newPurchase(orgID string, amount int64) (*models.Payment, *models.Payout) {
	paymentID := uuid.New().String()
	payment := &models.Payment{
		ID:            paymentID,
		UserID:        "user-1",
		EventID:       "event-1",
		TransactionID: "pi_" + paymentID,
		Amount:        amount,
		Currency:      "usd",
		Status:        models.StatusPending,
		QRStatus:      models.QRUnused,
		TicketCount:   1,
	}
	payout := &models.Payout{
		ID:            uuid.New().String(),
		PaymentID:     paymentID,
		Amount:        amount,
		Currency:      "usd",
		OrganizerID:   orgID,
		UserID:        "user-1",
		TransferGroup: models.TransferGroup(orgID),
	}
	return payment, payout
}

func seedPayout(t *testing.T, store *db.DB, amount int64) *models.Payout {
	t.Helper()
	payment, payout := newPurchase("org-1", amount)
	require.NoError(t, store.CreatePurchase(context.Background(), payment, payout))
	return payout
}

func TestCreatePurchase_CommitsAllRows(t *testing.T) {
	store, _ := setupTestDB(t)
	ctx := context.Background()

	payment, payout := newPurchase("org-1", 5000)
	msg := &models.OutboxMessage{ID: uuid.New().String(), Topic: "bookings", Key: payment.ID, Payload: `{"ok":true}`}
	require.NoError(t, store.CreatePurchase(ctx, payment, payout, msg))

	got, err := store.GetPayment(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), got.Amount)
	assert.Equal(t, models.StatusPending, got.Status)

	byTx, err := store.GetPaymentByTransactionID(ctx, payment.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, payment.ID, byTx.ID)

	payouts, err := store.ListPayoutsByPayment(ctx, payment.ID)
	require.NoError(t, err)
	require.Len(t, payouts, 1)
	assert.False(t, payouts[0].IsTransferred)
	assert.Empty(t, payouts[0].TransferID)
	assert.Equal(t, "group_org-1", payouts[0].TransferGroup)

	pending, err := store.PendingOutbox(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, msg.ID, pending[0].ID)
}

func TestCreatePurchase_RollsBackOnFailure(t *testing.T) {
	store, _ := setupTestDB(t)
	ctx := context.Background()

	first, firstPayout := newPurchase("org-1", 1000)
	require.NoError(t, store.CreatePurchase(ctx, first, firstPayout))

	// Same payout id forces the second insert to fail after the payment row.
	payment, payout := newPurchase("org-1", 2000)
	payout.ID = firstPayout.ID
	err := store.CreatePurchase(ctx, payment, payout)
	require.Error(t, err)

	_, err = store.GetPayment(ctx, payment.ID)
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestGetPayment_NotFound(t *testing.T) {
	store, _ := setupTestDB(t)

	p, err := store.GetPayment(context.Background(), "missing")
	assert.ErrorIs(t, err, db.ErrNotFound)
	assert.Nil(t, p)

	po, err := store.GetPayout(context.Background(), "missing")
	assert.ErrorIs(t, err, db.ErrNotFound)
	assert.Nil(t, po)
}

func TestUpdatePaymentStatus_OnlyFromPending(t *testing.T) {
	store, _ := setupTestDB(t)
	ctx := context.Background()
	payment, payout := newPurchase("org-1", 1000)
	require.NoError(t, store.CreatePurchase(ctx, payment, payout))

	ok, err := store.UpdatePaymentStatus(ctx, payment.TransactionID, models.StatusSuccess)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.UpdatePaymentStatus(ctx, payment.TransactionID, models.StatusFailed)
	require.NoError(t, err)
	assert.False(t, ok, "terminal payments must not change")

	got, err := store.GetPayment(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuccess, got.Status)
}

func TestRedeemPayment_Once(t *testing.T) {
	store, _ := setupTestDB(t)
	ctx := context.Background()
	payment, payout := newPurchase("org-1", 1000)
	require.NoError(t, store.CreatePurchase(ctx, payment, payout))

	ok, err := store.RedeemPayment(ctx, payment.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.RedeemPayment(ctx, payment.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListPayments_ByUserAndEvent(t *testing.T) {
	store, clock := setupTestDB(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		payment, payout := newPurchase("org-1", int64(1000*(i+1)))
		if i == 2 {
			payment.UserID = "user-2"
			payment.EventID = "event-2"
		}
		require.NoError(t, store.CreatePurchase(ctx, payment, payout))
		clock.Advance(time.Second)
	}

	byUser, err := store.ListPaymentsByUser(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, byUser, 2)
	assert.Equal(t, int64(2000), byUser[0].Amount, "newest first")

	byEvent, err := store.ListPaymentsByEvent(ctx, "event-2")
	require.NoError(t, err)
	require.Len(t, byEvent, 1)

	none, err := store.ListPaymentsByEvent(ctx, "event-none")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestClaimPayout_ExclusiveUntilLeaseExpires(t *testing.T) {
	store, clock := setupTestDB(t)
	ctx := context.Background()
	payout := seedPayout(t, store, 1000)

	ok, err := store.ClaimPayout(ctx, payout.ID, "sweeper-a", time.Minute, 0)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.ClaimPayout(ctx, payout.ID, "sweeper-b", time.Minute, 0)
	require.NoError(t, err)
	assert.False(t, ok, "live lease must block a second claim")

	clock.Advance(2 * time.Minute)
	ok, err = store.ClaimPayout(ctx, payout.ID, "sweeper-b", time.Minute, 0)
	require.NoError(t, err)
	assert.True(t, ok, "expired lease can be taken over")

	// The original owner lost its lease and cannot mark the row.
	ok, err = store.MarkPayoutTransferred(ctx, payout.ID, "sweeper-a", "tr_a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClaimPayout_ConcurrentClaimsOneWinner(t *testing.T) {
	store, _ := setupTestDB(t)
	ctx := context.Background()
	payout := seedPayout(t, store, 1000)

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := store.ClaimPayout(ctx, payout.ID, fmt.Sprintf("sweeper-%d", i), time.Minute, 0)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, winners)
}

func TestMarkPayoutTransferred(t *testing.T) {
	store, _ := setupTestDB(t)
	ctx := context.Background()
	payout := seedPayout(t, store, 1000)

	ok, err := store.ClaimPayout(ctx, payout.ID, "owner", time.Minute, 0)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.MarkPayoutTransferred(ctx, payout.ID, "owner", "tr_123")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := store.GetPayout(ctx, payout.ID)
	require.NoError(t, err)
	assert.True(t, got.IsTransferred)
	assert.Equal(t, "tr_123", got.TransferID)
	assert.Empty(t, got.LeaseOwner)
	assert.Nil(t, got.LeaseUntil)

	untransferred, err := store.ListUntransferredPayouts(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, untransferred)

	transferred, err := store.ListTransferredPayouts(ctx, 0)
	require.NoError(t, err)
	require.Len(t, transferred, 1)

	// A transferred row can never be claimed again.
	ok, err = store.ClaimPayout(ctx, payout.ID, "other", time.Minute, 0)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRecordTransferFailure_DeadLettersAtCap(t *testing.T) {
	store, _ := setupTestDB(t)
	ctx := context.Background()
	payout := seedPayout(t, store, 1000)

	for attempt := 1; attempt <= 3; attempt++ {
		ok, err := store.ClaimPayout(ctx, payout.ID, "owner", time.Minute, 0)
		require.NoError(t, err)
		require.True(t, ok, "attempt %d", attempt)

		dead, err := store.RecordTransferFailure(ctx, payout.ID, "owner", "insufficient funds", 3)
		require.NoError(t, err)
		assert.Equal(t, attempt == 3, dead)
	}

	got, err := store.GetPayout(ctx, payout.ID)
	require.NoError(t, err)
	assert.True(t, got.DeadLettered)
	assert.Equal(t, 3, got.TransferAttempts)
	assert.Equal(t, "insufficient funds", got.LastError)
	assert.False(t, got.IsTransferred)

	untransferred, err := store.ListUntransferredPayouts(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, untransferred, "dead-lettered rows leave the sweep pool")

	dead, err := store.ListDeadLetteredPayouts(ctx)
	require.NoError(t, err)
	require.Len(t, dead, 1)

	ok, err := store.RequeueDeadLetter(ctx, payout.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err = store.GetPayout(ctx, payout.ID)
	require.NoError(t, err)
	assert.False(t, got.DeadLettered)
	assert.Equal(t, 0, got.TransferAttempts)

	ok, err = store.RequeueDeadLetter(ctx, payout.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRecordTransferFailure_UnboundedWhenCapZero(t *testing.T) {
	store, _ := setupTestDB(t)
	ctx := context.Background()
	payout := seedPayout(t, store, 1000)

	for i := 0; i < 5; i++ {
		ok, err := store.ClaimPayout(ctx, payout.ID, "owner", time.Minute, 0)
		require.NoError(t, err)
		require.True(t, ok)
		dead, err := store.RecordTransferFailure(ctx, payout.ID, "owner", "declined", 0)
		require.NoError(t, err)
		assert.False(t, dead)
	}
	got, err := store.GetPayout(ctx, payout.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.TransferAttempts)
	assert.Equal(t, "payout_"+payout.ID+"_5", got.TransferIdempotencyKey())
}

func TestReleasePayout_KeepsAttempts(t *testing.T) {
	store, _ := setupTestDB(t)
	ctx := context.Background()
	payout := seedPayout(t, store, 1000)

	ok, err := store.ClaimPayout(ctx, payout.ID, "owner", time.Minute, 0)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, store.ReleasePayout(ctx, payout.ID, "owner", "timeout"))

	got, err := store.GetPayout(ctx, payout.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.TransferAttempts)
	assert.Empty(t, got.LeaseOwner)
	assert.Equal(t, "timeout", got.LastError)

	ok, err = store.ClaimPayout(ctx, payout.ID, "next", time.Minute, 0)
	require.NoError(t, err)
	assert.True(t, ok, "released rows are immediately claimable")
}

func markTransferred(t *testing.T, store *db.DB, id, transferID string) {
	t.Helper()
	ctx := context.Background()
	ok, err := store.ClaimPayout(ctx, id, "owner", time.Minute, 0)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = store.MarkPayoutTransferred(ctx, id, "owner", transferID)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestConfirmTransfer(t *testing.T) {
	store, _ := setupTestDB(t)
	ctx := context.Background()
	payout := seedPayout(t, store, 1000)
	markTransferred(t, store, payout.ID, "tr_1")

	ok, err := store.ConfirmTransfer(ctx, payout.ID, "tr_other")
	require.NoError(t, err)
	assert.False(t, ok, "stale transfer id must not match")

	ok, err = store.ConfirmTransfer(ctx, payout.ID, "tr_1")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := store.GetPayout(ctx, payout.ID)
	require.NoError(t, err)
	assert.True(t, got.IsTransferred)
	require.NotNil(t, got.ConfirmedAt)

	pending, err := store.ListTransferredPayouts(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, pending, "confirmed rows are not reconciled again")
}

func TestRevertTransfer(t *testing.T) {
	store, _ := setupTestDB(t)
	ctx := context.Background()
	payout := seedPayout(t, store, 1000)
	markTransferred(t, store, payout.ID, "tr_1")

	ok, dead, err := store.RevertTransfer(ctx, payout.ID, "tr_1", "transfer reversed", 0)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, dead)

	got, err := store.GetPayout(ctx, payout.ID)
	require.NoError(t, err)
	assert.False(t, got.IsTransferred)
	assert.Empty(t, got.TransferID)
	assert.Equal(t, "tr_1", got.FailedTransferID)
	assert.Equal(t, 1, got.TransferAttempts)

	ok, _, err = store.RevertTransfer(ctx, payout.ID, "tr_1", "again", 0)
	require.NoError(t, err)
	assert.False(t, ok)

	untransferred, err := store.ListUntransferredPayouts(ctx, 0)
	require.NoError(t, err)
	require.Len(t, untransferred, 1)
}

func TestRevertTransfer_DeadLettersAtCap(t *testing.T) {
	store, _ := setupTestDB(t)
	ctx := context.Background()
	payout := seedPayout(t, store, 1000)

	markTransferred(t, store, payout.ID, "tr_1")
	ok, dead, err := store.RevertTransfer(ctx, payout.ID, "tr_1", "transfer reversed", 2)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, dead)

	markTransferred(t, store, payout.ID, "tr_2")
	ok, dead, err = store.RevertTransfer(ctx, payout.ID, "tr_2", "transfer reversed", 2)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, dead)

	got, err := store.GetPayout(ctx, payout.ID)
	require.NoError(t, err)
	assert.True(t, got.DeadLettered)
	assert.False(t, got.IsTransferred)
	assert.Empty(t, got.TransferID)
	assert.Equal(t, "tr_2", got.FailedTransferID)
	assert.Equal(t, 2, got.TransferAttempts)

	ok, err = store.ClaimPayout(ctx, payout.ID, "owner", time.Minute, 2)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClaimPayout_RefusesExhaustedRows(t *testing.T) {
	store, _ := setupTestDB(t)
	ctx := context.Background()
	payout := seedPayout(t, store, 1000)

	ok, err := store.ClaimPayout(ctx, payout.ID, "owner", time.Minute, 0)
	require.NoError(t, err)
	require.True(t, ok)
	_, err = store.RecordTransferFailure(ctx, payout.ID, "owner", "declined", 0)
	require.NoError(t, err)

	ok, err = store.ClaimPayout(ctx, payout.ID, "owner", time.Minute, 1)
	require.NoError(t, err)
	assert.False(t, ok, "one attempt used, cap of one")

	ok, err = store.ClaimPayout(ctx, payout.ID, "owner", time.Minute, 2)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestOutbox_SentAndFailed(t *testing.T) {
	store, _ := setupTestDB(t)
	ctx := context.Background()
	payment, payout := newPurchase("org-1", 1000)
	a := &models.OutboxMessage{ID: "a", Topic: "t", Payload: "{}"}
	b := &models.OutboxMessage{ID: "b", Topic: "t", Payload: "{}"}
	require.NoError(t, store.CreatePurchase(ctx, payment, payout, a, b))

	require.NoError(t, store.MarkOutboxFailed(ctx, "a", "broker down"))
	require.NoError(t, store.MarkOutboxSent(ctx, "b"))

	pending, err := store.PendingOutbox(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "a", pending[0].ID)
	assert.Equal(t, 1, pending[0].Attempts)
	assert.Equal(t, "broker down", pending[0].LastError)
}

func TestDirectoryLookups(t *testing.T) {
	store, _ := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := store.Bun.NewInsert().Model(&models.Organizer{ID: "org-1", Name: "Acme", StripeAccountID: "acct_1", CreatedAt: now}).Exec(ctx)
	require.NoError(t, err)
	_, err = store.Bun.NewInsert().Model(&models.User{ID: "user-1", Email: "a@example.com", FirstName: "Ada", CreatedAt: now}).Exec(ctx)
	require.NoError(t, err)
	_, err = store.Bun.NewInsert().Model(&models.Event{ID: "event-1", Name: "Gig", CreatedAt: now}).Exec(ctx)
	require.NoError(t, err)

	org, err := store.GetOrganizer(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, "acct_1", org.StripeAccountID)

	user, err := store.GetUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "Ada", user.FullName())

	event, err := store.GetEvent(ctx, "event-1")
	require.NoError(t, err)
	assert.Equal(t, "Gig", event.Name)

	_, err = store.GetOrganizer(ctx, "missing")
	assert.ErrorIs(t, err, db.ErrNotFound)
}
