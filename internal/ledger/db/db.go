package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ms-payouts/internal/models"

	"github.com/uptrace/bun"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("record not found")
)

type DB struct {
	Bun *bun.DB
	// Now is the store clock; lease comparisons use it. Defaults to time.Now.
	Now func() time.Time
}

func New(bunDB *bun.DB) *DB {
	return &DB{Bun: bunDB}
}

func (d *DB) now() time.Time {
	if d.Now != nil {
		return d.Now().UTC()
	}
	return time.Now().UTC()
}

func (d *DB) Ping(ctx context.Context) error {
	return d.Bun.PingContext(ctx)
}

func (d *DB) Close() error {
	return d.Bun.Close()
}

// CreateSchema creates every ledger table. Production schemas come from the
// SQL migrations; this is for tests and local development.
func (d *DB) CreateSchema(ctx context.Context) error {
	tables := []interface{}{
		(*models.User)(nil),
		(*models.Event)(nil),
		(*models.Organizer)(nil),
		(*models.Payment)(nil),
		(*models.Payout)(nil),
		(*models.OutboxMessage)(nil),
	}
	for _, m := range tables {
		if _, err := d.Bun.NewCreateTable().Model(m).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table for %T: %w", m, err)
		}
	}

	indexes := []struct {
		model   interface{}
		name    string
		columns []string
	}{
		{(*models.Payout)(nil), "idx_payouts_transfer_state", []string{"is_transferred", "dead_lettered"}},
		{(*models.Payout)(nil), "idx_payouts_payment_id", []string{"payment_id"}},
		{(*models.Payment)(nil), "idx_payments_user_id", []string{"user_id"}},
		{(*models.Payment)(nil), "idx_payments_event_id", []string{"event_id"}},
		{(*models.OutboxMessage)(nil), "idx_outbox_sent_at", []string{"sent_at"}},
	}
	for _, idx := range indexes {
		if _, err := d.Bun.NewCreateIndex().
			Model(idx.model).
			Index(idx.name).
			Column(idx.columns...).
			IfNotExists().
			Exec(ctx); err != nil {
			return fmt.Errorf("create index %s: %w", idx.name, err)
		}
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
