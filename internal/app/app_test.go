package app

import (
	"context"
	"testing"
	"time"

	"ms-payouts/internal/config"
	"ms-payouts/internal/logger"
	"ms-payouts/internal/notify"
	"ms-payouts/internal/payout"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenDBRequiresDSN(t *testing.T) {
	_, err := OpenDB(context.Background(), config.DatabaseConfig{}, logger.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "POSTGRES_DSN")
}

func TestOpenDBStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := OpenDB(ctx, config.DatabaseConfig{
		DSN:          "postgres://nobody@127.0.0.1:1/none?sslmode=disable&connect_timeout=1",
		ConnectTries: 3,
	}, logger.NewNop())
	require.Error(t, err)
}

func TestSchedulerJobs(t *testing.T) {
	cfg := config.Load()
	cfg.Payout.SweepInterval = time.Hour
	cfg.Payout.ReconcileInterval = 0
	cfg.Payout.OutboxInterval = time.Hour

	a := &App{
		Config:  cfg,
		Log:     logger.NewNop(),
		Service: payout.NewService(payout.Deps{}, payout.Options{}),
	}

	s := a.Scheduler()
	assert.Equal(t, 1, s.Start(context.Background()), "reconcile disabled, no relay")
	s.Stop()

	a.Relay = notify.NewRelay(nil, nil, logger.NewNop())
	s = a.Scheduler()
	assert.Equal(t, 2, s.Start(context.Background()))
	s.Stop()
}

func TestTopicIf(t *testing.T) {
	assert.Equal(t, "", topicIf(false, "bookings"))
	assert.Equal(t, "bookings", topicIf(true, "bookings"))
}
