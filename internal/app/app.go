// Package app wires configuration, connections and the payout service into a
// runnable process. Both cmd/payout-service and cmd/payoutctl use it.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"ms-payouts/internal/auth"
	"ms-payouts/internal/config"
	"ms-payouts/internal/database/migrations"
	"ms-payouts/internal/kafka"
	"ms-payouts/internal/ledger/db"
	"ms-payouts/internal/lock"
	"ms-payouts/internal/logger"
	"ms-payouts/internal/notify"
	"ms-payouts/internal/payout"
	"ms-payouts/internal/payout/api"
	"ms-payouts/internal/processor"
	"ms-payouts/internal/qr"
	"ms-payouts/internal/scheduler"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
)

type App struct {
	Config   *config.Config
	Log      *logger.Logger
	Store    *db.DB
	Service  *payout.Service
	Handler  *api.Handler
	Relay    *notify.Relay
	Producer *kafka.Producer
	Redis    *redis.Client

	closers []func() error
}

// OpenDB connects to Postgres, retrying while the database comes up.
func OpenDB(ctx context.Context, cfg config.DatabaseConfig, log *logger.Logger) (*sql.DB, error) {
	if cfg.DSN == "" {
		return nil, errors.New("POSTGRES_DSN not set")
	}
	tries := cfg.ConnectTries
	if tries <= 0 {
		tries = 1
	}

	var lastErr error
	for i := 0; i < tries; i++ {
		log.Info("DATABASE", fmt.Sprintf("Attempting to connect to PostgreSQL (attempt %d/%d)", i+1, tries))
		sqldb, err := sql.Open("postgres", cfg.DSN)
		if err == nil {
			if err = sqldb.PingContext(ctx); err == nil {
				sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
				sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
				sqldb.SetConnMaxLifetime(cfg.MaxLifetime)
				log.Info("DATABASE", "PostgreSQL connection successful")
				return sqldb, nil
			}
			_ = sqldb.Close()
		}
		lastErr = err
		log.Error("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))

		if i < tries-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(2 * time.Second):
			}
		}
	}
	return nil, fmt.Errorf("connect to PostgreSQL after %d attempts: %w", tries, lastErr)
}

// RunMigrations applies (or with down, rolls back) the ledger schema on its
// own connection, since the migrate driver closes the handle it is given.
func RunMigrations(ctx context.Context, cfg *config.Config, log *logger.Logger, down bool) error {
	sqldb, err := OpenDB(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	runner := migrations.NewRunner(sqldb, migrations.MigrateOptions{
		MigrationsDir: cfg.Database.MigrationsDir,
		AutoMigrate:   true,
	}, log)
	if err := runner.Initialize(); err != nil {
		_ = sqldb.Close()
		return err
	}
	defer func() {
		if err := runner.Close(); err != nil {
			log.Warn("MIGRATE", err.Error())
		}
	}()

	if down {
		return runner.MigrateDown()
	}
	return runner.MigrateUp()
}

// New connects every configured dependency and builds the service.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log}

	if cfg.Database.AutoMigrate {
		if err := RunMigrations(ctx, cfg, log, false); err != nil {
			return nil, fmt.Errorf("auto-migrate: %w", err)
		}
	}

	sqldb, err := OpenDB(ctx, cfg.Database, log)
	if err != nil {
		return nil, err
	}
	bunDB := bun.NewDB(sqldb, pgdialect.New())
	a.Store = db.New(bunDB)
	a.closers = append(a.closers, a.Store.Close)

	stripeClient, err := processor.NewStripe(processor.StripeOptions{
		SecretKey:     cfg.Stripe.SecretKey,
		WebhookSecret: cfg.Stripe.WebhookSecret,
		Timeout:       cfg.Stripe.RequestTimeout,
	}, log)
	if err != nil {
		a.Close()
		return nil, err
	}

	if cfg.QR.Secret == "" {
		log.Warn("CONFIG", "QR_SECRET_KEY not set, ticket tokens use an empty key")
	}

	// Optional dependencies stay nil interfaces when disabled.
	var locker payout.RunLocker
	if cfg.Redis.Enabled {
		a.Redis = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		a.closers = append(a.closers, a.Redis.Close)
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("redis connection error: %w", err)
		}
		log.Info("REDIS", fmt.Sprintf("Redis connection successful to %s", cfg.Redis.Addr))
		locker = lock.NewRunLock(a.Redis, log)
	}

	var publisher payout.Publisher
	if cfg.Kafka.Enabled {
		a.Producer = kafka.NewProducer(cfg.Kafka.Brokers, log)
		a.closers = append(a.closers, a.Producer.Close)
		topics := []string{
			cfg.Kafka.Topics.BookingNotifications,
			cfg.Kafka.Topics.PayoutTransferred,
			cfg.Kafka.Topics.PayoutReverted,
		}
		if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, topics, log); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		}
		publisher = a.Producer
		a.Relay = notify.NewRelay(a.Store, a.Producer, log)
	}

	a.Service = payout.NewService(payout.Deps{
		Store:     a.Store,
		Processor: stripeClient,
		Tickets:   qr.NewGenerator(cfg.QR.Secret),
		Webhooks:  stripeClient,
		Publisher: publisher,
		Locker:    locker,
		Log:       log,
	}, payout.Options{
		Currency:             cfg.Stripe.Currency,
		LeaseTTL:             cfg.Payout.LeaseTTL,
		MaxTransferAttempts:  cfg.Payout.MaxTransferAttempts,
		BatchSize:            cfg.Payout.BatchSize,
		ReconcileConcurrency: cfg.Payout.ReconcileConcurrency,
		RunLockTTL:           cfg.Payout.RunLockTTL,
		Topics: payout.Topics{
			BookingNotifications: topicIf(cfg.Kafka.Enabled, cfg.Kafka.Topics.BookingNotifications),
			PayoutTransferred:    cfg.Kafka.Topics.PayoutTransferred,
			PayoutReverted:       cfg.Kafka.Topics.PayoutReverted,
		},
	})

	a.Handler = api.NewHandler(a.Service, log)
	a.Handler.Health = a.Store
	if cfg.Auth.OIDCIssuer != "" {
		verify, err := auth.NewOIDCVerifier(ctx, cfg.Auth.OIDCIssuer)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Handler.Verify = verify
		log.Info("AUTH", "OIDC verification applied to operator routes")
	}

	return a, nil
}

// topicIf keeps outbox rows from piling up when nothing relays them.
func topicIf(enabled bool, topic string) string {
	if !enabled {
		return ""
	}
	return topic
}

// Scheduler returns the periodic jobs configured for this process.
func (a *App) Scheduler() *scheduler.Scheduler {
	jobs := []scheduler.Job{
		{Name: "sweep", Interval: a.Config.Payout.SweepInterval, Run: func(ctx context.Context) error {
			result, err := a.Service.Sweep(ctx)
			if err != nil {
				return err
			}
			return result.Err()
		}},
		{Name: "reconcile", Interval: a.Config.Payout.ReconcileInterval, Run: func(ctx context.Context) error {
			result, err := a.Service.Reconcile(ctx)
			if err != nil {
				return err
			}
			return result.Err()
		}},
	}
	if a.Relay != nil {
		jobs = append(jobs, scheduler.Job{Name: "outbox", Interval: a.Config.Payout.OutboxInterval, Run: func(ctx context.Context) error {
			_, err := a.Relay.RunOnce(ctx)
			return err
		}})
	}
	return scheduler.New(a.Log, jobs...)
}

// Serve runs the HTTP server, the scheduler and the booking email consumer
// until ctx is cancelled, then shuts them down in order.
func (a *App) Serve(ctx context.Context) error {
	cfg := a.Config
	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      a.Handler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	sched := a.Scheduler()
	sched.Start(ctx)
	defer sched.Stop()

	consumerDone := make(chan struct{})
	if cfg.Kafka.Enabled && cfg.Email.SMTPUsername != "" {
		consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topics.BookingNotifications, cfg.Kafka.GroupID, a.Log)
		handle := notify.BookingHandler(notify.NewSMTPMailer(cfg.Email), cfg.Server.TicketURLBase, a.Log)
		go func() {
			defer close(consumerDone)
			defer consumer.Close()
			if err := consumer.Run(ctx, handle); err != nil {
				a.Log.Error("KAFKA", fmt.Sprintf("Booking consumer stopped: %v", err))
			}
		}()
	} else {
		a.Log.Info("EMAIL", "Booking email consumer disabled")
		close(consumerDone)
	}

	serverErr := make(chan error, 1)
	go func() {
		a.Log.Info("HTTP", fmt.Sprintf("Payout service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("HTTP server error: %w", err)
		}
	case <-ctx.Done():
		a.Log.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		a.Log.Error("HTTP", fmt.Sprintf("Server Shutdown Failed: %v", err))
	}
	<-consumerDone
	a.Log.Info("HTTP", "Payout service shutdown complete")
	return nil
}

// Close releases connections in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Log.Warn("APP", fmt.Sprintf("Close: %v", err))
		}
	}
	a.closers = nil
}
