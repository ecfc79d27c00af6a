package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"ms-payouts/internal/app"
	"ms-payouts/internal/config"
	"ms-payouts/internal/logger"

	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Println("Warning: .env file not found, using environment variables")
	}

	cfg := config.Load()
	appLogger := logger.NewWithOptions(logger.Options{
		Dir:        cfg.Log.Dir,
		FilePrefix: cfg.Log.Prefix,
		MinLevel:   logger.ParseLevel(cfg.Log.Level),
	})
	defer appLogger.Close()

	appLogger.Info("STARTUP", "Payout service starting up")
	if err := cfg.Validate(); err != nil {
		appLogger.Fatal("CONFIG", err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, appLogger)
	if err != nil {
		appLogger.Fatal("STARTUP", err.Error())
	}
	defer a.Close()

	if err := a.Serve(ctx); err != nil {
		appLogger.Error("APP", err.Error())
		a.Close()
		appLogger.Close()
		os.Exit(1)
	}
}
