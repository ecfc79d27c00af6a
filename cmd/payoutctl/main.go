// Command payoutctl runs the payout service or one of its batch jobs.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"ms-payouts/internal/app"
	"ms-payouts/internal/config"
	"ms-payouts/internal/logger"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

type cli struct {
	envFile string
	cfg     *config.Config
	log     *logger.Logger
}

func main() {
	c := &cli{}
	root := &cobra.Command{
		Use:           "payoutctl",
		Short:         "Organizer payout ledger service and batch jobs",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := godotenv.Load(c.envFile); err != nil && c.envFile != ".env" {
				return fmt.Errorf("load %s: %w", c.envFile, err)
			}
			c.cfg = config.Load()
			c.log = logger.NewWithOptions(logger.Options{
				Dir:         c.cfg.Log.Dir,
				FilePrefix:  c.cfg.Log.Prefix,
				MinLevel:    logger.ParseLevel(c.cfg.Log.Level),
				Console:     os.Stderr,
				DisableFile: cmd.Name() != "serve",
			})
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.log != nil {
				c.log.Close()
			}
		},
	}
	root.PersistentFlags().StringVar(&c.envFile, "env-file", ".env", "dotenv file to load before reading the environment")

	root.AddCommand(c.serveCmd(), c.sweepCmd(), c.reconcileCmd(), c.migrateCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

func (c *cli) open(ctx context.Context) (*app.App, error) {
	if err := c.cfg.Validate(); err != nil {
		return nil, err
	}
	return app.New(ctx, c.cfg, c.log)
}

func (c *cli) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, scheduled jobs and the booking email consumer",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			return a.Serve(cmd.Context())
		},
	}
}

func (c *cli) sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Transfer every untransferred payout once and print the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.Service.Sweep(cmd.Context())
			if err != nil {
				return err
			}
			if err := printJSON(cmd, result); err != nil {
				return err
			}
			return result.Err()
		},
	}
}

func (c *cli) reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Check transferred payouts against the processor once and print the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.Service.Reconcile(cmd.Context())
			if err != nil {
				return err
			}
			if err := printJSON(cmd, result); err != nil {
				return err
			}
			return result.Err()
		},
	}
}

func (c *cli) migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back the ledger schema",
	}
	run := func(down bool) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			if c.cfg.Database.DSN == "" {
				return errors.New("POSTGRES_DSN not set")
			}
			return app.RunMigrations(cmd.Context(), c.cfg, c.log, down)
		}
	}
	cmd.AddCommand(
		&cobra.Command{Use: "up", Short: "Apply all pending migrations", Args: cobra.NoArgs, RunE: run(false)},
		&cobra.Command{Use: "down", Short: "Roll back every migration", Args: cobra.NoArgs, RunE: run(true)},
	)
	return cmd
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
