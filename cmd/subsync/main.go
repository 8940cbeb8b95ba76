package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mihaimyh/subsync/internal/config"
	"github.com/mihaimyh/subsync/internal/logging"
	"github.com/mihaimyh/subsync/internal/server"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	GitCommit = "unknown"
)

var envFile string

var rootCmd = &cobra.Command{
	Use:          "subsync",
	Short:        "Stripe subscription webhook ingestion and profile reconciliation",
	Version:      Version,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the webhook and session endpoints",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

var syncCustomerID string

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Pull a customer's subscription from Stripe and reconcile it",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSync(cmd.Context(), syncCustomerID)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("subsync %s\n", Version)
		if GitCommit != "unknown" {
			fmt.Printf("Commit: %s\n", GitCommit)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "optional dotenv file loaded before the environment")
	syncCmd.Flags().StringVar(&syncCustomerID, "customer", "", "Stripe customer ID (cus_...)")
	_ = syncCmd.MarkFlagRequired("customer")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// setup loads configuration, initializes logging and Sentry. The returned
// func flushes Sentry and must be deferred.
func setup() (*config.Config, zerolog.Logger, func(), error) {
	logger := logging.New(logging.Config{Format: "auto", Level: "info", Component: "subsync"})

	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, logger, func() {}, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, logger, func() {}, err
	}

	logger = logging.New(logging.Config{Format: cfg.LogFormat, Level: cfg.LogLevel, Component: "subsync"})

	flush := func() {}
	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.SentryDSN,
			Environment: cfg.Environment,
			Release:     "subsync@" + Version,
		}); err != nil {
			logger.Error().Err(err).Msg("Sentry init failed, continuing without error reporting")
		} else {
			flush = func() { sentry.Flush(2 * time.Second) }
		}
	}
	return cfg, logger, flush, nil
}

func runServe(ctx context.Context) error {
	cfg, logger, flush, err := setup()
	if err != nil {
		return err
	}
	defer flush()

	srv, err := server.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := srv.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close profile store")
		}
	}()

	logger.Info().Str("version", Version).Msg("Starting subsync")
	return srv.Run(ctx)
}

func runSync(ctx context.Context, customerID string) error {
	cfg, logger, flush, err := setup()
	if err != nil {
		return err
	}
	defer flush()

	srv, err := server.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer srv.Close()

	outcome, err := srv.Provider().SyncCustomer(ctx, customerID)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]interface{}{
		"customer_id": outcome.CustomerID,
		"outcome":     outcome.Kind,
		"status":      outcome.Status,
		"expires_at":  outcome.ExpiresAt,
		"price_id":    outcome.PriceID,
	})
}
