package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"rechnungen/internal/config"
	"rechnungen/internal/logger"
	"rechnungen/internal/store"
)

var version = "1.0.0"

var rootCmd = &cobra.Command{
	Use:   "rechnungen",
	Short: "Rechnungseingang - invoices from mail attachments into a database",
	Long: `rechnungen reads invoice attachments from a mailbox, extracts the invoice
fields (invoice number, date, supplier, amounts, VAT, service period) and
keeps one row per invoice number in a SQL table.

Run "rechnungen ingest" periodically, e.g. from cron or a scheduler job.
Every command reads its settings from the environment or a .env file.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits with status 1 on failure.
func Execute() {
	log := logger.WithComponent("cmd")

	if err := rootCmd.Execute(); err != nil {
		log.Error().
			Err(err).
			Msg("Command execution failed")
		fmt.Fprintf(os.Stderr, "Fehler: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration for a command.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// commandContext returns a context canceled on SIGINT/SIGTERM and, when
// timeout is positive, after timeout.
func commandContext(timeout time.Duration, log zerolog.Logger) (context.Context, context.CancelFunc) {
	var ctx context.Context
	var cancel context.CancelFunc
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), timeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			log.Info().
				Str("signal", sig.String()).
				Msg("Received interrupt signal, canceling")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

// openStore opens and migrates the invoice database.
func openStore(ctx context.Context, cfg *config.Config) (*store.DB, *store.InvoiceStore, error) {
	if err := cfg.ValidateStore(); err != nil {
		return nil, nil, err
	}
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	return db, store.NewInvoiceStore(db), nil
}
