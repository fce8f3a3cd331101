package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/delaight/waiter/internal/app"
	"github.com/delaight/waiter/internal/config"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Ingest the menu CSV into the vector store",
	Long: `Runs migrations and seeds the vector store from the configured
menu CSV. Seeding is idempotent: a populated store is left untouched.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runSeed(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

// runSeed sets up the application, which performs the seed-if-empty
// ingestion, and reports the outcome.
func runSeed(parent context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := newLogger()

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	count, err := a.Menu.Count(ctx)
	if err != nil {
		return fmt.Errorf("counting menu documents: %w", err)
	}

	fmt.Printf("vector store ready: %d dishes\n", count)
	return nil
}
