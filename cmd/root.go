// Package cmd provides the delaight CLI commands.
//
// Commands:
//   - serve: HTTP API server (chat, streaming, voice, food tools)
//   - mcp: Model Context Protocol server on stdio
//   - seed: one-off menu ingestion from CSV
//   - version: build information
//
// All long-running commands shut down gracefully on SIGINT/SIGTERM via
// context cancellation.
package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/delaight/waiter/internal/log"
)

var rootCmd = &cobra.Command{
	Use:   "delaight",
	Short: "Delaight - AI waiter for an Italian restaurant",
	Long: `Delaight serves an AI waiter for an Italian restaurant: a chat
agent grounded in the menu through vector retrieval, with explicit tools
for finding dishes and placing orders, plus voice chat endpoints.

Running delaight without a subcommand starts the HTTP server.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// newLogger builds the process logger. DEBUG=1 enables debug level,
// DELAIGHT_LOG_JSON=1 switches to JSON output for log shippers.
func newLogger() log.Logger {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	return log.New(log.Config{
		Level: level,
		JSON:  os.Getenv("DELAIGHT_LOG_JSON") != "",
	})
}
