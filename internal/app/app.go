// Package app wires the application together.
//
// Setup builds every component in dependency order: tracing, the database
// pool (with migrations and the seed-if-empty menu ingestion), Genkit with
// the OpenAI plugin, the tool registry, and finally the waiter agent.
// Close releases everything in reverse.
package app

import (
	"context"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/delaight/waiter/internal/audio"
	"github.com/delaight/waiter/internal/config"
	"github.com/delaight/waiter/internal/log"
	"github.com/delaight/waiter/internal/menu"
	"github.com/delaight/waiter/internal/prompt"
	"github.com/delaight/waiter/internal/session"
	"github.com/delaight/waiter/internal/tools"
	"github.com/delaight/waiter/internal/waiter"
)

// App is the application container.
type App struct {
	Config *config.Config
	Logger log.Logger

	Genkit   *genkit.Genkit
	Embedder ai.Embedder
	DBPool   *pgxpool.Pool
	Menu     *menu.Store
	Sessions *session.Store
	Prompts  *prompt.Renderer
	Registry *tools.Registry
	Audio    *audio.Client
	Agent    *waiter.Agent

	otelCleanup func()
	cancel      context.CancelFunc
}

// Close shuts down all resources.
func (a *App) Close() error {
	if a.Logger != nil {
		a.Logger.Info("shutting down application")
	}

	if a.cancel != nil {
		a.cancel()
	}
	if a.DBPool != nil {
		a.DBPool.Close()
	}
	if a.otelCleanup != nil {
		a.otelCleanup()
	}
	return nil
}
