package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/firebase/genkit/go/core/api"
	"github.com/firebase/genkit/go/core/tracing"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/compat_oai/openai"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/time/rate"

	"github.com/delaight/waiter/db"
	"github.com/delaight/waiter/internal/audio"
	"github.com/delaight/waiter/internal/config"
	"github.com/delaight/waiter/internal/log"
	"github.com/delaight/waiter/internal/menu"
	"github.com/delaight/waiter/internal/prompt"
	"github.com/delaight/waiter/internal/session"
	"github.com/delaight/waiter/internal/tools"
	"github.com/delaight/waiter/internal/waiter"
)

// Setup creates and initializes the application.
// Returns an App with embedded cleanup; call Close() to release.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	if logger == nil {
		logger = log.NewNop()
	}
	a := &App{Config: cfg, Logger: logger}

	// On error, clean up everything already initialized.
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	a.otelCleanup = provideOtelShutdown(ctx, cfg.Tracing, logger)

	pool, err := provideDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.DBPool = pool

	g, err := provideGenkit(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	embedder := genkit.LookupEmbedder(g, api.NewName("openai", cfg.EmbedderModel))
	if embedder == nil {
		return nil, fmt.Errorf("embedder %q not found for openai provider", cfg.EmbedderModel)
	}
	a.Embedder = embedder

	a.Menu = menu.New(pool, embedder, logger)
	inserted, err := a.Menu.SeedFromCSV(ctx, cfg.MenuCSVPath)
	if err != nil {
		return nil, fmt.Errorf("seeding menu: %w", err)
	}
	if inserted > 0 {
		logger.Info("menu seeded from CSV", "path", cfg.MenuCSVPath, "dishes", inserted)
	}

	a.Sessions = session.NewStore(cfg.HistoryWindow)

	a.Prompts, err = prompt.New()
	if err != nil {
		return nil, fmt.Errorf("loading prompt templates: %w", err)
	}

	a.Registry, err = provideRegistry(a, cfg, logger)
	if err != nil {
		return nil, err
	}

	a.Audio = audio.NewClient(cfg.Audio, logger)

	a.Agent, err = waiter.New(waiter.Config{
		Genkit:            g,
		Sessions:          a.Sessions,
		Menu:              a.Menu,
		Prompts:           a.Prompts,
		Registry:          a.Registry,
		Logger:            logger,
		ModelName:         cfg.FullModelName(),
		Temperature:       cfg.Temperature,
		MaxToolDepth:      cfg.MaxToolDepth,
		ModelTimeout:      time.Duration(cfg.ModelTimeoutMS) * time.Millisecond,
		RetrievalTopK:     cfg.RetrievalTopK,
		RetrievalMinScore: cfg.RetrievalMinScore,
		RateLimiter:       provideModelLimiter(cfg),
	})
	if err != nil {
		return nil, fmt.Errorf("creating waiter agent: %w", err)
	}

	_, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	return a, nil
}

// provideOtelShutdown sets up OTLP trace export before Genkit initialization,
// so Genkit's TracerProvider picks the processor up. Traces go to a local
// collector agent over OTLP HTTP; the agent handles auth and forwarding.
func provideOtelShutdown(ctx context.Context, cfg config.TracingConfig, logger log.Logger) func() {
	if !cfg.Enabled {
		return func() {}
	}

	agentHost := cfg.AgentHost
	if agentHost == "" {
		agentHost = "localhost:4318"
	}

	// Set OTEL env vars for Genkit's TracerProvider to pick up.
	// SAFETY: os.Setenv is not concurrent-safe, but this function is called
	// exactly once during startup, before goroutines are spawned.
	if cfg.ServiceName != "" {
		_ = os.Setenv("OTEL_SERVICE_NAME", cfg.ServiceName)
	}
	if cfg.Environment != "" {
		_ = os.Setenv("OTEL_RESOURCE_ATTRIBUTES", "deployment.environment="+cfg.Environment)
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(agentHost),
		otlptracehttp.WithInsecure(), // localhost doesn't need TLS
	)
	if err != nil {
		logger.Warn("creating trace exporter, tracing disabled", "error", err)
		return func() {}
	}

	processor := sdktrace.NewBatchSpanProcessor(exporter)
	tracing.TracerProvider().RegisterSpanProcessor(processor)

	logger.Debug("tracing enabled",
		"agent", agentHost,
		"service", cfg.ServiceName,
		"environment", cfg.Environment,
	)

	shutdown := tracing.TracerProvider().Shutdown

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Warn("shutting down tracer provider", "error", err)
		}
	}
}

// provideGenkit initializes Genkit with the OpenAI plugin. The plugin reads
// OPENAI_API_KEY from the environment and auto-registers chat models and
// embedders.
func provideGenkit(ctx context.Context, cfg *config.Config, logger log.Logger) (*genkit.Genkit, error) {
	g := genkit.Init(ctx, genkit.WithPlugins(&openai.OpenAI{}))
	if g == nil {
		return nil, errors.New("initializing genkit with openai provider")
	}
	logger.Info("initialized Genkit with openai provider", "model", cfg.ModelName)
	return g, nil
}

// provideDBPool runs migrations and creates the PostgreSQL connection pool.
func provideDBPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}

// provideModelLimiter builds the shared token bucket throttling model calls
// across all conversations. A non-positive rate disables throttling.
func provideModelLimiter(cfg *config.Config) *rate.Limiter {
	if cfg.ModelRateLimit <= 0 {
		return nil
	}
	burst := int(cfg.ModelRateLimit)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(cfg.ModelRateLimit), burst)
}

// provideRegistry creates the tool registry with the three food tools.
func provideRegistry(a *App, cfg *config.Config, logger log.Logger) (*tools.Registry, error) {
	registry := tools.NewRegistry(logger)

	findDishes, err := tools.NewFindDishes(a.Menu, cfg.RetrievalTopK, cfg.RetrievalMinScore)
	if err != nil {
		return nil, fmt.Errorf("creating find-dishes tool: %w", err)
	}
	orderDish, err := tools.NewOrderDish(logger)
	if err != nil {
		return nil, fmt.Errorf("creating order-dish tool: %w", err)
	}
	classify, err := tools.NewClassifyPrompt(a.Genkit, a.Prompts, cfg.FullModelName())
	if err != nil {
		return nil, fmt.Errorf("creating classifier tool: %w", err)
	}

	for _, def := range []*tools.Definition{findDishes, orderDish, classify} {
		if err := registry.Register(def); err != nil {
			return nil, fmt.Errorf("registering tool: %w", err)
		}
	}

	return registry, nil
}
