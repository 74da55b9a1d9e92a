package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dukahq/duka/internal/chat"
	"github.com/dukahq/duka/internal/config"
	"github.com/dukahq/duka/internal/llm"
	"github.com/dukahq/duka/internal/llm/openai"
	"github.com/dukahq/duka/internal/observability"
	"github.com/dukahq/duka/internal/ratelimit"
	"github.com/dukahq/duka/internal/storage"
	pgstore "github.com/dukahq/duka/internal/storage/postgres"
	sqlitestore "github.com/dukahq/duka/internal/storage/sqlite"
	"github.com/dukahq/duka/internal/tools"
	carttool "github.com/dukahq/duka/internal/tools/cart"
	catalogtool "github.com/dukahq/duka/internal/tools/catalog"
)

// Components holds the initialized subsystems shared by the server and
// the local chat REPL. Built once by initComponents, torn down by Cleanup.
type Components struct {
	Config  *config.Config
	Logger  *slog.Logger
	Store   storage.Store
	Obs     *observability.Observability
	Limiter *ratelimit.Limiter
	Service *chat.Service

	cleanups []func()
}

// Cleanup runs all deferred cleanup functions in reverse order.
func (c *Components) Cleanup() {
	for i := len(c.cleanups) - 1; i >= 0; i-- {
		c.cleanups[i]()
	}
}

func (c *Components) addCleanup(fn func()) {
	c.cleanups = append(c.cleanups, fn)
}

// initComponents performs the initialization shared between server and
// chat modes. Callers must call Cleanup when done.
func initComponents(cfg *config.Config, logger *slog.Logger) (*Components, error) {
	c := &Components{
		Config: cfg,
		Logger: logger,
	}

	// Data directory.
	dataDir := cfg.ResolvedDataDir()
	if err := os.MkdirAll(dataDir, 0750); err != nil {
		return nil, fmt.Errorf("creating data directory %s: %w", dataDir, err)
	}

	// Observability.
	obs, err := observability.New(cfg.Observability, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing observability: %w", err)
	}
	c.Obs = obs
	c.addCleanup(func() {
		if obs != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			obs.Shutdown(shutdownCtx)
		}
	})

	// LLM provider with optional fallback chain.
	provider, err := newLLMProvider(cfg, logger)
	if err != nil {
		c.Cleanup()
		return nil, fmt.Errorf("initializing LLM provider: %w", err)
	}
	if obs != nil && obs.Metrics != nil {
		provider = observability.NewInstrumentedProvider(provider, obs.Metrics, obs.Tracer)
	}
	logger.Debug("llm provider initialized", slog.String("provider", provider.Name()))

	// Storage (SQLite default, PostgreSQL optional).
	store, err := initStore(cfg, logger)
	if err != nil {
		c.Cleanup()
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	c.Store = store
	c.addCleanup(func() {
		if err := store.Close(); err != nil {
			logger.Error("closing store", slog.String("error", err.Error()))
		}
	})

	if err := store.Migrate(context.Background()); err != nil {
		c.Cleanup()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	logger.Debug("storage initialized", slog.String("driver", store.Driver()))

	if obs != nil && obs.Health != nil {
		obs.Health.AddCheck("database", store.Ping)
	}

	svc, err := buildChatService(cfg, provider, store.Conversations(), store, obs, logger, c)
	if err != nil {
		c.Cleanup()
		return nil, err
	}
	c.Service = svc

	return c, nil
}

// buildChatService assembles the tool registry, orchestration loop and
// chat service around the given provider and stores.
func buildChatService(
	cfg *config.Config,
	provider llm.Provider,
	conversations chat.ConversationStore,
	store storage.Store,
	obs *observability.Observability,
	logger *slog.Logger,
	c *Components,
) (*chat.Service, error) {
	registry := tools.NewRegistry()
	catalogtool.Register(registry, store.Catalog(), logger)
	carttool.Register(registry, store.Cart(), logger)
	logger.Debug("tools registered", slog.Any("tools", registry.List()))

	executor := tools.NewExecutor(registry, logger)
	if obs != nil && obs.Metrics != nil {
		executor = executor.WithMetrics(obs.Metrics)
	}

	orch := chat.NewOrchestrator(provider, registry, executor, logger).
		WithMaxIterations(cfg.Chat.Iterations()).
		WithSampling(cfg.Chat.Tokens(), cfg.Chat.Sampling()).
		WithObservability(obs)

	limiter := ratelimit.NewLimiter(ratelimit.Config{
		MaxRequests: cfg.RateLimit.Requests(),
		Window:      cfg.RateLimit.Window(),
	})
	c.Limiter = limiter

	prompt, err := cfg.Chat.Prompt()
	if err != nil {
		return nil, err
	}
	builder := chat.NewContextBuilder(prompt)

	svc := chat.NewService(conversations, limiter, builder, orch, logger).
		WithObservability(obs).
		WithHistoryWindow(cfg.Chat.History()).
		WithMessageLimit(cfg.Chat.MessageBytes())
	return svc, nil
}

// newLLMProvider builds the primary OpenAI-compatible client and, when
// fallbacks are configured, wraps the chain in a FallbackProvider.
func newLLMProvider(cfg *config.Config, logger *slog.Logger) (llm.Provider, error) {
	primary := newOpenAIClient(cfg.Providers.OpenAI, logger)
	if len(cfg.Providers.Fallback) == 0 {
		return primary, nil
	}

	providers := make([]llm.Provider, 0, len(cfg.Providers.Fallback)+1)
	providers = append(providers, primary)
	for _, fb := range cfg.Providers.Fallback {
		providers = append(providers, newOpenAIClient(fb, logger))
	}
	return llm.NewFallbackProvider(providers, logger), nil
}

func newOpenAIClient(pc config.OpenAIConfig, logger *slog.Logger) *openai.Client {
	var opts []openai.Option
	if pc.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(pc.BaseURL))
	}
	if pc.Name != "" {
		opts = append(opts, openai.WithName(pc.Name))
	}
	return openai.NewClient(pc.APIKey, pc.Model, logger, opts...)
}

// initStore opens the configured storage backend.
func initStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	switch cfg.StorageDriverName() {
	case storage.DriverPostgres:
		pgCfg := pgstore.Config{}
		if cfg.Storage != nil && cfg.Storage.Postgres != nil {
			p := cfg.Storage.Postgres
			pgCfg.DSN = p.DSN
			pgCfg.MaxOpenConns = p.MaxOpenConns
			pgCfg.MaxIdleConns = p.MaxIdleConns
			if p.ConnMaxLifetimeS > 0 {
				pgCfg.ConnMaxLifetime = time.Duration(p.ConnMaxLifetimeS) * time.Second
			}
		}
		db, err := pgstore.Open(pgCfg, logger)
		if err != nil {
			return nil, err
		}
		return pgstore.NewStore(db), nil

	default:
		sqCfg := sqlitestore.Config{Path: cfg.DatabasePath()}
		if cfg.Storage != nil && cfg.Storage.SQLite != nil {
			if cfg.Storage.SQLite.Path != "" {
				sqCfg.Path = cfg.Storage.SQLite.Path
			}
			sqCfg.JournalMode = cfg.Storage.SQLite.JournalMode
		}
		return sqlitestore.Open(sqCfg, logger)
	}
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}
