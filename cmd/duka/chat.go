package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	goutils "github.com/jkaninda/go-utils"

	"github.com/dukahq/duka/internal/chat"
	"github.com/dukahq/duka/internal/commerce"
	"github.com/dukahq/duka/internal/config"
	"github.com/dukahq/duka/internal/gateway/cli"
	"github.com/dukahq/duka/internal/ratelimit"
	"github.com/dukahq/duka/internal/tools"
	carttool "github.com/dukahq/duka/internal/tools/cart"
	catalogtool "github.com/dukahq/duka/internal/tools/catalog"
)

var chatConfigPath string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the assistant locally against a demo catalog",
	Long: `Runs an interactive terminal session against an in-memory demo
catalog. Conversations and cart contents are not persisted. Only the
LLM provider settings from the config file are used.`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatConfigPath, "config", config.DefaultConfigPath(), "path to config file")
}

func runChat(_ *cobra.Command, _ []string) error {
	logger := newLogger()

	cfg, err := config.Load(goutils.Env("DUKA_CONFIG", chatConfigPath))
	if err != nil {
		return err
	}

	provider, err := newLLMProvider(cfg, logger)
	if err != nil {
		return err
	}

	demo := demoCatalog()
	registry := tools.NewRegistry()
	catalogtool.Register(registry, demo, logger)
	carttool.Register(registry, demo, logger)
	executor := tools.NewExecutor(registry, logger)

	orch := chat.NewOrchestrator(provider, registry, executor, logger).
		WithMaxIterations(cfg.Chat.Iterations()).
		WithSampling(cfg.Chat.Tokens(), cfg.Chat.Sampling())

	limiter := ratelimit.NewLimiter(ratelimit.Config{
		MaxRequests: cfg.RateLimit.Requests(),
		Window:      cfg.RateLimit.Window(),
	})

	prompt, err := cfg.Chat.Prompt()
	if err != nil {
		return err
	}

	svc := chat.NewService(chat.NewInMemoryStore(), limiter, chat.NewContextBuilder(prompt), orch, logger).
		WithHistoryWindow(cfg.Chat.History()).
		WithMessageLimit(cfg.Chat.MessageBytes())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return cli.NewGateway(svc, logger).Start(ctx)
}

// demoCatalog seeds a small in-memory store so the REPL has something
// to sell.
func demoCatalog() *commerce.MemoryStore {
	store := commerce.NewMemoryStore()
	for _, p := range []commerce.Product{
		{ID: 1, Name: "Trail Runner X2", Description: "Lightweight trail running shoes with aggressive grip.", Category: "shoes", Price: 89.99, Currency: "USD", Rating: 4.6, ReviewCount: 214, StockCount: 12},
		{ID: 2, Name: "Peak Hiker Pro", Description: "Waterproof hiking boots for rough terrain.", Category: "shoes", Price: 149.99, Currency: "USD", Rating: 4.8, ReviewCount: 352, StockCount: 0},
		{ID: 3, Name: "City Stride Slip-On", Description: "Everyday slip-on sneakers.", Category: "shoes", Price: 59.99, Currency: "USD", Rating: 4.1, ReviewCount: 87, StockCount: 30},
		{ID: 4, Name: "Summit Daypack 24L", Description: "Compact daypack with hydration sleeve.", Category: "bags", Price: 74.50, Currency: "USD", Rating: 4.4, ReviewCount: 128, StockCount: 18},
		{ID: 5, Name: "Nomad Duffel 60L", Description: "Rugged travel duffel with stowable straps.", Category: "bags", Price: 119.00, Currency: "USD", Rating: 4.7, ReviewCount: 96, StockCount: 7},
	} {
		store.AddProduct(p)
	}
	store.AddReviews(commerce.ReviewsSummary{
		ProductID:     1,
		AverageRating: 4.6,
		ReviewCount:   214,
		Highlights:    []string{"great grip on wet rock", "true to size"},
		Complaints:    []string{"laces wear out quickly"},
	})
	store.AddReviews(commerce.ReviewsSummary{
		ProductID:     2,
		AverageRating: 4.8,
		ReviewCount:   352,
		Highlights:    []string{"completely waterproof", "solid ankle support"},
		Complaints:    []string{"heavy for long hikes"},
	})
	return store
}
