package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	goutils "github.com/jkaninda/go-utils"

	"github.com/dukahq/duka/internal/config"
	"github.com/dukahq/duka/internal/gateway"
	"github.com/dukahq/duka/internal/gateway/httpapi"
	"github.com/dukahq/duka/internal/gateway/ws"
	"github.com/dukahq/duka/internal/maintenance"
)

var (
	serveConfigPath string
	servePort       string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the assistant server (HTTP API, optional WebSocket)",
	RunE:  runServe,
}

func init() {
	// Register flags on both root and serve so that
	// `duka --config path` and `duka serve --config path` both work.
	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().StringVar(&serveConfigPath, "config", config.DefaultConfigPath(), "path to config file")
		cmd.Flags().StringVar(&servePort, "port", "", "override HTTP listen address (e.g. :8080)")
	}
}

// runServe starts the assistant in server mode.
func runServe(_ *cobra.Command, _ []string) error {
	logger := newLogger()

	cfg, err := config.Load(goutils.Env("DUKA_CONFIG", serveConfigPath))
	if err != nil {
		return err
	}

	// Apply CLI overrides.
	if servePort != "" {
		if cfg.Gateways.HTTP == nil {
			cfg.Gateways.HTTP = &config.HTTPGatewayConfig{Enabled: true}
		}
		cfg.Gateways.HTTP.ListenAddr = servePort
	}

	logger.Info("starting in server mode", slog.String("config", serveConfigPath))

	c, err := initComponents(cfg, logger)
	if err != nil {
		return err
	}
	defer c.Cleanup()

	// Signal-aware context.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Background maintenance (idle conversation sweeps, limiter pruning).
	if cfg.Maintenance != nil && cfg.Maintenance.Enabled {
		runner := maintenance.New(c.Store.Conversations(), c.Limiter, cfg.Maintenance, logger)
		if err := runner.Start(); err != nil {
			return err
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := runner.Stop(stopCtx); err != nil {
				logger.Error("stopping maintenance runner", slog.String("error", err.Error()))
			}
		}()
	}

	httpGW := buildHTTPGateway(cfg, c)

	// WebSocket chat endpoint, mounted on the HTTP server's mux.
	if cfg.Gateways.WebSocket != nil && cfg.Gateways.WebSocket.Enabled {
		wsServer := ws.NewServer(c.Service, cfg.Gateways.WebSocket, apiKey(cfg), logger)
		httpGW.WithHandler(cfg.Gateways.WebSocket.WSPath(), wsServer.Handler())
		logger.Debug("websocket endpoint mounted",
			slog.String("path", cfg.Gateways.WebSocket.WSPath()),
		)
	}

	gateways := []gateway.Gateway{httpGW}

	// Start all gateways in goroutines.
	errs := make(chan error, len(gateways))
	for _, gw := range gateways {
		go func(g gateway.Gateway) {
			errs <- g.Start(ctx)
		}(gw)
	}

	// Wait for signal or first gateway error.
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errs:
		if err != nil {
			logger.Error("gateway exited with error", slog.String("error", err.Error()))
		}
	}

	// Graceful shutdown with deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for i := len(gateways) - 1; i >= 0; i-- {
		if err := gateways[i].Stop(shutdownCtx); err != nil {
			logger.Error("stopping gateway", slog.String("error", err.Error()))
		}
	}

	return nil
}

// buildHTTPGateway assembles the HTTP gateway from config and shared
// components. The HTTP surface is always on; the config only tunes it.
func buildHTTPGateway(cfg *config.Config, c *Components) *httpapi.Gateway {
	httpCfg := httpapi.Config{
		ListenAddr:     cfg.Gateways.HTTP.Addr(),
		EnableDocs:     cfg.Gateways.HTTP != nil && cfg.Gateways.HTTP.EnableDocs,
		APIKey:         apiKey(cfg),
		MaxRequestSize: cfg.Gateways.HTTP.MaxRequestSize(),
	}
	if c.Obs != nil {
		httpCfg.HealthChecker = c.Obs.Health
		if c.Obs.Metrics != nil {
			httpCfg.Metrics = c.Obs.Metrics
			httpCfg.MetricsRegistry = c.Obs.Metrics.Registry
			if cfg.Observability != nil && cfg.Observability.Metrics != nil {
				httpCfg.MetricsPath = cfg.Observability.Metrics.Path
			}
		}
		if c.Obs.Tracer != nil {
			httpCfg.Tracer = c.Obs.Tracer.Tracer()
		}
	}
	return httpapi.NewGateway(httpCfg, c.Service, c.Logger)
}

func apiKey(cfg *config.Config) string {
	if cfg.Gateways.HTTP != nil {
		return cfg.Gateways.HTTP.APIKey
	}
	return ""
}
