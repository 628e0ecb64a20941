package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerudite/modelgate/internal/config"
	"github.com/nerudite/modelgate/internal/gateway/httpapi"
	"github.com/nerudite/modelgate/internal/history"
	"github.com/nerudite/modelgate/internal/mcp"
	"github.com/nerudite/modelgate/internal/ratelimit"
	"github.com/nerudite/modelgate/internal/scheduler"
)

var (
	serveConfigPath string
	serveAddr       string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP gateway",
	RunE:  runServe,
}

func init() {
	// Register flags on both root and serve so that
	// `modelgate --config path` and `modelgate serve --config path` both work.
	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().StringVar(&serveConfigPath, "config", config.DefaultConfigPath(), "path to config file")
		cmd.Flags().StringVar(&serveAddr, "listen", "", "override HTTP listen address (e.g. :8080)")
	}
}

// runServe starts ModelGate in serve mode: HTTP gateway, probe scheduler,
// request history, and MCP tool bridge.
func runServe(_ *cobra.Command, _ []string) error {
	logger := newLogger(slog.LevelInfo)

	cfg, err := loadConfig(serveConfigPath)
	if err != nil {
		return err
	}

	// Apply CLI overrides.
	if serveAddr != "" {
		cfg.Gateway.ListenAddr = serveAddr
	}

	logger.Info("starting in serve mode", slog.String("addr", cfg.Gateway.Addr()))

	sc, err := initShared(cfg, logger)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	// Signal-aware context.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Request history store. Unavailable storage degrades the gateway
	// rather than stopping it: generation still works without history.
	var store *history.Store
	if st, err := history.Open(cfg, logger); err != nil {
		logger.Error("history store unavailable, continuing without",
			slog.String("error", err.Error()))
	} else {
		store = st
		sc.addCleanup(func() { _ = store.Close() })
		if sc.Obs != nil && sc.Obs.Health != nil {
			sc.Obs.Health.AddCheck("database", store.Ping)
		}
	}

	// MCP tool bridge.
	var bridge *mcp.Bridge
	if len(cfg.MCP) > 0 {
		bridge = mcp.NewBridge(logger)
		bridge.ConnectAll(ctx, cfg.MCP)
		sc.addCleanup(bridge.Close)
	}

	// Background probe scheduler.
	if cfg.Probe != nil && cfg.Probe.Enabled {
		var schedMetrics *scheduler.Metrics
		if sc.Obs != nil && sc.Obs.Metrics != nil {
			schedMetrics = scheduler.NewMetrics(sc.Obs.Metrics.Registry)
		}
		probeScheduler := scheduler.New(sc.Prober, schedMetrics, logger, cfg.Probe)
		cancelScheduler, err := probeScheduler.Start(ctx)
		if err != nil {
			return err
		}
		defer cancelScheduler()
	}

	// Per-key rate limiter.
	var limiter *ratelimit.Limiter
	if cfg.Gateway.RateLimit.RequestsPerMinute > 0 {
		limiter = ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerMinute: cfg.Gateway.RateLimit.RequestsPerMinute,
			BurstSize:         cfg.Gateway.RateLimit.BurstSize,
		})
	}

	gwCfg := httpapi.Config{
		ListenAddr:     cfg.Gateway.Addr(),
		EnableDocs:     cfg.Gateway.EnableDocs,
		APIKeys:        cfg.Gateway.APIKeys,
		MaxRequestSize: cfg.Gateway.MaxRequestSizeBytes,
	}
	if sc.Obs != nil {
		gwCfg.HealthChecker = sc.Obs.Health
		if sc.Obs.Metrics != nil {
			gwCfg.MetricsRegistry = sc.Obs.Metrics.Registry
			gwCfg.MetricsPath = cfg.Observability.Metrics.MetricsPath()
			gwCfg.Metrics = sc.Obs.Metrics
		}
		if ts := sc.Obs.TracerOrNil(); ts != nil {
			gwCfg.Tracer = ts.Tracer()
		}
	}

	gw := httpapi.NewGateway(gwCfg, sc.Router, sc.Prober, limiter, logger).WithUsage(sc.Tracker)
	if store != nil {
		gw.WithHistory(store)
	}
	if bridge != nil {
		gw.WithTools(bridge)
	}

	// Run the gateway; wait for signal or server error.
	errs := make(chan error, 1)
	go func() {
		errs <- gw.Start(ctx)
	}()

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

	if err := gw.Stop(shutdownCtx); err != nil {
		logger.Error("stopping gateway", slog.String("error", err.Error()))
	}
	return nil
}
