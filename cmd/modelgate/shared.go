package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/nerudite/modelgate/internal/catalog"
	"github.com/nerudite/modelgate/internal/config"
	"github.com/nerudite/modelgate/internal/observability"
	"github.com/nerudite/modelgate/internal/router"
	"github.com/nerudite/modelgate/internal/usage"

	goutils "github.com/jkaninda/go-utils"
)

// SharedComponents holds the subsystems that serve mode and the one-shot
// commands both require. Built once by initShared, torn down by Cleanup.
type SharedComponents struct {
	Config  *config.Config
	Logger  *slog.Logger
	Obs     *observability.Observability
	Factory *catalog.Factory
	Prober  *router.Prober
	Router  *router.Router
	Tracker *usage.Tracker

	cleanups []func()
}

// Cleanup runs all deferred cleanup functions in reverse order.
func (sc *SharedComponents) Cleanup() {
	for i := len(sc.cleanups) - 1; i >= 0; i-- {
		sc.cleanups[i]()
	}
}

func (sc *SharedComponents) addCleanup(fn func()) {
	sc.cleanups = append(sc.cleanups, fn)
}

// newLogger builds the JSON logger used by all commands.
func newLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// loadConfig loads the config file at path. A missing file at the default
// location is not an error: environment variables alone are enough to run.
func loadConfig(path string) (*config.Config, error) {
	path = goutils.Env("MODELGATE_CONFIG", path)

	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && path == config.DefaultConfigPath() {
			return config.Default(), nil
		}
		return nil, err
	}
	return cfg, nil
}

// initShared performs the common initialization shared between serve and
// one-shot modes. Callers must call sc.Cleanup() when done.
func initShared(cfg *config.Config, logger *slog.Logger) (*SharedComponents, error) {
	sc := &SharedComponents{
		Config: cfg,
		Logger: logger,
	}

	// Ensure data directory exists.
	dataDir := cfg.ResolvedDataDir()
	if dataDir != "" {
		if err := os.MkdirAll(dataDir, 0750); err != nil {
			return nil, fmt.Errorf("creating data directory %s: %w", dataDir, err)
		}
	}

	// Observability.
	obs, err := observability.New(cfg.Observability, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing observability: %w", err)
	}
	sc.Obs = obs
	sc.addCleanup(func() {
		if obs != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			obs.Shutdown(shutdownCtx)
		}
	})

	// Provider factory.
	sc.Factory = catalog.NewFactory(logger,
		catalog.WithOllamaBaseURL(cfg.Providers.Ollama.BaseURL),
		catalog.WithBedrockRegion(cfg.Providers.Bedrock.Region),
	)

	// Prober.
	var proberOpts []router.ProberOption
	if obs != nil && obs.Metrics != nil {
		proberOpts = append(proberOpts, router.WithProberMetrics(obs.Metrics))
	}
	sc.Prober = router.NewProber(sc.Factory, logger, proberOpts...)

	// Usage tracker and router.
	sc.Tracker = usage.NewTracker()
	routerOpts := []router.RouterOption{router.WithUsageTracker(sc.Tracker)}
	if obs != nil {
		routerOpts = append(routerOpts, router.WithObservability(obs))
	}
	sc.Router = router.New(sc.Factory, cfg, logger, routerOpts...)

	return sc, nil
}
