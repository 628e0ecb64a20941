// Package scheduler re-probes provider availability in the background.
// A sweep runs every provider through the prober on a cron schedule so
// the availability gauges and logs stay current without client traffic.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nerudite/modelgate/internal/config"
	"github.com/nerudite/modelgate/internal/router"
)

// Scheduler runs periodic probe sweeps. It runs as a background
// goroutine in serve mode.
type Scheduler struct {
	prober  *router.Prober
	metrics *Metrics
	logger  *slog.Logger
	config  *config.ProbeConfig

	parser cron.Parser
}

// New creates a Scheduler.
func New(prober *router.Prober, metrics *Metrics, logger *slog.Logger, cfg *config.ProbeConfig) *Scheduler {
	return &Scheduler{
		prober:  prober,
		metrics: metrics,
		logger:  logger,
		config:  cfg,
		parser:  cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// Start begins the sweep loop and returns a cancel function. An initial
// sweep runs immediately; later sweeps follow the cron schedule.
func (s *Scheduler) Start(ctx context.Context) (func(), error) {
	expr := s.config.CronSchedule()
	sched, err := s.parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid probe schedule %q: %w", expr, err)
	}

	ctx, cancel := context.WithCancel(ctx)

	go func() {
		s.logger.InfoContext(ctx, "probe scheduler started",
			slog.String("schedule", expr),
			slog.Bool("live", s.config.Live),
		)

		s.sweep(ctx)

		for {
			next := sched.Next(time.Now().UTC())
			timer := time.NewTimer(time.Until(next))
			select {
			case <-ctx.Done():
				timer.Stop()
				s.logger.Info("probe scheduler stopped")
				return
			case <-timer.C:
				s.sweep(ctx)
			}
		}
	}()

	return cancel, nil
}

// sweep probes every catalog provider once and records the results.
func (s *Scheduler) sweep(ctx context.Context) {
	start := time.Now()

	statuses := s.prober.ProbeAll(ctx, s.config.Live)

	var configured, available int
	for _, st := range statuses {
		if st.Configured {
			configured++
		}
		if st.Available {
			available++
		}
	}

	s.logger.InfoContext(ctx, "probe sweep complete",
		slog.Int("providers", len(statuses)),
		slog.Int("configured", configured),
		slog.Int("available", available),
		slog.Duration("elapsed", time.Since(start)),
	)

	if s.metrics != nil {
		s.metrics.SweepsTotal.Inc()
		s.metrics.SweepDuration.Observe(time.Since(start).Seconds())
		s.metrics.ProvidersAvailable.Set(float64(available))
	}
}
