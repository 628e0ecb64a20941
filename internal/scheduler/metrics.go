package scheduler

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the probe scheduler.
type Metrics struct {
	SweepsTotal        prometheus.Counter
	SweepDuration      prometheus.Histogram
	ProvidersAvailable prometheus.Gauge
}

// NewMetrics creates and registers scheduler metrics.
// Returns nil if reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		SweepsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "modelgate",
			Subsystem: "scheduler",
			Name:      "sweeps_total",
			Help:      "Total completed probe sweeps.",
		}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "modelgate",
			Subsystem: "scheduler",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of each probe sweep across all providers.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}),
		ProvidersAvailable: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "modelgate",
			Subsystem: "scheduler",
			Name:      "providers_available",
			Help:      "Number of providers available as of the last sweep.",
		}),
	}

	reg.MustRegister(
		m.SweepsTotal,
		m.SweepDuration,
		m.ProvidersAvailable,
	)

	return m
}
