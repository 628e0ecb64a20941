package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector holds all Prometheus metrics for modelgate.
// Uses a custom registry, not the global default.
type MetricsCollector struct {
	Registry *prometheus.Registry

	// Generation metrics.
	GenerationsTotal   *prometheus.CounterVec
	GenerationDuration *prometheus.HistogramVec
	TokensUsed         *prometheus.CounterVec
	FallbacksTotal     prometheus.Counter

	// Probe metrics.
	ProbesTotal *prometheus.CounterVec
	ProviderUp  *prometheus.GaugeVec

	// HTTP gateway metrics.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// System metrics.
	ActiveRequests prometheus.Gauge
}

// NewMetricsCollector creates a MetricsCollector with all metrics registered
// on a custom prometheus.Registry.
func NewMetricsCollector() *MetricsCollector {
	reg := prometheus.NewRegistry()

	m := &MetricsCollector{
		Registry: reg,

		GenerationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "modelgate",
			Subsystem: "provider",
			Name:      "requests_total",
			Help:      "Total provider generation attempts.",
		}, []string{"provider", "status"}),

		GenerationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "modelgate",
			Subsystem: "provider",
			Name:      "request_duration_seconds",
			Help:      "Provider generation attempt duration in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"provider"}),

		TokensUsed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "modelgate",
			Subsystem: "provider",
			Name:      "tokens_used_total",
			Help:      "Total tokens consumed, by direction.",
		}, []string{"provider", "direction"}),

		FallbacksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "modelgate",
			Subsystem: "provider",
			Name:      "fallbacks_total",
			Help:      "Requests served by a provider other than the first candidate.",
		}),

		ProbesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "modelgate",
			Subsystem: "probe",
			Name:      "checks_total",
			Help:      "Total availability probes performed.",
		}, []string{"provider", "result"}),

		ProviderUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "modelgate",
			Subsystem: "probe",
			Name:      "provider_up",
			Help:      "1 when the last probe found the provider available, 0 otherwise.",
		}, []string{"provider"}),

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "modelgate",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		}, []string{"method", "path", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "modelgate",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "modelgate",
			Name:      "active_requests",
			Help:      "Number of currently active requests.",
		}),
	}

	reg.MustRegister(
		m.GenerationsTotal,
		m.GenerationDuration,
		m.TokensUsed,
		m.FallbacksTotal,
		m.ProbesTotal,
		m.ProviderUp,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ActiveRequests,
	)

	return m
}
