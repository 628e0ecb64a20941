package router

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/nerudite/modelgate/internal/catalog"
	"github.com/nerudite/modelgate/internal/llm"
	"github.com/nerudite/modelgate/internal/observability"
)

const (
	probePrompt    = "ping"
	probeMaxTokens = 8
	probeTimeout   = 3 * time.Second

	// Ollama exposes a cheap liveness endpoint, so it gets an HTTP check
	// instead of a generation probe.
	ollamaLivenessTimeout = 2 * time.Second
)

// Status is the result of checking a single provider.
type Status struct {
	Name          string    `json:"name"`
	Configured    bool      `json:"configured"`
	Authenticated bool      `json:"authenticated"`
	Available     bool      `json:"available"`
	Model         string    `json:"model"`
	MissingEnv    []string  `json:"missing_env,omitempty"`
	Error         string    `json:"error,omitempty"`
	ErrorKind     ErrorKind `json:"error_kind,omitempty"`
	LatencyMS     int64     `json:"latency_ms,omitempty"`
}

// ProviderFactory builds a provider client by catalog name.
// Satisfied by *catalog.Factory.
type ProviderFactory interface {
	New(name string) (llm.Provider, error)
	OllamaBaseURL() string
}

// Prober checks provider configuration and availability.
type Prober struct {
	factory    ProviderFactory
	lookup     catalog.Lookup
	logger     *slog.Logger
	httpClient *http.Client
	metrics    *observability.MetricsCollector
}

// ProberOption configures a Prober.
type ProberOption func(*Prober)

// WithProberLookup overrides the environment lookup. Used in tests.
func WithProberLookup(lookup catalog.Lookup) ProberOption {
	return func(p *Prober) { p.lookup = lookup }
}

// WithProberHTTPClient overrides the HTTP client used for liveness checks.
func WithProberHTTPClient(client *http.Client) ProberOption {
	return func(p *Prober) { p.httpClient = client }
}

// WithProberMetrics records probe outcomes on the given collector.
func WithProberMetrics(metrics *observability.MetricsCollector) ProberOption {
	return func(p *Prober) { p.metrics = metrics }
}

// NewProber creates a Prober backed by the given provider factory.
func NewProber(factory ProviderFactory, logger *slog.Logger, opts ...ProberOption) *Prober {
	p := &Prober{
		factory:    factory,
		lookup:     catalog.EnvLookup,
		logger:     logger,
		httpClient: &http.Client{Timeout: ollamaLivenessTimeout},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Check reports configuration status from the environment alone. No network.
func (p *Prober) Check(name string) Status {
	desc, ok := catalog.Get(name)
	if !ok {
		return Status{Name: name, Error: fmt.Sprintf("unknown provider %q", name)}
	}

	status := Status{
		Name:  desc.Name,
		Model: desc.Model(p.lookup),
	}

	missing := desc.MissingEnvVars(p.lookup)
	if !desc.Configured(p.lookup) {
		status.MissingEnv = missing
		status.Error = "missing required environment variables: " + strings.Join(missing, ", ")
		return status
	}

	status.Configured = true
	return status
}

// Probe performs a live availability check: the configuration check plus a
// minimal generation request (or a liveness ping for ollama).
func (p *Prober) Probe(ctx context.Context, name string) Status {
	status := p.Check(name)
	if !status.Configured {
		p.record(status)
		return status
	}

	start := time.Now()
	if name == catalog.Ollama {
		p.probeOllama(ctx, &status)
	} else {
		p.probeGenerate(ctx, name, &status)
	}
	status.LatencyMS = time.Since(start).Milliseconds()

	p.record(status)
	return status
}

// ProbeAll probes every provider in the catalog concurrently, preserving
// priority order in the result. When live is false only configuration is
// checked.
func (p *Prober) ProbeAll(ctx context.Context, live bool) []Status {
	names := catalog.Names()
	statuses := make([]Status, len(names))

	if !live {
		for i, name := range names {
			statuses[i] = p.Check(name)
			p.record(statuses[i])
		}
		return statuses
	}

	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			statuses[i] = p.Probe(ctx, name)
		}(i, name)
	}
	wg.Wait()

	return statuses
}

// probeOllama checks that the local Ollama daemon responds on its tags
// endpoint. A running daemon counts as available without a generation call.
// Reachability is the only configuration ollama has, so a failed liveness
// check clears Configured as well.
func (p *Prober) probeOllama(ctx context.Context, status *Status) {
	base := strings.TrimSuffix(p.factory.OllamaBaseURL(), "/")

	checkCtx, cancel := context.WithTimeout(ctx, ollamaLivenessTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(checkCtx, http.MethodGet, base+"/api/tags", nil)
	if err != nil {
		status.Configured = false
		status.Error = err.Error()
		status.ErrorKind = KindConnection
		return
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		status.Configured = false
		status.Error = fmt.Sprintf("ollama service is not running at %s", base)
		status.ErrorKind = KindConnection
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		status.Configured = false
		status.Error = fmt.Sprintf("ollama returned status %d", resp.StatusCode)
		status.ErrorKind = KindConnection
		return
	}

	status.Authenticated = true
	status.Available = true
}

// probeGenerate sends a minimal generation request to verify credentials
// and reachability.
func (p *Prober) probeGenerate(ctx context.Context, name string, status *Status) {
	provider, err := p.factory.New(name)
	if err != nil {
		p.applyProbeError(status, err)
		return
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	_, err = provider.Generate(probeCtx, &llm.Request{
		Prompt:    probePrompt,
		MaxTokens: probeMaxTokens,
	})
	if err != nil {
		p.applyProbeError(status, err)
		return
	}

	status.Authenticated = true
	status.Available = true
}

// applyProbeError classifies a probe failure into the status fields.
// A rate-limited response proves the credentials are valid even though
// the provider cannot serve right now.
func (p *Prober) applyProbeError(status *Status, err error) {
	kind := Classify(err)
	status.Error = err.Error()
	status.ErrorKind = kind
	status.Authenticated = kind == KindRateLimited

	if p.logger != nil {
		p.logger.Debug("provider probe failed",
			slog.String("provider", status.Name),
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()),
		)
	}
}

// record pushes the probe outcome into Prometheus when metrics are wired.
func (p *Prober) record(status Status) {
	if p.metrics == nil {
		return
	}
	result := "unavailable"
	up := 0.0
	if status.Available {
		result = "available"
		up = 1.0
	} else if !status.Configured {
		result = "unconfigured"
	}
	p.metrics.ProbesTotal.WithLabelValues(status.Name, result).Inc()
	p.metrics.ProviderUp.WithLabelValues(status.Name).Set(up)
}
