// Package router selects a provider for each generation request and falls
// back through the remaining candidates in catalog priority order until one
// succeeds or all are exhausted.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/nerudite/modelgate/internal/catalog"
	"github.com/nerudite/modelgate/internal/config"
	"github.com/nerudite/modelgate/internal/llm"
	"github.com/nerudite/modelgate/internal/observability"
	"github.com/nerudite/modelgate/internal/usage"
)

// ErrNoProviders is returned when no provider has usable credentials.
var ErrNoProviders = errors.New("no providers configured: set at least one provider API key")

// Request is a generation request before provider selection.
type Request struct {
	Prompt      string
	System      string        // Optional system instruction.
	Provider    string        // Pin to a single provider. Empty = automatic selection.
	MaxTokens   int           // 0 = configured default.
	Temperature *float64      // nil = configured default.
	Timeout     time.Duration // Per-attempt timeout. 0 = configured default.
}

// Attempt is one entry in the trail of providers tried for a request.
type Attempt struct {
	Provider   string    `json:"provider"`
	ErrorKind  ErrorKind `json:"error_kind,omitempty"`
	Error      string    `json:"error,omitempty"`
	DurationMS int64     `json:"duration_ms"`
}

// Result is a successful generation plus the trail that led to it.
type Result struct {
	Provider string     `json:"provider"`
	Model    string     `json:"model"`
	Text     string     `json:"text"`
	Usage    *llm.Usage `json:"usage,omitempty"`
	Fallback bool       `json:"fallback"` // true when a non-first candidate served the request.
	Attempts []Attempt  `json:"attempts,omitempty"`

	// AttemptedCount is how many providers were tried in total,
	// the winner included.
	AttemptedCount int `json:"attempted_count"`

	// DurationMS is the wall-clock time of the winning attempt only,
	// excluding earlier failed candidates.
	DurationMS int64 `json:"duration_ms"`
}

// ExhaustedError reports that every candidate provider failed.
type ExhaustedError struct {
	Attempts []Attempt
}

func (e *ExhaustedError) Error() string {
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = a.Provider + ": " + a.Error
	}
	return fmt.Sprintf("all %d providers failed: %s", len(e.Attempts), strings.Join(parts, "; "))
}

// Router sequences generation attempts across configured providers.
type Router struct {
	factory ProviderFactory
	lookup  catalog.Lookup
	cfg     *config.Config
	tracker *usage.Tracker
	obs     *observability.Observability
	logger  *slog.Logger
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithRouterLookup overrides the environment lookup. Used in tests.
func WithRouterLookup(lookup catalog.Lookup) RouterOption {
	return func(r *Router) { r.lookup = lookup }
}

// WithObservability wires metrics, tracing, and anomaly detection into
// every attempt.
func WithObservability(obs *observability.Observability) RouterOption {
	return func(r *Router) { r.obs = obs }
}

// WithUsageTracker records request outcomes on the given tracker.
func WithUsageTracker(tracker *usage.Tracker) RouterOption {
	return func(r *Router) { r.tracker = tracker }
}

// New creates a Router.
func New(factory ProviderFactory, cfg *config.Config, logger *slog.Logger, opts ...RouterOption) *Router {
	r := &Router{
		factory: factory,
		lookup:  catalog.EnvLookup,
		cfg:     cfg,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Generate runs the request against candidate providers in priority order.
// The first success wins; a failed attempt moves on to the next candidate.
// An empty response counts as a failure.
func (r *Router) Generate(ctx context.Context, req *Request) (*Result, error) {
	candidates, err := r.candidates(req)
	if err != nil {
		return nil, err
	}

	if r.tracker != nil {
		r.tracker.RecordRequest()
	}

	llmReq := r.buildRequest(req)
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = r.cfg.Defaults.AttemptTimeout()
	}

	var attempts []Attempt
	for i, name := range candidates {
		attempt, resp := r.tryProvider(ctx, name, llmReq, timeout)
		if resp == nil {
			attempts = append(attempts, attempt)
			if r.tracker != nil {
				r.tracker.RecordFailure(name)
			}
			if r.logger != nil {
				r.logger.Warn("provider attempt failed",
					slog.String("provider", name),
					slog.String("kind", string(attempt.ErrorKind)),
					slog.String("error", attempt.Error),
					slog.Int("remaining", len(candidates)-i-1),
				)
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}

		if r.tracker != nil {
			r.tracker.RecordSuccess(name, resp.Usage.TotalTokens())
		}
		if i > 0 && r.metrics() != nil {
			r.metrics().FallbacksTotal.Inc()
		}
		if r.logger != nil {
			r.logger.Info("generation served",
				slog.String("provider", name),
				slog.String("model", resp.Model),
				slog.Bool("fallback", i > 0),
				slog.Int("attempts", len(attempts)+1),
			)
		}

		return &Result{
			Provider:       name,
			Model:          resp.Model,
			Text:           resp.Text,
			Usage:          resp.Usage,
			Fallback:       i > 0,
			Attempts:       attempts,
			AttemptedCount: len(attempts) + 1,
			DurationMS:     attempt.DurationMS,
		}, nil
	}

	if r.tracker != nil {
		r.tracker.RecordExhausted()
	}
	return nil, &ExhaustedError{Attempts: attempts}
}

// tryProvider runs a single generation attempt under the per-attempt
// timeout. Returns a populated failure Attempt and a nil response on error.
func (r *Router) tryProvider(ctx context.Context, name string, req *llm.Request, timeout time.Duration) (Attempt, *llm.Response) {
	start := time.Now()
	fail := func(err error) (Attempt, *llm.Response) {
		return Attempt{
			Provider:   name,
			ErrorKind:  Classify(err),
			Error:      err.Error(),
			DurationMS: time.Since(start).Milliseconds(),
		}, nil
	}

	provider, err := r.factory.New(name)
	if err != nil {
		return fail(err)
	}
	if r.obs != nil {
		provider = observability.NewInstrumentedProvider(provider, r.obs.Metrics, r.obs.Tracer, r.obs.Anomaly)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := provider.Generate(attemptCtx, req)
	if err != nil {
		return fail(err)
	}
	if strings.TrimSpace(resp.Text) == "" {
		return fail(fmt.Errorf("provider %s returned an empty response", name))
	}

	return Attempt{Provider: name, DurationMS: time.Since(start).Milliseconds()}, resp
}

// candidates resolves the ordered provider list for a request. A named
// provider goes first, backed by the rest of the credentialed catalog in
// priority order; automatic selection is the credentialed catalog as-is.
// With fallback disabled the list is cut to the single best candidate.
// Ollama never enters as a backup: it has no credentials to check, so
// it only serves when requested by name.
func (r *Router) candidates(req *Request) ([]string, error) {
	if req.Provider != "" {
		d, ok := catalog.Get(req.Provider)
		if !ok {
			return nil, fmt.Errorf("unknown provider %q", req.Provider)
		}
		if !r.fallbackEnabled() {
			if !d.Configured(r.lookup) {
				missing := d.MissingEnvVars(r.lookup)
				return nil, fmt.Errorf("provider %q is not configured: missing required environment variables: %s",
					req.Provider, strings.Join(missing, ", "))
			}
			return []string{d.Name}, nil
		}
		// The pin is tried even when unconfigured; the attempt fails at
		// instantiation and the credentialed rest of the catalog takes
		// over in priority order.
		names := []string{d.Name}
		for _, other := range catalog.All() {
			if other.Name != d.Name && other.CredentialConfigured(r.lookup) {
				names = append(names, other.Name)
			}
		}
		return names, nil
	}

	var names []string
	for _, d := range catalog.All() {
		if d.CredentialConfigured(r.lookup) {
			names = append(names, d.Name)
		}
	}
	if len(names) == 0 {
		return nil, ErrNoProviders
	}
	if !r.fallbackEnabled() {
		return names[:1], nil
	}
	return names, nil
}

// fallbackEnabled resolves the fallback toggle for this request. The
// environment variable wins over the config value and is read per request
// so the toggle can flip without a restart.
func (r *Router) fallbackEnabled() bool {
	if v, ok := r.lookup("MODELGATE_FALLBACK"); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return r.cfg.Providers.FallbackEnabled()
}

// buildRequest applies the configured defaults to an incoming request.
func (r *Router) buildRequest(req *Request) *llm.Request {
	out := &llm.Request{
		Prompt:      req.Prompt,
		System:      req.System,
		MaxTokens:   req.MaxTokens,
		Temperature: r.cfg.Defaults.TemperatureOrDefault(),
	}
	if out.MaxTokens <= 0 {
		out.MaxTokens = r.cfg.Defaults.MaxTokensOrDefault()
	}
	if req.Temperature != nil {
		out.Temperature = *req.Temperature
	}
	return out
}

func (r *Router) metrics() *observability.MetricsCollector {
	if r.obs == nil {
		return nil
	}
	return r.obs.Metrics
}
