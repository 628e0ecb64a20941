// Package httpapi implements the HTTP gateway for modelgate.
//
// Security:
//   - API key authentication on every /v1 request (constant-time comparison)
//   - Request body size limits (default 1 MB)
//   - Per-key rate limiting via token bucket
//   - All requests logged with correlation IDs
//   - TLS expected via reverse proxy (not handled here)
package httpapi

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/okapi"
	"github.com/nerudite/modelgate/internal/catalog"
	"github.com/nerudite/modelgate/internal/history"
	"github.com/nerudite/modelgate/internal/mcp"
	"github.com/nerudite/modelgate/internal/observability"
	"github.com/nerudite/modelgate/internal/ratelimit"
	"github.com/nerudite/modelgate/internal/router"
	"github.com/nerudite/modelgate/internal/usage"
)

const defaultMaxRequestSize = 1 << 20 // 1 MB

// ErrorBody is the standard error response used in OpenAPI documentation.
type ErrorBody struct {
	Error string `json:"error"`
}

// Config configures the HTTP gateway.
type Config struct {
	ListenAddr     string // e.g., ":8080"
	EnableDocs     bool
	APIKeys        []string // Accepted Bearer keys. Empty = open access.
	MaxRequestSize int64    // Maximum request body in bytes. 0 = 1 MB default.

	// Observability
	MetricsRegistry *prometheus.Registry            // Custom Prometheus registry for /metrics.
	MetricsPath     string                          // Path for metrics endpoint. Default: "/metrics".
	HealthChecker   *observability.HealthChecker    // Health checker for /readyz.
	Metrics         *observability.MetricsCollector // Metrics collector for HTTP middleware.
	Tracer          trace.Tracer                    // OTel tracer for HTTP middleware.
}

// Gateway is the HTTP gateway: provider routing, probing, usage and
// history reporting, and MCP tool access behind one authenticated API.
type Gateway struct {
	config  Config
	router  *router.Router
	prober  *router.Prober
	tracker *usage.Tracker
	store   *history.Store // nil = history endpoint disabled.
	tools   *mcp.Bridge    // nil = tool endpoints disabled.
	limiter *ratelimit.Limiter
	logger  *slog.Logger
	server  *http.Server

	okapi *okapi.Okapi
	group *okapi.Group
}

// NewGateway creates an HTTP gateway around a router and prober.
func NewGateway(cfg Config, rt *router.Router, pr *router.Prober, rl *ratelimit.Limiter, logger *slog.Logger) *Gateway {
	maxSize := cfg.MaxRequestSize
	if maxSize <= 0 {
		maxSize = defaultMaxRequestSize
	}
	return &Gateway{
		config:  cfg,
		router:  rt,
		prober:  pr,
		limiter: rl,
		logger:  logger,
		okapi:   okapi.New(okapi.WithMaxMultipartMemory(maxSize)),
	}
}

// WithUsage attaches a usage tracker for the /v1/usage endpoint.
func (g *Gateway) WithUsage(tracker *usage.Tracker) *Gateway {
	g.tracker = tracker
	return g
}

// WithHistory attaches a request history store for the /v1/history endpoint.
// Completed generations are recorded here asynchronously.
func (g *Gateway) WithHistory(store *history.Store) *Gateway {
	g.store = store
	return g
}

// WithTools attaches an MCP tool bridge for the /v1/tools endpoints.
func (g *Gateway) WithTools(bridge *mcp.Bridge) *Gateway {
	g.tools = bridge
	return g
}

func (g *Gateway) WithOpenAPIDocs() *Gateway {
	g.okapi.WithOpenAPIDocs(
		okapi.OpenAPI{
			Title:   "ModelGate",
			Version: "v0.1.0",
		},
	)
	return g
}

// Start launches the HTTP server and blocks until it exits or ctx is canceled.
func (g *Gateway) Start(ctx context.Context) error {
	// Metrics/tracing middleware (applied globally).
	if g.config.Metrics != nil || g.config.Tracer != nil {
		g.okapi.UseMiddleware(func(next http.Handler) http.Handler {
			return observability.HTTPMetricsMiddleware(g.config.Metrics, g.config.Tracer, next)
		})
	}

	// Authenticated /v1 group.
	g.group = g.okapi.Group("/v1", g.authenticate)

	g.group.Post("/generate", g.handleGenerate,
		okapi.DocSummary("Generate a completion, falling back across providers"),
		okapi.DocTags("Generate"),
		okapi.DocRequestBody(GenerateRequest{}),
		okapi.DocResponse(GenerateResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
		okapi.DocResponse(http.StatusTooManyRequests, ErrorBody{}),
		okapi.DocResponse(http.StatusBadGateway, GenerateErrorResponse{}),
		okapi.DocResponse(http.StatusServiceUnavailable, ErrorBody{}),
	)
	g.group.Get("/providers", g.handleProviders,
		okapi.DocSummary("List provider configuration status (add ?live=true to probe)"),
		okapi.DocTags("Providers"),
		okapi.DocResponse([]router.Status{}),
	)
	g.group.Get("/providers/{name}", g.handleProviderProbe,
		okapi.DocSummary("Probe one provider with a live request"),
		okapi.DocTags("Providers"),
		okapi.DocPathParam("name", "string", "Provider name, e.g. anthropic"),
		okapi.DocResponse(router.Status{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)
	g.group.Get("/usage", g.handleUsage,
		okapi.DocSummary("Process-wide request and token counters"),
		okapi.DocTags("Usage"),
		okapi.DocResponse(usage.Stats{}),
	)

	if g.store != nil {
		g.group.Get("/history", g.handleHistory,
			okapi.DocSummary("Recent request history, newest first"),
			okapi.DocTags("History"),
			okapi.DocResponse([]history.Record{}),
		)
	}

	if g.tools != nil {
		g.group.Get("/tools", g.handleToolList,
			okapi.DocSummary("List tools discovered from connected MCP servers"),
			okapi.DocTags("Tools"),
			okapi.DocResponse([]mcp.Tool{}),
		)
		g.group.Post("/tools/call", g.handleToolCall,
			okapi.DocSummary("Invoke an MCP tool by name"),
			okapi.DocTags("Tools"),
			okapi.DocRequestBody(ToolCallRequest{}),
			okapi.DocResponse(mcp.CallResult{}),
			okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
			okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
		)
	}

	// Observability endpoints (unauthenticated).
	g.okapi.Get("/healthz", g.handleLiveness)
	g.okapi.Get("/readyz", g.handleReadiness)

	if g.config.MetricsRegistry != nil {
		path := g.config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		g.okapi.HandleStd("GET", path, promhttp.HandlerFor(g.config.MetricsRegistry, promhttp.HandlerOpts{}).ServeHTTP)
	}
	if g.config.EnableDocs {
		g.WithOpenAPIDocs()
	}
	if len(g.config.APIKeys) == 0 {
		g.logger.Warn("no API keys configured, /v1 endpoints are unauthenticated")
	}

	g.server = &http.Server{
		Addr:              g.config.ListenAddr,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	g.logger.Info("http gateway starting", slog.String("addr", g.config.ListenAddr))
	return g.okapi.StartServer(g.server)
}

// Stop gracefully shuts down the HTTP server.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	g.logger.Info("http gateway stopping")
	return g.okapi.Shutdown(g.server)
}

// --- Handlers ---

// GenerateRequest is the JSON body for POST /v1/generate.
type GenerateRequest struct {
	Prompt      string   `json:"prompt"`
	System      string   `json:"system,omitempty"`
	Provider    string   `json:"provider,omitempty"` // Pin to one provider. Empty = automatic.
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	Timeout     int      `json:"timeout_seconds,omitempty"` // Per-attempt timeout in seconds. 0 = server default.
}

// UsageInfo reports token consumption for the winning attempt.
type UsageInfo struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// GenerateResponse is the JSON response for POST /v1/generate.
type GenerateResponse struct {
	Text           string           `json:"text"`
	Provider       string           `json:"provider"`
	Model          string           `json:"model"`
	Fallback       bool             `json:"fallback"`
	AttemptedCount int              `json:"attempted_count"`
	Attempts       []router.Attempt `json:"attempts,omitempty"`
	Usage          *UsageInfo       `json:"usage,omitempty"`
	CorrelationID  string           `json:"correlation_id"`
	DurationMS     int64            `json:"duration_ms"`
}

// GenerateErrorResponse is returned with HTTP 502 when every candidate
// provider failed, including the per-provider attempt trail.
type GenerateErrorResponse struct {
	Error         string           `json:"error"`
	Attempts      []router.Attempt `json:"attempts"`
	CorrelationID string           `json:"correlation_id"`
}

func (g *Gateway) handleGenerate(c *okapi.Context) error {
	clientID := c.GetString("clientID")

	if g.limiter != nil {
		if err := g.limiter.Allow(clientID); err != nil {
			return c.AbortTooManyRequests("rate limit exceeded")
		}
	}

	var req GenerateRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return c.AbortBadRequest("prompt is required")
	}

	correlationID := newCorrelationID()

	g.logger.Info("http generate",
		slog.String("client_id", clientID),
		slog.String("correlation_id", correlationID),
		slog.String("provider", req.Provider),
	)

	start := time.Now()
	result, err := g.router.Generate(c.Context(), &router.Request{
		Prompt:      req.Prompt,
		System:      req.System,
		Provider:    req.Provider,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Timeout:     time.Duration(req.Timeout) * time.Second,
	})
	elapsed := time.Since(start)

	if err != nil {
		var exhausted *router.ExhaustedError
		switch {
		case errors.Is(err, router.ErrNoProviders):
			return c.JSON(http.StatusServiceUnavailable, ErrorBody{Error: err.Error()})
		case errors.As(err, &exhausted):
			g.recordHistory(correlationID, &req, nil, exhausted, elapsed)
			g.logger.Error("generation exhausted",
				slog.String("correlation_id", correlationID),
				slog.Int("attempts", len(exhausted.Attempts)),
			)
			return c.JSON(http.StatusBadGateway, GenerateErrorResponse{
				Error:         err.Error(),
				Attempts:      exhausted.Attempts,
				CorrelationID: correlationID,
			})
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return c.AbortInternalServerError("request canceled")
		default:
			// Pinned provider unknown or not configured.
			return c.AbortBadRequest(err.Error())
		}
	}

	g.recordHistory(correlationID, &req, result, nil, elapsed)

	resp := GenerateResponse{
		Text:           result.Text,
		Provider:       result.Provider,
		Model:          result.Model,
		Fallback:       result.Fallback,
		AttemptedCount: result.AttemptedCount,
		Attempts:       result.Attempts,
		CorrelationID:  correlationID,
		DurationMS:     elapsed.Milliseconds(),
	}
	if result.Usage != nil {
		resp.Usage = &UsageInfo{
			InputTokens:  result.Usage.InputTokens,
			OutputTokens: result.Usage.OutputTokens,
			TotalTokens:  result.Usage.TotalTokens(),
		}
	}
	return c.OK(resp)
}

// recordHistory persists the outcome of a generation attempt sequence.
// Best-effort: failures are logged inside the store, never surfaced.
func (g *Gateway) recordHistory(correlationID string, req *GenerateRequest, result *router.Result, exhausted *router.ExhaustedError, elapsed time.Duration) {
	if g.store == nil {
		return
	}
	rec := &history.Record{
		CorrelationID: correlationID,
		Prompt:        req.Prompt,
		DurationMS:    elapsed.Milliseconds(),
	}
	if result != nil {
		rec.Success = true
		rec.Provider = result.Provider
		rec.Model = result.Model
		rec.Fallback = result.Fallback
		rec.Attempts = result.AttemptedCount
		if result.Usage != nil {
			rec.InputTokens = result.Usage.InputTokens
			rec.OutputTokens = result.Usage.OutputTokens
		}
	} else if exhausted != nil {
		rec.Attempts = len(exhausted.Attempts)
		rec.Error = exhausted.Error()
		if n := len(exhausted.Attempts); n > 0 {
			last := exhausted.Attempts[n-1]
			rec.Provider = last.Provider
			rec.ErrorKind = string(last.ErrorKind)
		}
	}
	g.store.SaveAsync(rec)
}

func (g *Gateway) handleProviders(c *okapi.Context) error {
	live, _ := strconv.ParseBool(c.Request().URL.Query().Get("live"))
	return c.OK(g.prober.ProbeAll(c.Context(), live))
}

func (g *Gateway) handleProviderProbe(c *okapi.Context) error {
	name := c.Param("name")
	if _, ok := catalog.Get(name); !ok {
		return c.JSON(http.StatusNotFound, ErrorBody{Error: "unknown provider " + strconv.Quote(name)})
	}
	return c.OK(g.prober.Probe(c.Context(), name))
}

func (g *Gateway) handleUsage(c *okapi.Context) error {
	if g.tracker == nil {
		return c.OK(usage.Stats{Providers: map[string]usage.ProviderStats{}})
	}
	return c.OK(g.tracker.Snapshot())
}

func (g *Gateway) handleHistory(c *okapi.Context) error {
	limit, _ := strconv.Atoi(c.Request().URL.Query().Get("limit"))
	records, err := g.store.Recent(c.Context(), limit)
	if err != nil {
		g.logger.Error("history query failed", slog.String("error", err.Error()))
		return c.AbortInternalServerError("history query failed")
	}
	return c.OK(records)
}

// ToolCallRequest is the JSON body for POST /v1/tools/call.
type ToolCallRequest struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

func (g *Gateway) handleToolList(c *okapi.Context) error {
	return c.OK(g.tools.Tools())
}

func (g *Gateway) handleToolCall(c *okapi.Context) error {
	clientID := c.GetString("clientID")
	if g.limiter != nil {
		if err := g.limiter.Allow(clientID); err != nil {
			return c.AbortTooManyRequests("rate limit exceeded")
		}
	}

	var req ToolCallRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if req.Name == "" {
		return c.AbortBadRequest("name is required")
	}

	g.logger.Info("http tool call",
		slog.String("client_id", clientID),
		slog.String("tool", req.Name),
	)

	result, err := g.tools.Call(c.Context(), req.Name, req.Arguments)
	if err != nil {
		if errors.Is(err, mcp.ErrToolNotFound) {
			return c.JSON(http.StatusNotFound, ErrorBody{Error: err.Error()})
		}
		g.logger.Error("tool call failed",
			slog.String("tool", req.Name),
			slog.String("error", err.Error()),
		)
		return c.AbortInternalServerError("tool call failed")
	}
	return c.OK(result)
}

// HealthResponse is the JSON response for the health endpoints.
type HealthResponse struct {
	Status string `json:"status"`
}

// handleLiveness is the Kubernetes liveness probe
func (g *Gateway) handleLiveness(c *okapi.Context) error {
	return c.OK(&HealthResponse{Status: "ok"})
}

// handleReadiness checks all registered dependencies and returns 200 or 503.
func (g *Gateway) handleReadiness(c *okapi.Context) error {
	if g.config.HealthChecker == nil {
		return c.OK(&HealthResponse{Status: "ok"})
	}

	status := g.config.HealthChecker.CheckReady(c.Context())
	code := http.StatusOK
	if status.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}

// --- Authentication ---

// authenticate validates the Bearer API key against the configured set.
// With no keys configured the gateway runs open, intended for local use.
func (g *Gateway) authenticate(next okapi.HandlerFunc) okapi.HandlerFunc {
	return func(c *okapi.Context) error {
		if len(g.config.APIKeys) == 0 {
			c.Set("clientID", "anonymous")
			return next(c)
		}

		authHeader := c.Header("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return c.AbortUnauthorized("missing or invalid Authorization header")
		}
		apiKey := strings.TrimPrefix(authHeader, "Bearer ")

		clientID := ""
		for i, key := range g.config.APIKeys {
			if subtle.ConstantTimeCompare([]byte(apiKey), []byte(key)) == 1 {
				clientID = "key-" + strconv.Itoa(i+1)
			}
		}
		if clientID == "" {
			return c.AbortUnauthorized("invalid API key")
		}
		c.Set("clientID", clientID)
		return next(c)
	}
}

// --- Helpers ---

func newCorrelationID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
