package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/nerudite/modelgate/internal/config"
	"github.com/nerudite/modelgate/internal/llm"
	"github.com/nerudite/modelgate/internal/usage"
)

// stubProvider is a canned llm.Provider for sequencing tests.
type stubProvider struct {
	name   string
	resp   *llm.Response
	err    error
	calls  int
	gotReq *llm.Request
}

func (s *stubProvider) Name() string { return s.name }
func (s *stubProvider) Generate(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	s.calls++
	s.gotReq = req
	if s.err != nil {
		return nil, s.err
	}
	return s.resp, nil
}

// stubFactory serves stub providers by name.
type stubFactory struct {
	providers map[string]*stubProvider
}

func (f *stubFactory) New(name string) (llm.Provider, error) {
	p, ok := f.providers[name]
	if !ok {
		return nil, fmt.Errorf("no stub for provider %q", name)
	}
	return p, nil
}

func (f *stubFactory) OllamaBaseURL() string { return "http://localhost:11434" }

func mapLookup(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func ok(name, text string) *stubProvider {
	return &stubProvider{
		name: name,
		resp: &llm.Response{Text: text, Model: name + "-model", Usage: &llm.Usage{InputTokens: 3, OutputTokens: 7}},
	}
}

func failing(name, msg string) *stubProvider {
	return &stubProvider{name: name, err: errors.New(msg)}
}

func newTestRouter(factory *stubFactory, env map[string]string, opts ...RouterOption) *Router {
	opts = append([]RouterOption{WithRouterLookup(mapLookup(env))}, opts...)
	return New(factory, &config.Config{}, nil, opts...)
}

func TestGenerate_FirstProviderWins(t *testing.T) {
	anthropic := ok("anthropic", "hello from anthropic")
	openai := ok("openai", "hello from openai")
	factory := &stubFactory{providers: map[string]*stubProvider{"anthropic": anthropic, "openai": openai}}
	env := map[string]string{"ANTHROPIC_API_KEY": "a", "OPENAI_API_KEY": "o"}

	r := newTestRouter(factory, env)
	res, err := r.Generate(context.Background(), &Request{Prompt: "hi"})
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if res.Provider != "anthropic" {
		t.Errorf("provider = %q, want anthropic", res.Provider)
	}
	if res.Fallback {
		t.Error("fallback should be false for a first-candidate success")
	}
	if res.AttemptedCount != 1 {
		t.Errorf("attempted count = %d, want 1", res.AttemptedCount)
	}
	if len(res.Attempts) != 0 {
		t.Errorf("attempt trail = %v, want empty", res.Attempts)
	}
	if openai.calls != 0 {
		t.Errorf("openai called %d times, want 0", openai.calls)
	}
}

func TestGenerate_FallbackOnError(t *testing.T) {
	anthropic := failing("anthropic", "429 too many requests")
	openai := ok("openai", "served by openai")
	factory := &stubFactory{providers: map[string]*stubProvider{"anthropic": anthropic, "openai": openai}}
	env := map[string]string{"ANTHROPIC_API_KEY": "a", "OPENAI_API_KEY": "o"}

	r := newTestRouter(factory, env)
	res, err := r.Generate(context.Background(), &Request{Prompt: "hi"})
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if res.Provider != "openai" {
		t.Errorf("provider = %q, want openai", res.Provider)
	}
	if !res.Fallback {
		t.Error("fallback should be true when the first candidate fails")
	}
	if res.AttemptedCount != 2 {
		t.Errorf("attempted count = %d, want 2", res.AttemptedCount)
	}
	if len(res.Attempts) != 1 {
		t.Fatalf("attempt trail length = %d, want 1", len(res.Attempts))
	}
	if res.Attempts[0].Provider != "anthropic" {
		t.Errorf("attempt provider = %q, want anthropic", res.Attempts[0].Provider)
	}
	if res.Attempts[0].ErrorKind != KindRateLimited {
		t.Errorf("attempt kind = %q, want %q", res.Attempts[0].ErrorKind, KindRateLimited)
	}
}

func TestGenerate_EmptyResponseIsFailure(t *testing.T) {
	anthropic := ok("anthropic", "   \n\t ")
	openai := ok("openai", "real answer")
	factory := &stubFactory{providers: map[string]*stubProvider{"anthropic": anthropic, "openai": openai}}
	env := map[string]string{"ANTHROPIC_API_KEY": "a", "OPENAI_API_KEY": "o"}

	r := newTestRouter(factory, env)
	res, err := r.Generate(context.Background(), &Request{Prompt: "hi"})
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if res.Provider != "openai" {
		t.Errorf("provider = %q, want openai", res.Provider)
	}
	if len(res.Attempts) != 1 || !strings.Contains(res.Attempts[0].Error, "empty response") {
		t.Errorf("attempt trail = %+v, want one empty-response failure", res.Attempts)
	}
}

func TestGenerate_AllFail(t *testing.T) {
	anthropic := failing("anthropic", "401 unauthorized")
	openai := failing("openai", "connection refused")
	factory := &stubFactory{providers: map[string]*stubProvider{"anthropic": anthropic, "openai": openai}}
	env := map[string]string{"ANTHROPIC_API_KEY": "a", "OPENAI_API_KEY": "o"}

	r := newTestRouter(factory, env)
	_, err := r.Generate(context.Background(), &Request{Prompt: "hi"})
	if err == nil {
		t.Fatal("expected exhaustion error")
	}

	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("error type = %T, want *ExhaustedError", err)
	}
	if len(exhausted.Attempts) != 2 {
		t.Fatalf("attempts = %d, want 2", len(exhausted.Attempts))
	}
	if exhausted.Attempts[0].ErrorKind != KindAuthentication {
		t.Errorf("first kind = %q, want authentication", exhausted.Attempts[0].ErrorKind)
	}
	if exhausted.Attempts[1].ErrorKind != KindConnection {
		t.Errorf("second kind = %q, want connection", exhausted.Attempts[1].ErrorKind)
	}
	msg := err.Error()
	if !strings.HasPrefix(msg, "all 2 providers failed: ") {
		t.Errorf("error message = %q", msg)
	}
	if !strings.Contains(msg, "anthropic: 401 unauthorized; openai: connection refused") {
		t.Errorf("error message missing per-provider detail: %q", msg)
	}
}

func TestGenerate_NoProviders(t *testing.T) {
	r := newTestRouter(&stubFactory{providers: map[string]*stubProvider{}}, map[string]string{})
	_, err := r.Generate(context.Background(), &Request{Prompt: "hi"})
	if !errors.Is(err, ErrNoProviders) {
		t.Fatalf("error = %v, want ErrNoProviders", err)
	}
}

func TestGenerate_PinnedProvider(t *testing.T) {
	anthropic := ok("anthropic", "a")
	openai := ok("openai", "o")
	factory := &stubFactory{providers: map[string]*stubProvider{"anthropic": anthropic, "openai": openai}}
	env := map[string]string{"ANTHROPIC_API_KEY": "a", "OPENAI_API_KEY": "o"}

	r := newTestRouter(factory, env)
	res, err := r.Generate(context.Background(), &Request{Prompt: "hi", Provider: "openai"})
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if res.Provider != "openai" {
		t.Errorf("provider = %q, want openai", res.Provider)
	}
	if anthropic.calls != 0 {
		t.Error("successful pinned request should not touch other providers")
	}
}

func TestGenerate_PinnedFallsBackToCatalog(t *testing.T) {
	gemini := failing("gemini", "500 internal error")
	anthropic := ok("anthropic", "backup")
	factory := &stubFactory{providers: map[string]*stubProvider{"gemini": gemini, "anthropic": anthropic}}
	env := map[string]string{"GEMINI_API_KEY": "g", "ANTHROPIC_API_KEY": "a"}

	r := newTestRouter(factory, env)
	res, err := r.Generate(context.Background(), &Request{Prompt: "hi", Provider: "gemini"})
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if res.Provider != "anthropic" {
		t.Errorf("provider = %q, want anthropic", res.Provider)
	}
	if !res.Fallback {
		t.Error("Fallback = false, want true")
	}
}

func TestGenerate_PinnedStrictWhenFallbackDisabled(t *testing.T) {
	gemini := failing("gemini", "500 internal error")
	anthropic := ok("anthropic", "backup")
	factory := &stubFactory{providers: map[string]*stubProvider{"gemini": gemini, "anthropic": anthropic}}
	env := map[string]string{
		"GEMINI_API_KEY":     "g",
		"ANTHROPIC_API_KEY":  "a",
		"MODELGATE_FALLBACK": "false",
	}

	r := newTestRouter(factory, env)
	_, err := r.Generate(context.Background(), &Request{Prompt: "hi", Provider: "gemini"})
	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("error = %v, want ExhaustedError", err)
	}
	if len(exhausted.Attempts) != 1 {
		t.Fatalf("attempts = %d, want 1", len(exhausted.Attempts))
	}
	if anthropic.calls != 0 {
		t.Error("fallback-disabled pinned request must not touch other providers")
	}
}

func TestGenerate_PinnedUnconfiguredFallsBack(t *testing.T) {
	// The pinned provider has no credentials and no stub, so its attempt
	// fails at instantiation; the configured catalog takes over.
	anthropic := ok("anthropic", "backup")
	factory := &stubFactory{providers: map[string]*stubProvider{"anthropic": anthropic}}
	env := map[string]string{"ANTHROPIC_API_KEY": "a"}

	r := newTestRouter(factory, env)
	res, err := r.Generate(context.Background(), &Request{Prompt: "hi", Provider: "groq"})
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if res.Provider != "anthropic" {
		t.Errorf("provider = %q, want anthropic", res.Provider)
	}
	if !res.Fallback {
		t.Error("Fallback = false, want true")
	}
	if len(res.Attempts) != 1 || res.Attempts[0].Provider != "groq" {
		t.Errorf("attempt trail = %+v, want one failed groq attempt", res.Attempts)
	}
}

func TestGenerate_PinnedUnconfiguredStrict(t *testing.T) {
	env := map[string]string{"MODELGATE_FALLBACK": "false"}
	r := newTestRouter(&stubFactory{providers: map[string]*stubProvider{}}, env)
	_, err := r.Generate(context.Background(), &Request{Prompt: "hi", Provider: "groq"})
	if err == nil || !strings.Contains(err.Error(), "GROQ_API_KEY") {
		t.Fatalf("error = %v, want missing GROQ_API_KEY", err)
	}
}

func TestGenerate_PinnedUnknown(t *testing.T) {
	r := newTestRouter(&stubFactory{providers: map[string]*stubProvider{}}, map[string]string{})
	_, err := r.Generate(context.Background(), &Request{Prompt: "hi", Provider: "claude"})
	if err == nil || !strings.Contains(err.Error(), "unknown provider") {
		t.Fatalf("error = %v, want unknown provider", err)
	}
}

func TestGenerate_AutoExcludesOllama(t *testing.T) {
	// Ollama has no credential variables, so its fast check proves nothing;
	// it must not pad the candidate list or the exhaustion trail.
	anthropic := failing("anthropic", "503 overloaded")
	ollama := ok("ollama", "never consulted")
	factory := &stubFactory{providers: map[string]*stubProvider{"anthropic": anthropic, "ollama": ollama}}
	env := map[string]string{"ANTHROPIC_API_KEY": "a"}

	r := newTestRouter(factory, env)
	_, err := r.Generate(context.Background(), &Request{Prompt: "hi"})

	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("error = %v, want *ExhaustedError", err)
	}
	if len(exhausted.Attempts) != 1 {
		t.Fatalf("attempts = %d, want 1", len(exhausted.Attempts))
	}
	if ollama.calls != 0 {
		t.Errorf("ollama called %d times, want 0 without an explicit request", ollama.calls)
	}
}

func TestGenerate_PinnedOllama(t *testing.T) {
	ollama := ok("ollama", "local answer")
	factory := &stubFactory{providers: map[string]*stubProvider{"ollama": ollama}}

	r := newTestRouter(factory, map[string]string{})
	res, err := r.Generate(context.Background(), &Request{Prompt: "hi", Provider: "ollama"})
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if res.Provider != "ollama" {
		t.Errorf("provider = %q, want ollama", res.Provider)
	}
}

func TestGenerate_FallbackDisabledByEnv(t *testing.T) {
	anthropic := failing("anthropic", "timeout")
	openai := ok("openai", "should not be reached")
	factory := &stubFactory{providers: map[string]*stubProvider{"anthropic": anthropic, "openai": openai}}
	env := map[string]string{
		"ANTHROPIC_API_KEY":  "a",
		"OPENAI_API_KEY":     "o",
		"MODELGATE_FALLBACK": "false",
	}

	r := newTestRouter(factory, env)
	_, err := r.Generate(context.Background(), &Request{Prompt: "hi"})

	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("error = %v, want *ExhaustedError", err)
	}
	if len(exhausted.Attempts) != 1 {
		t.Errorf("attempts = %d, want 1 with fallback disabled", len(exhausted.Attempts))
	}
	if openai.calls != 0 {
		t.Error("fallback disabled but second provider was called")
	}
}

func TestGenerate_EnvTogglesOverrideConfig(t *testing.T) {
	// Config disables fallback; env re-enables it per request.
	disabled := false
	cfg := &config.Config{}
	cfg.Providers.Fallback = &disabled

	anthropic := failing("anthropic", "timeout")
	openai := ok("openai", "served")
	factory := &stubFactory{providers: map[string]*stubProvider{"anthropic": anthropic, "openai": openai}}
	env := map[string]string{
		"ANTHROPIC_API_KEY":  "a",
		"OPENAI_API_KEY":     "o",
		"MODELGATE_FALLBACK": "true",
	}

	r := New(factory, cfg, nil, WithRouterLookup(mapLookup(env)))
	res, err := r.Generate(context.Background(), &Request{Prompt: "hi"})
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if res.Provider != "openai" {
		t.Errorf("provider = %q, want openai", res.Provider)
	}
}

func TestGenerate_DefaultsApplied(t *testing.T) {
	anthropic := ok("anthropic", "hello")
	factory := &stubFactory{providers: map[string]*stubProvider{"anthropic": anthropic}}
	env := map[string]string{"ANTHROPIC_API_KEY": "a"}

	r := newTestRouter(factory, env)
	if _, err := r.Generate(context.Background(), &Request{Prompt: "hi"}); err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if anthropic.gotReq.MaxTokens != 1024 {
		t.Errorf("max tokens = %d, want default 1024", anthropic.gotReq.MaxTokens)
	}
	if anthropic.gotReq.Temperature != 0.7 {
		t.Errorf("temperature = %v, want default 0.7", anthropic.gotReq.Temperature)
	}
}

func TestGenerate_ExplicitZeroTemperature(t *testing.T) {
	anthropic := ok("anthropic", "hello")
	factory := &stubFactory{providers: map[string]*stubProvider{"anthropic": anthropic}}
	env := map[string]string{"ANTHROPIC_API_KEY": "a"}

	zero := 0.0
	r := newTestRouter(factory, env)
	if _, err := r.Generate(context.Background(), &Request{Prompt: "hi", MaxTokens: 16, Temperature: &zero}); err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if anthropic.gotReq.MaxTokens != 16 {
		t.Errorf("max tokens = %d, want 16", anthropic.gotReq.MaxTokens)
	}
	if anthropic.gotReq.Temperature != 0 {
		t.Errorf("temperature = %v, want explicit 0", anthropic.gotReq.Temperature)
	}
}

// hangingProvider blocks until the attempt context expires.
type hangingProvider struct {
	name  string
	calls int
}

func (h *hangingProvider) Name() string { return h.name }
func (h *hangingProvider) Generate(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	h.calls++
	<-ctx.Done()
	return nil, fmt.Errorf("request timeout: %w", ctx.Err())
}

// mixedFactory serves arbitrary llm.Provider implementations by name.
type mixedFactory struct {
	providers map[string]llm.Provider
}

func (f *mixedFactory) New(name string) (llm.Provider, error) {
	p, ok := f.providers[name]
	if !ok {
		return nil, fmt.Errorf("no stub for provider %q", name)
	}
	return p, nil
}

func (f *mixedFactory) OllamaBaseURL() string { return "http://localhost:11434" }

func TestGenerate_CallerAttemptTimeout(t *testing.T) {
	anthropic := &hangingProvider{name: "anthropic"}
	openai := ok("openai", "served in time")
	factory := &mixedFactory{providers: map[string]llm.Provider{"anthropic": anthropic, "openai": openai}}
	env := map[string]string{"ANTHROPIC_API_KEY": "a", "OPENAI_API_KEY": "o"}

	r := New(factory, &config.Config{}, nil, WithRouterLookup(mapLookup(env)))
	res, err := r.Generate(context.Background(), &Request{
		Prompt:  "hi",
		Timeout: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if res.Provider != "openai" {
		t.Errorf("provider = %q, want openai after the timed-out attempt", res.Provider)
	}
	if len(res.Attempts) != 1 || res.Attempts[0].ErrorKind != KindConnection {
		t.Errorf("attempt trail = %+v, want one connection-classified timeout", res.Attempts)
	}
	if anthropic.calls != 1 {
		t.Errorf("anthropic calls = %d, want 1", anthropic.calls)
	}
}

func TestGenerate_PriorityOrder(t *testing.T) {
	// gemini sits before groq in the catalog; both configured, gemini fails.
	gemini := failing("gemini", "500 internal error")
	groq := ok("groq", "from groq")
	factory := &stubFactory{providers: map[string]*stubProvider{"gemini": gemini, "groq": groq}}
	env := map[string]string{"GEMINI_API_KEY": "g", "GROQ_API_KEY": "q"}

	r := newTestRouter(factory, env)
	res, err := r.Generate(context.Background(), &Request{Prompt: "hi"})
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if gemini.calls != 1 {
		t.Errorf("gemini calls = %d, want 1 (tried first)", gemini.calls)
	}
	if res.Provider != "groq" {
		t.Errorf("provider = %q, want groq", res.Provider)
	}
	if res.Attempts[0].ErrorKind != KindUnknown {
		t.Errorf("500 should classify as unknown, got %q", res.Attempts[0].ErrorKind)
	}
}

func TestGenerate_UsageAccounting(t *testing.T) {
	tracker := usage.NewTracker()
	anthropic := failing("anthropic", "429 rate limit")
	openai := ok("openai", "served")
	factory := &stubFactory{providers: map[string]*stubProvider{"anthropic": anthropic, "openai": openai}}
	env := map[string]string{"ANTHROPIC_API_KEY": "a", "OPENAI_API_KEY": "o"}

	r := newTestRouter(factory, env, WithUsageTracker(tracker))
	if _, err := r.Generate(context.Background(), &Request{Prompt: "hi"}); err != nil {
		t.Fatalf("Generate() error: %v", err)
	}

	stats := tracker.Snapshot()
	if stats.Requests != 1 {
		t.Errorf("requests = %d, want 1 (one logical request)", stats.Requests)
	}
	if stats.Errors != 0 {
		t.Errorf("global errors = %d, want 0 (fallback succeeded)", stats.Errors)
	}
	if stats.TotalTokens != 10 {
		t.Errorf("total tokens = %d, want 10", stats.TotalTokens)
	}
	if stats.Providers["anthropic"].Errors != 1 {
		t.Errorf("anthropic errors = %d, want 1", stats.Providers["anthropic"].Errors)
	}
	if stats.Providers["openai"].TotalTokens != 10 {
		t.Errorf("openai tokens = %d, want 10", stats.Providers["openai"].TotalTokens)
	}
}

func TestGenerate_UsageAccountingExhausted(t *testing.T) {
	tracker := usage.NewTracker()
	anthropic := failing("anthropic", "boom")
	factory := &stubFactory{providers: map[string]*stubProvider{"anthropic": anthropic}}
	env := map[string]string{"ANTHROPIC_API_KEY": "a"}

	r := newTestRouter(factory, env, WithUsageTracker(tracker))
	if _, err := r.Generate(context.Background(), &Request{Prompt: "hi"}); err == nil {
		t.Fatal("expected exhaustion error")
	}

	stats := tracker.Snapshot()
	if stats.Requests != 1 {
		t.Errorf("requests = %d, want 1", stats.Requests)
	}
	if stats.Errors != 1 {
		t.Errorf("global errors = %d, want 1 for terminal failure", stats.Errors)
	}
	if stats.TotalTokens != 0 {
		t.Errorf("total tokens = %d, want 0 (no success)", stats.TotalTokens)
	}
}

func TestGenerate_ParentContextCanceled(t *testing.T) {
	anthropic := failing("anthropic", "slow failure")
	openai := ok("openai", "never reached")
	factory := &stubFactory{providers: map[string]*stubProvider{"anthropic": anthropic, "openai": openai}}
	env := map[string]string{"ANTHROPIC_API_KEY": "a", "OPENAI_API_KEY": "o"}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := newTestRouter(factory, env)
	_, err := r.Generate(ctx, &Request{Prompt: "hi"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if openai.calls != 0 {
		t.Error("loop should stop once the parent context is canceled")
	}
}
