package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// probeFactory wraps stubFactory with a configurable ollama endpoint.
type probeFactory struct {
	stubFactory
	ollamaURL string
}

func (f *probeFactory) OllamaBaseURL() string { return f.ollamaURL }

func TestCheck_Unconfigured(t *testing.T) {
	p := NewProber(&stubFactory{}, nil, WithProberLookup(mapLookup(nil)))

	status := p.Check("anthropic")
	if status.Configured {
		t.Error("anthropic should be unconfigured without ANTHROPIC_API_KEY")
	}
	if len(status.MissingEnv) != 1 || status.MissingEnv[0] != "ANTHROPIC_API_KEY" {
		t.Errorf("missing env = %v, want [ANTHROPIC_API_KEY]", status.MissingEnv)
	}
	if !strings.Contains(status.Error, "missing required environment variables: ANTHROPIC_API_KEY") {
		t.Errorf("error = %q", status.Error)
	}
}

func TestCheck_BedrockAnyOf(t *testing.T) {
	p := NewProber(&stubFactory{}, nil, WithProberLookup(mapLookup(map[string]string{
		"AWS_PROFILE": "dev",
	})))

	status := p.Check("bedrock")
	if !status.Configured {
		t.Errorf("bedrock should be configured with AWS_PROFILE alone: %+v", status)
	}
}

func TestCheck_UnknownProvider(t *testing.T) {
	p := NewProber(&stubFactory{}, nil, WithProberLookup(mapLookup(nil)))
	status := p.Check("claude")
	if status.Configured || !strings.Contains(status.Error, "unknown provider") {
		t.Errorf("status = %+v, want unknown provider error", status)
	}
}

func TestProbe_Success(t *testing.T) {
	factory := &stubFactory{providers: map[string]*stubProvider{"openai": ok("openai", "pong")}}
	p := NewProber(factory, nil, WithProberLookup(mapLookup(map[string]string{"OPENAI_API_KEY": "k"})))

	status := p.Probe(context.Background(), "openai")
	if !status.Configured || !status.Authenticated || !status.Available {
		t.Errorf("status = %+v, want fully available", status)
	}
	if status.Error != "" {
		t.Errorf("unexpected error %q", status.Error)
	}
}

func TestProbe_MinimalRequest(t *testing.T) {
	stub := ok("openai", "pong")
	factory := &stubFactory{providers: map[string]*stubProvider{"openai": stub}}
	p := NewProber(factory, nil, WithProberLookup(mapLookup(map[string]string{"OPENAI_API_KEY": "k"})))

	p.Probe(context.Background(), "openai")
	if stub.gotReq.MaxTokens != probeMaxTokens {
		t.Errorf("probe max tokens = %d, want %d", stub.gotReq.MaxTokens, probeMaxTokens)
	}
	if stub.gotReq.Temperature != 0 {
		t.Errorf("probe temperature = %v, want 0", stub.gotReq.Temperature)
	}
}

func TestProbe_AuthError(t *testing.T) {
	factory := &stubFactory{providers: map[string]*stubProvider{"openai": failing("openai", "401 invalid api key")}}
	p := NewProber(factory, nil, WithProberLookup(mapLookup(map[string]string{"OPENAI_API_KEY": "bad"})))

	status := p.Probe(context.Background(), "openai")
	if !status.Configured {
		t.Error("configured should stay true; the key is present, just rejected")
	}
	if status.Authenticated || status.Available {
		t.Errorf("status = %+v, want unauthenticated and unavailable", status)
	}
	if status.ErrorKind != KindAuthentication {
		t.Errorf("kind = %q, want authentication", status.ErrorKind)
	}
}

func TestProbe_RateLimitProvesCredentials(t *testing.T) {
	factory := &stubFactory{providers: map[string]*stubProvider{"openai": failing("openai", "429 rate limit exceeded")}}
	p := NewProber(factory, nil, WithProberLookup(mapLookup(map[string]string{"OPENAI_API_KEY": "k"})))

	status := p.Probe(context.Background(), "openai")
	if !status.Authenticated {
		t.Error("a rate-limited response proves the credentials are valid")
	}
	if status.Available {
		t.Error("rate-limited provider is not available right now")
	}
	if status.ErrorKind != KindRateLimited {
		t.Errorf("kind = %q, want rate_limited", status.ErrorKind)
	}
}

func TestProbe_OllamaRunning(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"models":[]}`))
	}))
	defer srv.Close()

	factory := &probeFactory{ollamaURL: srv.URL}
	p := NewProber(factory, nil, WithProberLookup(mapLookup(nil)))

	status := p.Probe(context.Background(), "ollama")
	if !status.Configured {
		t.Error("ollama is always configured; it has no credential variables")
	}
	if !status.Available {
		t.Errorf("status = %+v, want available with daemon running", status)
	}
}

func TestProbe_OllamaNotRunning(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // stopped daemon

	factory := &probeFactory{ollamaURL: srv.URL}
	p := NewProber(factory, nil, WithProberLookup(mapLookup(nil)))

	status := p.Probe(context.Background(), "ollama")
	if status.Configured {
		t.Error("an unreachable daemon leaves ollama unconfigured")
	}
	if status.Available || status.Authenticated {
		t.Error("stopped daemon must not be available")
	}
	if !strings.Contains(status.Error, "ollama service is not running at ") {
		t.Errorf("error = %q", status.Error)
	}
	if status.ErrorKind != KindConnection {
		t.Errorf("kind = %q, want connection", status.ErrorKind)
	}
}

func TestProbeAll_ConfigOnly(t *testing.T) {
	p := NewProber(&stubFactory{}, nil, WithProberLookup(mapLookup(map[string]string{
		"OPENAI_API_KEY": "k",
	})))

	statuses := p.ProbeAll(context.Background(), false)
	if len(statuses) != 9 {
		t.Fatalf("status count = %d, want 9", len(statuses))
	}
	// Results preserve catalog priority order.
	if statuses[0].Name != "anthropic" || statuses[8].Name != "ollama" {
		t.Errorf("order = %q ... %q", statuses[0].Name, statuses[8].Name)
	}
	for _, s := range statuses {
		switch s.Name {
		case "openai", "ollama":
			if !s.Configured {
				t.Errorf("%s should be configured", s.Name)
			}
		default:
			if s.Configured {
				t.Errorf("%s should not be configured", s.Name)
			}
		}
		if s.Available {
			t.Errorf("%s: config-only checks never mark availability", s.Name)
		}
	}
}
