package catalog

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/nerudite/modelgate/internal/llm"
	"github.com/nerudite/modelgate/internal/llm/anthropic"
	"github.com/nerudite/modelgate/internal/llm/bedrock"
	"github.com/nerudite/modelgate/internal/llm/gemini"
	"github.com/nerudite/modelgate/internal/llm/openai"
)

const defaultOllamaBaseURL = "http://localhost:11434"

// Factory builds provider clients from descriptors plus the current
// environment. Credentials and model overrides are resolved on every
// New call, never cached.
type Factory struct {
	logger *slog.Logger
	lookup Lookup

	ollamaBaseURL string
	bedrockRegion string
}

// FactoryOption configures the factory.
type FactoryOption func(*Factory)

// WithLookup replaces the environment lookup (for tests).
func WithLookup(lookup Lookup) FactoryOption {
	return func(f *Factory) { f.lookup = lookup }
}

// WithOllamaBaseURL overrides the local Ollama endpoint.
func WithOllamaBaseURL(url string) FactoryOption {
	return func(f *Factory) {
		if url != "" {
			f.ollamaBaseURL = url
		}
	}
}

// WithBedrockRegion overrides the Bedrock region (default: AWS_REGION or us-east-1).
func WithBedrockRegion(region string) FactoryOption {
	return func(f *Factory) {
		if region != "" {
			f.bedrockRegion = region
		}
	}
}

// NewFactory creates a provider factory.
func NewFactory(logger *slog.Logger, opts ...FactoryOption) *Factory {
	f := &Factory{
		logger:        logger,
		lookup:        os.LookupEnv,
		ollamaBaseURL: defaultOllamaBaseURL,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// OllamaBaseURL returns the configured local Ollama endpoint.
func (f *Factory) OllamaBaseURL() string { return f.ollamaBaseURL }

// New instantiates a client for the named provider using the current
// environment. Fails for unknown providers or unusable credentials.
func (f *Factory) New(name string) (llm.Provider, error) {
	d, ok := Get(name)
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", name)
	}
	if !d.Configured(f.lookup) {
		return nil, fmt.Errorf("provider %q is not configured: missing required environment variables: %s",
			name, strings.Join(d.MissingEnvVars(f.lookup), ", "))
	}

	model := d.Model(f.lookup)

	switch name {
	case "anthropic":
		key, _ := f.lookup("ANTHROPIC_API_KEY")
		return anthropic.NewClient(key, model, f.logger), nil

	case "gemini":
		key, _ := f.lookup("GEMINI_API_KEY")
		return gemini.NewClient(key, model, f.logger), nil

	case "bedrock":
		token, _ := f.lookup("AWS_BEARER_TOKEN_BEDROCK")
		region := f.bedrockRegion
		if region == "" {
			region, _ = f.lookup("AWS_REGION")
		}
		return bedrock.NewClient(token, model, region, f.logger)

	case Ollama:
		return openai.NewClient("", model, f.logger,
			openai.WithName(Ollama),
			openai.WithBaseURL(f.ollamaBaseURL),
		), nil

	case "openai", "groq", "mistral", "deepseek", "openrouter":
		key, _ := f.lookup(d.EnvVars[0])
		opts := []openai.Option{openai.WithName(name)}
		if d.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(d.BaseURL))
		}
		return openai.NewClient(key, model, f.logger, opts...), nil

	default:
		return nil, fmt.Errorf("no client implementation for provider %q", name)
	}
}
