// Package llm defines the provider-agnostic interface for text generation backends.
package llm

import "context"

// Provider is the abstraction over any text generation backend (Anthropic, OpenAI, etc.).
type Provider interface {
	// Generate sends a prompt to the backend and returns its completion.
	Generate(ctx context.Context, req *Request) (*Response, error)
	// Name returns the provider identifier (e.g. "anthropic").
	Name() string
}

// Request is a single generation request.
type Request struct {
	Prompt      string
	System      string  // Optional system instruction. Empty = none.
	MaxTokens   int     // 0 = provider default.
	Temperature float64 // Sampling temperature, sent as-is.
}

// Response is what the backend returns.
type Response struct {
	Text  string
	Model string // Model that actually served the request, as reported by the API.
	Usage *Usage // nil when the API did not report usage.
}

// Usage tracks token consumption for accounting.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// TotalTokens returns the combined input and output token count.
func (u *Usage) TotalTokens() int {
	if u == nil {
		return 0
	}
	return u.InputTokens + u.OutputTokens
}
