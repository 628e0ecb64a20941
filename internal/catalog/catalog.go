// Package catalog holds the static descriptor set for every supported
// provider: credential requirements, default models, and the fixed
// priority order used when a request asks for automatic selection.
package catalog

import (
	"os"
	"strings"
)

// Ollama is the name of the local provider with no credential variables.
// It gets special liveness handling in the prober and factory.
const Ollama = "ollama"

// Descriptor describes one supported provider.
type Descriptor struct {
	Name         string
	EnvVars      []string // Credential environment variables.
	RequireAny   bool     // true = any one of EnvVars suffices; false = all are required.
	DefaultModel string
	BaseURL      string // Non-empty for OpenAI-compatible backends with a fixed endpoint.
}

// providers is the hand-curated priority order. The ordering reflects a
// cost/quality tradeoff and is fixed at compile time; the sequencer never
// reorders it at runtime.
//
// Bedrock is the one provider with alternative auth methods (bearer token,
// access keys, or a named profile), hence RequireAny. Every other provider
// requires all of its listed variables. Ollama has no credentials at all;
// it is reachable or it is not, which the prober checks directly.
var providers = []Descriptor{
	{Name: "anthropic", EnvVars: []string{"ANTHROPIC_API_KEY"}, DefaultModel: "claude-3-5-haiku-latest"},
	{Name: "openai", EnvVars: []string{"OPENAI_API_KEY"}, DefaultModel: "gpt-4o-mini"},
	{Name: "gemini", EnvVars: []string{"GEMINI_API_KEY"}, DefaultModel: "gemini-2.0-flash"},
	{Name: "groq", EnvVars: []string{"GROQ_API_KEY"}, DefaultModel: "llama-3.3-70b-versatile", BaseURL: "https://api.groq.com/openai"},
	{Name: "mistral", EnvVars: []string{"MISTRAL_API_KEY"}, DefaultModel: "mistral-small-latest", BaseURL: "https://api.mistral.ai"},
	{Name: "deepseek", EnvVars: []string{"DEEPSEEK_API_KEY"}, DefaultModel: "deepseek-chat", BaseURL: "https://api.deepseek.com"},
	{Name: "openrouter", EnvVars: []string{"OPENROUTER_API_KEY"}, DefaultModel: "openrouter/auto", BaseURL: "https://openrouter.ai/api"},
	{
		Name:         "bedrock",
		EnvVars:      []string{"AWS_BEARER_TOKEN_BEDROCK", "AWS_ACCESS_KEY_ID", "AWS_PROFILE"},
		RequireAny:   true,
		DefaultModel: "anthropic.claude-3-5-haiku-20241022-v1:0",
	},
	{Name: "ollama", DefaultModel: "llama3.2"},
}

// Lookup resolves an environment variable. Injectable so tests can swap
// the process environment for a map.
type Lookup func(key string) (string, bool)

// EnvLookup reads from the process environment.
func EnvLookup(key string) (string, bool) { return os.LookupEnv(key) }

// All returns the descriptors in priority order.
func All() []Descriptor {
	out := make([]Descriptor, len(providers))
	copy(out, providers)
	return out
}

// Names returns the provider names in priority order.
func Names() []string {
	names := make([]string, len(providers))
	for i, d := range providers {
		names[i] = d.Name
	}
	return names
}

// Get returns the descriptor for the named provider.
func Get(name string) (Descriptor, bool) {
	for _, d := range providers {
		if d.Name == name {
			return d, true
		}
	}
	return Descriptor{}, false
}

// Configured reports whether the provider's credential variables are set,
// applying the provider's matching rule. No network calls. A provider
// with no credential variables (ollama) is trivially configured; whether
// the service is actually reachable is the prober's job.
func (d Descriptor) Configured(lookup Lookup) bool {
	if d.RequireAny {
		for _, key := range d.EnvVars {
			if v, ok := lookup(key); ok && v != "" {
				return true
			}
		}
		return false
	}
	for _, key := range d.EnvVars {
		if v, ok := lookup(key); !ok || v == "" {
			return false
		}
	}
	return true
}

// CredentialConfigured reports whether the provider carries credential
// variables and they are set. Ollama has none, so its fast check proves
// nothing about the local daemon and it never qualifies here; fallback
// candidacy must not burn an attempt on a daemon nobody checked. Ollama
// is still usable when requested explicitly.
func (d Descriptor) CredentialConfigured(lookup Lookup) bool {
	return len(d.EnvVars) > 0 && d.Configured(lookup)
}

// MissingEnvVars returns the credential variables that block configuration,
// for user-facing status messages. Empty when Configured is true.
func (d Descriptor) MissingEnvVars(lookup Lookup) []string {
	if d.Configured(lookup) {
		return nil
	}
	var missing []string
	for _, key := range d.EnvVars {
		if v, ok := lookup(key); !ok || v == "" {
			missing = append(missing, key)
		}
	}
	return missing
}

// Model returns the effective model for the provider: the per-provider
// override variable when set, the default otherwise. Read on every call
// so the override can change between requests.
func (d Descriptor) Model(lookup Lookup) string {
	if v, ok := lookup(ModelOverrideKey(d.Name)); ok && v != "" {
		return v
	}
	return d.DefaultModel
}

// ModelOverrideKey derives the override environment variable for a
// provider name: uppercased, punctuation collapsed to underscores, with
// a _MODEL suffix ("openai" -> "OPENAI_MODEL"). Pure and total.
func ModelOverrideKey(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r - ('a' - 'A'))
		case (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	b.WriteString("_MODEL")
	return b.String()
}
