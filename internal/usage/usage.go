// Package usage accumulates process-wide request and token counters.
// The tracker is an injectable value, not a package-level singleton, so
// tests construct isolated instances. Counters reset on process restart;
// nothing here is persisted.
package usage

import "sync"

// ProviderStats are the per-provider counters.
type ProviderStats struct {
	Requests    int64 `json:"requests"`
	Errors      int64 `json:"errors"`
	TotalTokens int64 `json:"total_tokens"`
}

// Stats is a point-in-time copy of all counters.
type Stats struct {
	Requests    int64                    `json:"requests"`
	Errors      int64                    `json:"errors"`
	TotalTokens int64                    `json:"total_tokens"`
	Providers   map[string]ProviderStats `json:"providers"`
}

// Tracker accumulates usage counters. Safe for concurrent use; the
// gateway serves many fallback sequences in parallel.
type Tracker struct {
	mu        sync.Mutex
	requests  int64
	errors    int64
	tokens    int64
	providers map[string]*ProviderStats
}

// NewTracker creates a tracker with all counters at zero.
func NewTracker() *Tracker {
	return &Tracker{providers: make(map[string]*ProviderStats)}
}

// RecordRequest counts one logical generation request, exactly once per
// call regardless of how many candidates the fallback loop tries.
func (t *Tracker) RecordRequest() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.requests++
}

// RecordSuccess folds the winning attempt's token total into the
// process-wide and per-provider counters. Failed attempts never
// contribute tokens.
func (t *Tracker) RecordSuccess(provider string, tokens int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tokens += int64(tokens)
	p := t.provider(provider)
	p.Requests++
	p.TotalTokens += int64(tokens)
}

// RecordFailure counts a failed attempt against the provider. It does
// not touch the process-wide error counter; that belongs to terminal
// exhaustion only.
func (t *Tracker) RecordFailure(provider string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.provider(provider)
	p.Requests++
	p.Errors++
}

// RecordExhausted counts one terminal failure: every candidate for a
// logical request failed.
func (t *Tracker) RecordExhausted() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.errors++
}

// Snapshot returns a read-only copy of the counters. Values may be
// slightly stale relative to in-flight requests; that is acceptable
// for reporting.
func (t *Tracker) Snapshot() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := Stats{
		Requests:    t.requests,
		Errors:      t.errors,
		TotalTokens: t.tokens,
		Providers:   make(map[string]ProviderStats, len(t.providers)),
	}
	for name, p := range t.providers {
		out.Providers[name] = *p
	}
	return out
}

// provider returns the stats bucket for the named provider, creating it
// on first use. Callers must hold t.mu.
func (t *Tracker) provider(name string) *ProviderStats {
	p, ok := t.providers[name]
	if !ok {
		p = &ProviderStats{}
		t.providers[name] = p
	}
	return p
}
