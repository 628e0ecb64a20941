package usage

import (
	"sync"
	"testing"
)

func TestTracker_SuccessAccounting(t *testing.T) {
	tr := NewTracker()
	tr.RecordRequest()
	tr.RecordSuccess("openai", 57)

	s := tr.Snapshot()
	if s.Requests != 1 {
		t.Errorf("expected 1 request, got %d", s.Requests)
	}
	if s.TotalTokens != 57 {
		t.Errorf("expected 57 tokens, got %d", s.TotalTokens)
	}
	if s.Errors != 0 {
		t.Errorf("expected 0 errors, got %d", s.Errors)
	}
	p := s.Providers["openai"]
	if p.Requests != 1 || p.TotalTokens != 57 || p.Errors != 0 {
		t.Errorf("unexpected provider stats: %+v", p)
	}
}

func TestTracker_ExhaustionAccounting(t *testing.T) {
	tr := NewTracker()
	tr.RecordRequest()
	tr.RecordFailure("anthropic")
	tr.RecordFailure("openai")
	tr.RecordExhausted()

	s := tr.Snapshot()
	if s.Requests != 1 {
		t.Errorf("expected 1 request, got %d", s.Requests)
	}
	if s.Errors != 1 {
		t.Errorf("expected 1 terminal error, got %d", s.Errors)
	}
	if s.TotalTokens != 0 {
		t.Errorf("failed attempts must not add tokens, got %d", s.TotalTokens)
	}
	if s.Providers["anthropic"].Errors != 1 || s.Providers["openai"].Errors != 1 {
		t.Errorf("unexpected provider stats: %+v", s.Providers)
	}
}

func TestTracker_SnapshotIsACopy(t *testing.T) {
	tr := NewTracker()
	tr.RecordSuccess("openai", 5)

	s := tr.Snapshot()
	s.Providers["openai"] = ProviderStats{TotalTokens: 999}

	if got := tr.Snapshot().Providers["openai"].TotalTokens; got != 5 {
		t.Errorf("mutating a snapshot leaked into the tracker: %d", got)
	}
}

func TestTracker_ConcurrentUpdates(t *testing.T) {
	tr := NewTracker()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.RecordRequest()
			tr.RecordSuccess("openai", 2)
		}()
	}
	wg.Wait()

	s := tr.Snapshot()
	if s.Requests != 50 {
		t.Errorf("expected 50 requests, got %d", s.Requests)
	}
	if s.TotalTokens != 100 {
		t.Errorf("expected 100 tokens, got %d", s.TotalTokens)
	}
}
