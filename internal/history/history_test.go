package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerudite/modelgate/internal/config"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := &config.Config{
		Storage: &config.StorageConfig{
			Driver: "sqlite",
			SQLite: &config.SQLiteStorageConfig{Path: filepath.Join(t.TempDir(), "test.db")},
		},
	}
	s, err := Open(cfg, nil)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSaveAndRecent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	older := &Record{
		Provider:     "anthropic",
		Model:        "claude-3-5-haiku-latest",
		Prompt:       "first",
		Success:      true,
		InputTokens:  3,
		OutputTokens: 7,
		CreatedAt:    time.Now().UTC().Add(-time.Minute),
	}
	newer := &Record{
		Provider:  "openai",
		Prompt:    "second",
		Success:   false,
		ErrorKind: "rate_limited",
		Error:     "429 rate limit",
		Attempts:  2,
	}
	if err := s.Save(ctx, older); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	if err := s.Save(ctx, newer); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	if older.ID == "" || newer.ID == "" {
		t.Fatal("Save should assign IDs")
	}

	records, err := s.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent() error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("record count = %d, want 2", len(records))
	}
	if records[0].Prompt != "second" {
		t.Errorf("newest first: got %q", records[0].Prompt)
	}
	if records[1].Provider != "anthropic" || !records[1].Success {
		t.Errorf("older record = %+v", records[1])
	}
}

func TestRecent_LimitClamped(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := s.Save(ctx, &Record{Provider: "ollama", Prompt: "p"}); err != nil {
			t.Fatalf("Save() error: %v", err)
		}
	}

	records, err := s.Recent(ctx, 3)
	if err != nil {
		t.Fatalf("Recent() error: %v", err)
	}
	if len(records) != 3 {
		t.Errorf("record count = %d, want 3", len(records))
	}

	// Zero limit uses the default.
	records, err = s.Recent(ctx, 0)
	if err != nil {
		t.Fatalf("Recent() error: %v", err)
	}
	if len(records) != 5 {
		t.Errorf("record count = %d, want 5", len(records))
	}
}

func TestCountByProvider(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, provider := range []string{"anthropic", "anthropic", "groq"} {
		if err := s.Save(ctx, &Record{Provider: provider}); err != nil {
			t.Fatalf("Save() error: %v", err)
		}
	}

	counts, err := s.CountByProvider(ctx)
	if err != nil {
		t.Fatalf("CountByProvider() error: %v", err)
	}
	if counts["anthropic"] != 2 || counts["groq"] != 1 {
		t.Errorf("counts = %v", counts)
	}
}

func TestPing(t *testing.T) {
	s := openTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error: %v", err)
	}
}
