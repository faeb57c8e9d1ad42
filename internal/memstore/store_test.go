package memstore

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "memory.db")
	s, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInsertRedactsSecretsAndSetsDefaultImportance(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m, err := s.Insert(ctx, Memory{
		ProjectID: "p1",
		Scope:     ScopeProject,
		Type:      TypeFact,
		Content:   "api_key: sk-abcdefghijklmno and secret=hunter2",
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if strings.Contains(m.Content, "hunter2") || strings.Contains(m.Content, "sk-abcdefghijklmno") {
		t.Errorf("expected secrets redacted, got %q", m.Content)
	}
	if m.Importance != DefaultImportance[TypeFact] {
		t.Errorf("expected default importance for fact, got %v", m.Importance)
	}
}

func TestInsertTruncatesLongContent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	long := strings.Repeat("a", MaxContentBytes+500)
	m, err := s.Insert(ctx, Memory{ProjectID: "p1", Type: TypeFact, Content: long})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if len(m.Content) != MaxContentBytes {
		t.Errorf("expected content capped at %d bytes, got %d", MaxContentBytes, len(m.Content))
	}
}

func TestRecallKeywordMatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Insert(ctx, Memory{ProjectID: "p1", Type: TypeAvoid, Content: "never use panic in handlers"}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if _, err := s.Insert(ctx, Memory{ProjectID: "p1", Type: TypeFact, Content: "the service runs on port 8080"}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	hits, err := s.Recall(ctx, "panic", 10, nil)
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected 1 keyword hit, got %d", len(hits))
	}
	if !strings.Contains(hits[0].Content, "panic") {
		t.Errorf("expected matched memory, got %q", hits[0].Content)
	}
}

func TestListOrdersByImportanceThenLastUsed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, _ = s.Insert(ctx, Memory{ProjectID: "p1", Type: TypeFact, Content: "low importance"})
	_, _ = s.Insert(ctx, Memory{ProjectID: "p1", Type: TypeAvoid, Content: "high importance"})

	list, err := s.List(ctx, 10, nil)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 memories, got %d", len(list))
	}
	if list[0].Type != TypeAvoid {
		t.Errorf("expected avoid (importance 0.95) first, got %s", list[0].Type)
	}
}

func TestMarkUsedThenDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m, err := s.Insert(ctx, Memory{ProjectID: "p1", Type: TypeFact, Content: "something worth remembering"})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	if err := s.MarkUsed(ctx, []string{m.ID}); err != nil {
		t.Fatalf("MarkUsed: %v", err)
	}

	list, err := s.List(ctx, 10, nil)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if list[0].UseCount != 1 {
		t.Errorf("expected use_count=1 after MarkUsed, got %d", list[0].UseCount)
	}

	if err := s.Delete(ctx, m.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	list, err = s.List(ctx, 10, nil)
	if err != nil {
		t.Fatalf("List after delete: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("expected memory removed, got %d remaining", len(list))
	}
}

func TestExtractorSuppressesDuplicateFailureSignature(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	e := NewExtractor(s, "p1")

	if err := e.OnToolFailure(ctx, "bash", "rm missing.txt", "No such file or directory"); err != nil {
		t.Fatalf("OnToolFailure: %v", err)
	}
	if err := e.OnToolFailure(ctx, "bash", "rm missing.txt", "No such file or directory"); err != nil {
		t.Fatalf("OnToolFailure (repeat): %v", err)
	}

	list, err := s.List(ctx, 10, []Type{TypeMistake})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected duplicate failure suppressed, got %d mistake memories", len(list))
	}
}

func TestExtractorStoresAvoidAndPreference(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	e := NewExtractor(s, "p1")

	if err := e.OnUserMessage(ctx, "Don't ever commit directly to main", ""); err != nil {
		t.Fatalf("OnUserMessage avoid: %v", err)
	}
	if err := e.OnUserMessage(ctx, "I prefer tabs over spaces", ""); err != nil {
		t.Fatalf("OnUserMessage preference: %v", err)
	}

	avoid, _ := s.List(ctx, 10, []Type{TypeAvoid})
	pref, _ := s.List(ctx, 10, []Type{TypePreference})
	if len(avoid) != 1 {
		t.Errorf("expected 1 avoid memory, got %d", len(avoid))
	}
	if len(pref) != 1 {
		t.Errorf("expected 1 preference memory, got %d", len(pref))
	}
}

func TestBuildInjectionContextFormat(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Insert(ctx, Memory{ProjectID: "p1", Type: TypeAvoid, Content: "never force-push to main"}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	block, err := s.BuildInjectionContext(ctx, "force", nil)
	if err != nil {
		t.Fatalf("BuildInjectionContext: %v", err)
	}
	if !strings.HasPrefix(block, "\n[Memory]\n") {
		t.Errorf("expected block to start with memory header, got %q", block)
	}
	if !strings.Contains(block, "(avoid, project)") {
		t.Errorf("expected rendered type/scope, got %q", block)
	}
}

func TestBuildInjectionContextIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, _ = s.Insert(ctx, Memory{ProjectID: "p1", Type: TypeDecision, Content: "use postgres for storage"})

	first, err := s.BuildInjectionContext(ctx, "storage", nil)
	if err != nil {
		t.Fatalf("BuildInjectionContext: %v", err)
	}
	second, err := s.BuildInjectionContext(ctx, "storage", nil)
	if err != nil {
		t.Fatalf("BuildInjectionContext (second): %v", err)
	}
	if first != second {
		t.Errorf("expected idempotent output, got %q vs %q", first, second)
	}
}
