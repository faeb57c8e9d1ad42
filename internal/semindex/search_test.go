package semindex

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/jayasuryajsk/lorikeet/internal/embedding"
)

// fakeProvider returns a deterministic one-hot-ish vector so cosine search
// has a predictable winner in tests, without a real network call.
type fakeProvider struct{}

func (fakeProvider) Name() string         { return "fake" }
func (fakeProvider) DefaultModel() string { return "fake-model" }

func (fakeProvider) Embed(req embedding.EmbedRequest) (*embedding.EmbeddingResult, error) {
	embs := make([]embedding.Embedding, len(req.Texts))
	for i, t := range req.Texts {
		embs[i] = embedding.Embedding{Text: t, Index: i, Vector: vectorize(t)}
	}
	return &embedding.EmbeddingResult{Model: "fake-model", Dimensions: 3, Embeddings: embs}, nil
}

// vectorize counts occurrences of three marker words into a 3-dimension
// vector so unrelated text scores low and matching text scores high.
func vectorize(text string) []float64 {
	v := make([]float64, 3)
	markers := []string{"widget", "gadget", "gizmo"}
	for i, m := range markers {
		for j := 0; j+len(m) <= len(text); j++ {
			if text[j:j+len(m)] == m {
				v[i]++
			}
		}
	}
	for i := range v {
		v[i] += 0.01 // avoid an all-zero vector for unrelated text
	}
	return v
}

func TestIndexDirectoryAndSearch(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "widget.go"), []byte("package main\n\n// widget widget widget\nfunc DoThing() {}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "other.go"), []byte("package main\n\nfunc Other() {}\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := DefaultConfig(filepath.Join(root, "index"))
	eng, err := NewEngine(fakeProvider{}, 3, cfg)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	stats, err := eng.IndexDirectory(context.Background(), root)
	if err != nil {
		t.Fatalf("IndexDirectory: %v", err)
	}
	if stats.ChunkCount == 0 {
		t.Fatalf("expected chunks, got %+v", stats)
	}

	results, err := eng.Search(context.Background(), "widget")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) == 0 {
		t.Fatalf("expected at least one result")
	}
	if results[0].Chunk.Metadata.FilePath != "widget.go" {
		t.Fatalf("top result = %+v, want widget.go", results[0])
	}

	if !eng.IsIndexed() {
		t.Fatalf("expected IsIndexed() true after indexing")
	}
}

func TestIndexPersistence(t *testing.T) {
	root := t.TempDir()
	indexDir := filepath.Join(root, "index")
	if err := os.WriteFile(filepath.Join(root, "a.go"), []byte("package main\n\nfunc Gadget() {}\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := DefaultConfig(indexDir)
	first, err := NewEngine(fakeProvider{}, 3, cfg)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if _, err := first.IndexDirectory(context.Background(), root); err != nil {
		t.Fatalf("IndexDirectory: %v", err)
	}

	reopened, err := NewEngine(fakeProvider{}, 3, cfg)
	if err != nil {
		t.Fatalf("NewEngine (reopen): %v", err)
	}
	if !reopened.IsIndexed() {
		t.Fatalf("expected a reopened engine to load the persisted index")
	}
}

func TestOpenAt(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	content := "one\ntwo\nthree\nfour\nfive\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := OpenAt(path, 3, 1)
	if err != nil {
		t.Fatalf("OpenAt: %v", err)
	}
	if !contains(out, "> ") {
		t.Fatalf("expected a marked current line, got %q", out)
	}
}

func contains(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}
