package semindex

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/jayasuryajsk/lorikeet/internal/embedding"
)

// Engine is the semantic-search collaborator: it chunks a workspace,
// embeds the chunks through a pluggable embedding.EmbeddingProvider, and
// answers similarity queries. Grounded on the original's SemanticSearch
// struct (embedder + index + chunker + config + lazily-set project root).
type Engine struct {
	provider embedding.EmbeddingProvider
	index    *VectorIndex
	cfg      Config
	root     string
}

// NewEngine opens (or creates) the on-disk index at cfg.IndexDir.
func NewEngine(provider embedding.EmbeddingProvider, dim int, cfg Config) (*Engine, error) {
	idx, err := OpenIndex(cfg.IndexDir, dim)
	if err != nil {
		return nil, err
	}
	return &Engine{provider: provider, index: idx, cfg: cfg}, nil
}

// SetRoot records the workspace root chunk paths are stored relative to.
func (e *Engine) SetRoot(root string) { e.root = root }

// IndexDirectory walks root, chunks every text file it finds, embeds the
// chunks in batches of 32 (matching the original's batch size), and
// persists the resulting index. It clears any previous index first, so
// re-running IndexDirectory is how a caller refreshes a stale index.
func (e *Engine) IndexDirectory(ctx context.Context, root string) (Stats, error) {
	e.index.Clear()
	e.root = root

	var paths []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if e.excluded(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return Stats{}, fmt.Errorf("walk %s: %w", root, err)
	}

	var chunks []Chunk
	for _, p := range paths {
		chunks = append(chunks, e.processFile(p)...)
	}

	const batchSize = 32
	for start := 0; start < len(chunks); start += batchSize {
		if ctx.Err() != nil {
			return Stats{}, ctx.Err()
		}
		end := start + batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = fmt.Sprintf("File: %s\n\n%s", c.Metadata.FilePath, c.Content)
		}

		result, err := e.provider.Embed(embedding.EmbedRequest{Texts: texts})
		if err != nil {
			// A failed batch is skipped, matching the original's
			// best-effort indexing (a partial index beats none).
			continue
		}
		for _, emb := range result.Embeddings {
			if emb.Index < 0 || emb.Index >= len(batch) {
				continue
			}
			e.index.Add(batch[emb.Index].Metadata, emb.Vector)
		}
	}

	if err := e.index.Save(); err != nil {
		return Stats{}, err
	}
	return e.index.Stats(), nil
}

func (e *Engine) excluded(name string) bool {
	for _, d := range e.cfg.ExcludeDirs {
		if name == d {
			return true
		}
	}
	return false
}

func (e *Engine) processFile(path string) []Chunk {
	data, err := os.ReadFile(path)
	if err != nil || !utf8.Valid(data) {
		return nil
	}
	rel := path
	if e.root != "" {
		if r, err := filepath.Rel(e.root, path); err == nil {
			rel = r
		}
	}
	lang := LanguageFromPath(path)
	chunks := chunkFile(string(data), rel, lang, e.cfg.MaxChunkLines)
	for i := range chunks {
		chunks[i].ID = 0 // assigned by VectorIndex.Add
	}
	return chunks
}

// Search embeds query and returns the closest stored chunks above
// cfg.MinScore, highest score first.
func (e *Engine) Search(ctx context.Context, query string) ([]SearchResult, error) {
	if e.index.IsEmpty() {
		return nil, nil
	}
	result, err := e.provider.Embed(embedding.EmbedRequest{Texts: []string{query}})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(result.Embeddings) == 0 {
		return nil, fmt.Errorf("embedding provider returned no vectors")
	}
	qvec := result.Embeddings[0].Vector

	hits := e.index.Search(qvec, e.cfg.TopK)
	out := make([]SearchResult, 0, len(hits))
	for _, h := range hits {
		if h.score < e.cfg.MinScore {
			continue
		}
		meta, ok := e.index.Metadata(h.id)
		if !ok {
			continue
		}
		content, err := e.readChunkContent(meta)
		if err != nil {
			continue
		}
		out = append(out, SearchResult{
			Chunk: Chunk{ID: h.id, Content: content, Metadata: meta},
			Score: h.score,
		})
	}
	return out, nil
}

func (e *Engine) readChunkContent(meta ChunkMetadata) (string, error) {
	path := meta.FilePath
	if !filepath.IsAbs(path) && e.root != "" {
		path = filepath.Join(e.root, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	lines := strings.Split(string(data), "\n")
	start := meta.StartLine - 1
	if start < 0 {
		start = 0
	}
	end := meta.EndLine
	if end > len(lines) {
		end = len(lines)
	}
	if start >= len(lines) {
		return "", nil
	}
	return strings.Join(lines[start:end], "\n"), nil
}

// IsIndexed reports whether the index currently holds any chunks.
func (e *Engine) IsIndexed() bool { return !e.index.IsEmpty() }

// Stats reports the current index size.
func (e *Engine) Stats() Stats { return e.index.Stats() }

// OpenAt reads contextLines before and after line (1-indexed) in path and
// renders it with line-number gutters, backing the open_at tool.
func OpenAt(path string, line, contextLines int) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	if contextLines <= 0 {
		contextLines = 10
	}
	lines := strings.Split(string(data), "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	if line < 1 {
		line = 1
	}
	start := line - contextLines - 1
	if start < 0 {
		start = 0
	}
	end := line + contextLines
	if end > len(lines) {
		end = len(lines)
	}
	if start >= len(lines) {
		return fmt.Sprintf("%s has %d lines; line %d is out of range", path, len(lines), line), nil
	}

	var b strings.Builder
	for i := start; i < end; i++ {
		marker := "  "
		if i+1 == line {
			marker = "> "
		}
		fmt.Fprintf(&b, "%s%5d| %s\n", marker, i+1, lines[i])
	}
	return b.String(), nil
}
