// Package semindex is the minimal on-disk chunk index backing the
// semantic_search, open_at and smart_search tools (§4.10). It chunks source
// files by language-aware heuristics, embeds each chunk through the
// embedding providers, and answers cosine-similarity queries against a
// persisted index file.
package semindex

import "path/filepath"

// Language is the set of languages the chunker recognizes by extension,
// grounded on the original chunker's extension table.
type Language string

const (
	LangRust       Language = "rust"
	LangPython     Language = "python"
	LangJavaScript Language = "javascript"
	LangTypeScript Language = "typescript"
	LangGo         Language = "go"
	LangC          Language = "c"
	LangCpp        Language = "cpp"
	LangJava       Language = "java"
	LangRuby       Language = "ruby"
	LangUnknown    Language = "unknown"
)

// LanguageFromPath detects a chunk's language from its file extension.
func LanguageFromPath(path string) Language {
	switch filepath.Ext(path) {
	case ".rs":
		return LangRust
	case ".py":
		return LangPython
	case ".js", ".mjs", ".cjs", ".jsx":
		return LangJavaScript
	case ".ts", ".tsx":
		return LangTypeScript
	case ".go":
		return LangGo
	case ".c", ".h":
		return LangC
	case ".cpp", ".cc", ".cxx", ".hpp", ".hh", ".hxx":
		return LangCpp
	case ".java":
		return LangJava
	case ".rb":
		return LangRuby
	default:
		return LangUnknown
	}
}

// ChunkMetadata records where a chunk came from.
type ChunkMetadata struct {
	FilePath  string   `json:"file_path"`
	StartLine int      `json:"start_line"`
	EndLine   int      `json:"end_line"`
	Language  Language `json:"language"`
}

// Chunk is a chunk of source text plus its origin.
type Chunk struct {
	ID       uint64        `json:"id"`
	Content  string        `json:"content"`
	Metadata ChunkMetadata `json:"metadata"`
}

// SearchResult pairs a chunk with its query similarity score.
type SearchResult struct {
	Chunk Chunk   `json:"chunk"`
	Score float32 `json:"score"`
}

// Stats summarizes an index's contents.
type Stats struct {
	ChunkCount int `json:"chunk_count"`
	FileCount  int `json:"file_count"`
}

// Config tunes chunking and search, mirroring the original SearchConfig.
type Config struct {
	IndexDir       string
	MaxChunkLines  int
	TopK           int
	MinScore       float32
	ExcludeDirs    []string
}

// DefaultConfig matches the original's defaults (32-line chunks, top 8,
// minimum cosine score 0.15, common build/dependency directories excluded).
func DefaultConfig(indexDir string) Config {
	return Config{
		IndexDir:      indexDir,
		MaxChunkLines: 32,
		TopK:          8,
		MinScore:      0.15,
		ExcludeDirs:   []string{"target", "node_modules", ".git", "dist", "build", "__pycache__", "vendor", "index"},
	}
}
