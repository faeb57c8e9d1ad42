package semindex

import "strings"

// chunkFile splits content into overlap-free line chunks of at most
// maxLines lines each. The original chunker prefers AST-aware chunking and
// falls back to line-based chunking; the Go stack has no tree-sitter
// binding in the examples, so this always takes the fallback path, grounded
// on the original's chunk_by_lines behavior.
func chunkFile(content, relPath string, lang Language, maxLines int) []Chunk {
	if maxLines <= 0 {
		maxLines = 32
	}
	lines := strings.Split(content, "\n")
	// Trailing empty line from a final "\n" isn't a real line.
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	if len(lines) == 0 {
		return nil
	}

	var chunks []Chunk
	for start := 0; start < len(lines); start += maxLines {
		end := start + maxLines
		if end > len(lines) {
			end = len(lines)
		}
		body := strings.Join(lines[start:end], "\n")
		if strings.TrimSpace(body) == "" {
			continue
		}
		chunks = append(chunks, Chunk{
			Content: body,
			Metadata: ChunkMetadata{
				FilePath:  relPath,
				StartLine: start + 1,
				EndLine:   end,
				Language:  lang,
			},
		})
	}
	return chunks
}
