package lsp

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FormatLocations renders locs as "path:line:col  snippet" lines, capped at
// limit entries, matching the original's format_locations_with_snippets.
// Callers are expected to have already sandbox-checked each location's
// path; a path that fails to read is still listed, with an empty snippet,
// rather than erroring the whole result.
func FormatLocations(root string, locs []Location, limit int) string {
	var b strings.Builder
	n := 0
	for _, loc := range locs {
		if n >= limit {
			break
		}
		rel := loc.Path
		if r, err := filepath.Rel(root, loc.Path); err == nil {
			rel = r
		}
		snippet := readLine(loc.Path, loc.Line)
		fmt.Fprintf(&b, "%s:%d:%d  %s\n", rel, loc.Line, loc.Col, truncateLine(snippet, 180))
		n++
	}
	if strings.TrimSpace(b.String()) == "" {
		return "No results."
	}
	return b.String()
}

func readLine(path string, line1 int) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	n := 0
	for scanner.Scan() {
		n++
		if n == line1 {
			return strings.TrimSpace(scanner.Text())
		}
	}
	return ""
}

func truncateLine(s string, max int) string {
	s = strings.TrimSpace(strings.ReplaceAll(s, "\t", " "))
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
