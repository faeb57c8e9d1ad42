package memstore

import (
	"context"
	"fmt"
	"strings"
)

// injectionTypes is the fixed type bias for build_injection_context, per
// spec §4.5.
var injectionTypes = []Type{TypeAvoid, TypeMistake, TypePreference, TypeDecision}

const injectionLimit = 8
const injectionLineMax = 200

// BuildInjectionContext recalls memories biased toward
// {Avoid, Mistake, Preference, Decision} and renders them as a short,
// transient block. The caller inserts this as a system message
// immediately after the first system prompt; it is never persisted to
// the transcript or session log. Calling this twice with the same inputs
// produces byte-identical output (idempotent), since recall itself does
// not mutate store state.
func (s *Store) BuildInjectionContext(ctx context.Context, userMessage string, activePaths []string) (string, error) {
	query := userMessage
	if len(activePaths) > 0 {
		query = userMessage + " " + strings.Join(activePaths, " ")
	}

	hits, err := s.Recall(ctx, query, injectionLimit, injectionTypes)
	if err != nil {
		return "", fmt.Errorf("build injection context: %w", err)
	}
	if len(hits) == 0 {
		return "", nil
	}

	var sb strings.Builder
	sb.WriteString("\n[Memory]\n")
	for _, h := range hits {
		sb.WriteString(fmt.Sprintf("- (%s, %s): %s\n", h.Type, h.Scope, ellipsize(h.Content, injectionLineMax)))
	}
	return sb.String(), nil
}

func ellipsize(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}
