package memstore

import (
	"context"
	"fmt"
	"strings"
)

// Extractor watches tool completions and user messages for durable facts
// worth remembering, per spec §4.5's automatic extraction rules. It keeps
// just enough per-session state to rate-limit duplicate signatures.
type Extractor struct {
	store             *Store
	projectID         string
	lastFailureSig    string
	seenSignatures    map[string]struct{}
}

// NewExtractor returns an Extractor bound to store for the given project.
func NewExtractor(store *Store, projectID string) *Extractor {
	return &Extractor{store: store, projectID: projectID, seenSignatures: make(map[string]struct{})}
}

// OnToolFailure stores a single Mistake memory for a failed tool
// invocation, suppressing repeats of the same (tool, target) signature.
func (e *Extractor) OnToolFailure(ctx context.Context, tool, target, errMsg string) error {
	sig := tool + "|" + target
	if sig == e.lastFailureSig {
		return nil
	}
	e.lastFailureSig = sig

	firstLine := errMsg
	if idx := strings.IndexByte(errMsg, '\n'); idx >= 0 {
		firstLine = errMsg[:idx]
	}

	content := fmt.Sprintf("Tool failure: %s\nTarget: %s\nError: %s\nNext time: verify the target before retrying", tool, target, firstLine)
	_, err := e.store.Insert(ctx, Memory{
		ProjectID: e.projectID,
		Scope:     ScopeProject,
		Type:      TypeMistake,
		Content:   content,
		Tags:      []string{"tool_failure"},
		Source:    SourceTool,
		Confidence: 1.0,
	})
	return err
}

var (
	avoidPhrases = []string{"don't", "do not", "never"}
	avoidStarts  = []string{"no", "nah", "nope"}
	preferPhrases = []string{"i prefer", "prefer", "i want"}
)

// OnUserMessage scans a lowercased user message for Avoid/Preference
// patterns and stores a memory when one is found. prevAssistant supplies
// context for the "no/nah/nope" case.
func (e *Extractor) OnUserMessage(ctx context.Context, message, prevAssistant string) error {
	lower := strings.ToLower(strings.TrimSpace(message))
	if lower == "" {
		return nil
	}

	var (
		memType Type
		context string
	)

	switch {
	case startsWithAny(lower, avoidStarts):
		memType = TypeAvoid
		context = prevAssistant
	case containsAny(lower, avoidPhrases):
		memType = TypeAvoid
	case containsAny(lower, preferPhrases):
		memType = TypePreference
	default:
		return nil
	}

	sig := string(memType) + "|" + lower
	if _, seen := e.seenSignatures[sig]; seen {
		return nil
	}
	e.seenSignatures[sig] = struct{}{}

	_, err := e.store.Insert(ctx, Memory{
		ProjectID:  e.projectID,
		Scope:      ScopeProject,
		Type:       memType,
		Content:    message,
		Context:    context,
		Source:     SourceUser,
		Confidence: 0.9,
	})
	return err
}

func startsWithAny(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// ExtractedMemory is one candidate surfaced by the optional turn-end LLM
// extraction pass, before persistence.
type ExtractedMemory struct {
	Type       Type     `json:"type"`
	Content    string   `json:"content"`
	Why        string   `json:"why,omitempty"`
	Context    string   `json:"context,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	Confidence float64  `json:"confidence"`
	Importance float64  `json:"importance"`
}

// TurnEndExtractionPrompt is the fixed system prompt sent to the
// non-streaming LLM helper at turn end, per spec §4.5.
const TurnEndExtractionPrompt = `extract up to 5 durable memories as JSON {memories:[{type, content, why?, context?, tags?, confidence, importance}]}`

// PersistExtracted drops low-confidence/low-importance candidates and
// persists the rest with source "llm".
func (e *Extractor) PersistExtracted(ctx context.Context, candidates []ExtractedMemory) (int, error) {
	stored := 0
	for _, c := range candidates {
		if c.Confidence < 0.60 || c.Importance < 0.30 {
			continue
		}
		_, err := e.store.Insert(ctx, Memory{
			ProjectID:  e.projectID,
			Scope:      ScopeProject,
			Type:       c.Type,
			Content:    c.Content,
			Why:        c.Why,
			Context:    c.Context,
			Tags:       c.Tags,
			Source:     SourceLLM,
			Confidence: c.Confidence,
			Importance: c.Importance,
		})
		if err != nil {
			return stored, err
		}
		stored++
	}
	return stored, nil
}
