// Package memstore is the per-project durable memory store described in
// spec §3/§4.5: typed memories with hybrid keyword+vector recall, secret
// redaction on insert, and automatic extraction from tool failures and
// user messages.
package memstore

import "time"

// Scope distinguishes memories bound to one project from ones that apply
// everywhere.
type Scope string

const (
	ScopeProject Scope = "project"
	ScopeGlobal  Scope = "global"
)

// Type is the kind of durable fact a Memory records.
type Type string

const (
	TypeMistake    Type = "mistake"
	TypeAvoid      Type = "avoid"
	TypePreference Type = "preference"
	TypeDecision   Type = "decision"
	TypeFact       Type = "fact"
)

// Source identifies what produced a Memory.
type Source string

const (
	SourceTool Source = "tool"
	SourceUser Source = "user"
	SourceLLM  Source = "llm"
)

// DefaultImportance gives the starting importance for a freshly extracted
// memory, keyed by Type, per spec §3.
var DefaultImportance = map[Type]float64{
	TypeAvoid:      0.95,
	TypeMistake:    0.85,
	TypePreference: 0.80,
	TypeDecision:   0.75,
	TypeFact:       0.60,
}

const MaxContentBytes = 2000

// Memory is one durable, typed fact about a project or the user's
// preferences, recalled into future prompts.
type Memory struct {
	ID         string
	ProjectID  string
	Scope      Scope
	Type       Type
	Content    string
	Why        string
	Context    string
	Tags       []string
	Source     Source
	Confidence float64
	Importance float64
	UseCount   int
	CreatedAt  time.Time
	LastUsed   time.Time
	SourceFile string
	Embedding  []float64
}

// Scored pairs a Memory with its recall relevance score.
type Scored struct {
	Memory
	Score float64
}
