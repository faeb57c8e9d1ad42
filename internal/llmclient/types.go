// Package llmclient is the streaming adapter over the two upstream wire
// dialects described in spec §4.4: a Chat-Completions-style SSE protocol
// and a Responses-style SSE protocol. Both assemble deltas into content,
// reasoning, and tool-call events behind one Provider interface.
package llmclient

import (
	"context"
	"encoding/json"
)

// Role identifies a message role, mirroring spec §3's Message.role.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a model-requested tool invocation.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // raw JSON object
}

// Message is one turn of conversation history sent to the upstream model.
type Message struct {
	Role       Role
	Content    string
	Reasoning  string
	ToolCallID string // set on RoleTool messages; must match a prior ToolCall.ID
	ToolCalls  []ToolCall
}

// ToolSpec describes one callable tool: name, one-line description, and
// its JSON-schema parameters object.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ToolChoice controls whether/which tool the model must call.
type ToolChoice string

const (
	ToolChoiceAuto ToolChoice = "auto"
	ToolChoiceNone ToolChoice = "none"
)

// Request is a single streaming round: the full message history plus the
// tool surface available for this call.
type Request struct {
	Model           string
	Messages        []Message
	Tools           []ToolSpec
	ToolChoice      ToolChoice
	ReasoningEffort string
}

// EventKind discriminates the streaming Event union emitted per spec §2's
// control flow (content/reasoning deltas, then either AgentToolCalls or
// AgentDone).
type EventKind string

const (
	EventAgentChunk     EventKind = "agent_chunk"
	EventAgentReasoning EventKind = "agent_reasoning"
	EventAgentToolCalls EventKind = "agent_tool_calls"
	EventAgentDone      EventKind = "agent_done"
	EventAgentError     EventKind = "agent_error"
)

// Event is one streamed update from a Provider.
type Event struct {
	Kind      EventKind
	Text      string
	ToolCalls []ToolCall
	Err       error
}

// Stream yields Events until a terminal AgentDone/AgentToolCalls/AgentError.
type Stream interface {
	Recv() (Event, error) // returns (Event{}, io.EOF) once the stream is exhausted
	Close() error
}

// Provider is one upstream model endpoint, speaking one of the two
// dialects.
type Provider interface {
	Name() string
	Dialect() Dialect
	Stream(ctx context.Context, req Request) (Stream, error)
	// Complete is the non-streaming helper used for memory extraction; it
	// returns the assistant's full text content.
	Complete(ctx context.Context, req Request) (string, error)
}

// Dialect identifies which wire protocol a Provider speaks.
type Dialect string

const (
	DialectChatCompletions Dialect = "chat_completions"
	DialectResponses       Dialect = "responses"
)

func marshalArguments(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}
