// Package eventbus carries typed events from producer goroutines (the LLM
// stream, each tool invocation) to the single state-owning consumer. There
// is one channel per Bus; delivery order per producer is FIFO because
// Go channels preserve send order for a single sender.
package eventbus

import "github.com/jayasuryajsk/lorikeet/internal/sandbox"

// Kind discriminates the Event union.
type Kind string

const (
	KindAgentChunk        Kind = "agent_chunk"
	KindAgentReasoning    Kind = "agent_reasoning"
	KindAgentDone         Kind = "agent_done"
	KindAgentToolCalls    Kind = "agent_tool_calls"
	KindAgentError        Kind = "agent_error"
	KindToolStart         Kind = "tool_start"
	KindToolOutput        Kind = "tool_output"
	KindToolComplete      Kind = "tool_complete"
	KindToolResultsReady  Kind = "tool_results_ready"
	KindIndexingStarted   Kind = "indexing_started"
	KindIndexingProgress  Kind = "indexing_progress"
	KindIndexingComplete  Kind = "indexing_complete"
	KindIndexingError     Kind = "indexing_error"
)

// ToolCallRequest is one model-requested tool invocation, mirroring the
// spec's ToolCall data model.
type ToolCallRequest struct {
	ID        string
	Name      string
	Arguments string // raw JSON
}

// ToolResult pairs a call id with the text returned to the model.
type ToolResult struct {
	CallID string
	Output string
	Status string // "success" | "error"
}

// ToolStartEvent is emitted exactly once per tool invocation, before any
// ToolOutputEvent for the same CallID.
type ToolStartEvent struct {
	CallID   string
	Tool     string
	Target   string
	Decision sandbox.Decision
}

// ToolOutputEvent carries one streamed chunk of a running invocation.
type ToolOutputEvent struct {
	CallID string
	Chunk  string
}

// ToolCompleteEvent is emitted exactly once per invocation, after every
// ToolOutputEvent for the same CallID.
type ToolCompleteEvent struct {
	CallID  string
	Success bool
}

// Event is the single typed union carried by the bus.
type Event struct {
	Kind Kind

	AgentChunk     string
	AgentReasoning string
	AgentError     string
	ToolCalls      []ToolCallRequest
	ToolResults    []ToolResult

	ToolStart    *ToolStartEvent
	ToolOutput   *ToolOutputEvent
	ToolComplete *ToolCompleteEvent

	IndexDone  int
	IndexTotal int
	IndexChunk int
	IndexFiles int
	IndexError string
}

// Bus is a single buffered channel of Event. One consumer drains it and
// owns all mutable state; any number of producer goroutines send to it.
type Bus struct {
	ch chan Event
}

// New creates a Bus with the given channel capacity. A capacity of 0
// makes every send synchronous with a receive, which is fine for tests;
// production code should size it to avoid producer stalls.
func New(capacity int) *Bus {
	return &Bus{ch: make(chan Event, capacity)}
}

// Send enqueues ev. Safe to call from any goroutine.
func (b *Bus) Send(ev Event) { b.ch <- ev }

// Events exposes the receive-only channel for the consumer loop.
func (b *Bus) Events() <-chan Event { return b.ch }

// Close signals no more events will be sent. Only the owner that knows
// all producers have finished should call this.
func (b *Bus) Close() { close(b.ch) }

// Convenience constructors, matching the literal event sequence every
// tool invocation must emit per the executor contract.

func ToolStart(callID, tool, target string, decision sandbox.Decision) Event {
	return Event{Kind: KindToolStart, ToolStart: &ToolStartEvent{CallID: callID, Tool: tool, Target: target, Decision: decision}}
}

func ToolOutput(callID, chunk string) Event {
	return Event{Kind: KindToolOutput, ToolOutput: &ToolOutputEvent{CallID: callID, Chunk: chunk}}
}

func ToolComplete(callID string, success bool) Event {
	return Event{Kind: KindToolComplete, ToolComplete: &ToolCompleteEvent{CallID: callID, Success: success}}
}

func ToolResultsReady(results []ToolResult) Event {
	return Event{Kind: KindToolResultsReady, ToolResults: results}
}

func AgentChunk(text string) Event     { return Event{Kind: KindAgentChunk, AgentChunk: text} }
func AgentReasoning(text string) Event { return Event{Kind: KindAgentReasoning, AgentReasoning: text} }
func AgentDone() Event                 { return Event{Kind: KindAgentDone} }
func AgentToolCalls(calls []ToolCallRequest) Event {
	return Event{Kind: KindAgentToolCalls, ToolCalls: calls}
}
func AgentError(msg string) Event { return Event{Kind: KindAgentError, AgentError: msg} }
