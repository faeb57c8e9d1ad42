// Package turnengine is the central state machine described in spec §4.7:
// it drives one user turn from submission through arbitrarily many
// model↔tool exchanges to a final assistant message, applying the loop
// guard and cancellation, and emitting every state mutation onto the
// event bus.
package turnengine

import (
	"strconv"
	"time"

	"github.com/jayasuryajsk/lorikeet/internal/llmclient"
	"github.com/jayasuryajsk/lorikeet/internal/sandbox"
	"github.com/jayasuryajsk/lorikeet/internal/toolexec"
)

// State is one of the four states the engine's per-turn state machine can
// occupy, per spec §4.7.
type State string

const (
	StateIdle          State = "idle"
	StateAwaitingLLM    State = "awaiting_llm"
	StateAwaitingTools  State = "awaiting_tools"
	StateLoopAborted    State = "loop_aborted"
)

// loopGuardThreshold is the number of failures sharing one (turn, tool,
// target) signature that aborts a turn, per spec §4.7/§8 property 5.
const loopGuardThreshold = 3

// Message is the in-memory transcript entry, mirroring spec §3's Message
// data model. tool_group_id is tracked on the engine's Turn record rather
// than per message, matching the spec's Turn shape.
type Message struct {
	Role       llmclient.Role
	Content    string
	Reasoning  string
	ToolCallID string
	ToolCalls  []llmclient.ToolCall
	TurnID     uint64
}

// InvocationStatus mirrors spec §3's ToolInvocation.status.
type InvocationStatus string

const (
	StatusRunning InvocationStatus = "running"
	StatusSuccess InvocationStatus = "success"
	StatusError   InvocationStatus = "error"
)

// ToolInvocation is the runtime record described in spec §3: created on
// ToolStart, mutated by ToolOutput, finalized exactly once by
// ToolComplete. status == Running iff EndTime is nil.
type ToolInvocation struct {
	CallID      string
	Tool        string
	ArgsRaw     string
	ArgsSummary string
	Decision    sandbox.Decision
	TurnID      uint64
	GroupID     uint64
	Status      InvocationStatus
	StartTime   time.Time
	EndTime     *time.Time
	Output      string
	Buffer      *toolexec.OutputBuffer
}

// Turn is the per-user-message bookkeeping record from spec §3.
type Turn struct {
	TurnID          uint64
	UserMessage     string
	ToolGroupIDs    []uint64
	StartIdxInTools int
}

// failureKey is the loop-guard signature: one counter per
// (turn_id, "{tool}|{target}") per spec §4.7.
func failureKey(turnID uint64, tool, target string) string {
	return toolTargetSig(tool, target) + "@" + strconv.FormatUint(turnID, 10)
}

func toolTargetSig(tool, target string) string { return tool + "|" + target }
