package sessionlog

import "strings"

// Message is the replayed, in-memory form of a MessageEvent.
type Message struct {
	Role       Role
	Content    string
	Reasoning  string
	ToolCallID string
	ToolCalls  []ToolCallRef
	TurnID     uint64
}

// ToolInvocation is the replayed, in-memory form of a ToolEvent: a
// finished invocation, since only completed tools are ever persisted.
type ToolInvocation struct {
	CallID    string
	Tool      string
	Target    string
	Output    string
	Status    ToolStatus
	ElapsedMs int64
	TurnID    uint64
	GroupID   uint64
}

// RecentFile is one filesystem target touched by a read/write/edit tool,
// most-recent first after Replay.
type RecentFile struct {
	Path string
	Tool string
}

// ReplayState is everything a resumed Turn Engine needs to pick up
// exactly where a session file left off.
type ReplayState struct {
	SessionID        string
	ProjectID        string
	Messages         []Message
	ToolInvocations  []ToolInvocation
	NextTurnID       uint64
	NextToolGroupID  uint64
	CallIDToGroupID  map[string]uint64
	RecentFiles      []RecentFile
}

var fileTargetTools = map[string]struct{}{
	"read_file":  {},
	"write_file": {},
	"edit_file":  {},
}

// Replay reconstructs messages and tool invocations purely from events,
// per spec §4.6: turn ids are assigned by counting user messages, and
// every tool event within a turn shares one group id, incrementing only
// when a new LLM round (a fresh assistant message carrying tool_calls)
// starts within that turn.
func Replay(events []Event) ReplayState {
	state := ReplayState{
		NextTurnID:      1,
		NextToolGroupID: 1,
		CallIDToGroupID: make(map[string]uint64),
	}

	var turnID uint64
	var groupID uint64
	sawToolCallsThisRound := false

	for _, ev := range events {
		switch ev.Type {
		case EventMeta:
			if ev.Meta != nil {
				state.SessionID = ev.Meta.SessionID
				state.ProjectID = ev.Meta.ProjectID
			}

		case EventMessage:
			if ev.Message == nil {
				continue
			}
			m := *ev.Message
			if m.Role == RoleUser {
				turnID++
				sawToolCallsThisRound = false
			}
			if m.Role == RoleAssistant && len(m.ToolCalls) > 0 && !sawToolCallsThisRound {
				groupID++
				sawToolCallsThisRound = true
				for _, tc := range m.ToolCalls {
					state.CallIDToGroupID[tc.ID] = groupID
				}
			}
			state.Messages = append(state.Messages, Message{
				Role:       m.Role,
				Content:    m.Content,
				Reasoning:  m.Reasoning,
				ToolCallID: m.ToolCallID,
				ToolCalls:  m.ToolCalls,
				TurnID:     turnID,
			})

		case EventTool:
			if ev.Tool == nil {
				continue
			}
			t := *ev.Tool
			sawToolCallsThisRound = false
			gid := groupID
			if g, ok := state.CallIDToGroupID[t.CallID]; ok {
				gid = g
			}
			state.ToolInvocations = append(state.ToolInvocations, ToolInvocation{
				CallID:    t.CallID,
				Tool:      t.Tool,
				Target:    t.Target,
				Output:    t.Output,
				Status:    t.Status,
				ElapsedMs: t.ElapsedMs,
				TurnID:    turnID,
				GroupID:   gid,
			})
			if _, ok := fileTargetTools[t.Tool]; ok && t.Target != "" {
				state.RecentFiles = append([]RecentFile{{Path: t.Target, Tool: t.Tool}}, state.RecentFiles...)
			}
		}
	}

	state.NextTurnID = turnID + 1
	state.NextToolGroupID = groupID + 1
	dedupeRecentFiles(&state.RecentFiles)
	return state
}

func dedupeRecentFiles(files *[]RecentFile) {
	seen := make(map[string]struct{}, len(*files))
	out := (*files)[:0]
	for _, f := range *files {
		key := strings.ToLower(f.Path)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, f)
	}
	*files = out
}
