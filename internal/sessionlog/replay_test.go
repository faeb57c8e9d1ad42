package sessionlog

import (
	"path/filepath"
	"testing"
)

func TestInitFileThenRecordAndReplay(t *testing.T) {
	configHome := t.TempDir()
	workspace := t.TempDir()

	store, err := InitFile(configHome, workspace, "")
	if err != nil {
		t.Fatalf("InitFile: %v", err)
	}

	if err := store.RecordMessage(MessageEvent{Role: RoleUser, Content: "hi"}); err != nil {
		t.Fatalf("RecordMessage user: %v", err)
	}
	if err := store.RecordMessage(MessageEvent{Role: RoleAssistant, Content: "ok"}); err != nil {
		t.Fatalf("RecordMessage assistant: %v", err)
	}
	if err := store.RecordTool(ToolEvent{Tool: "bash", Target: "echo a", Output: "a\n", Status: ToolSuccess, ElapsedMs: 12}); err != nil {
		t.Fatalf("RecordTool: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	events, err := LoadEvents(store.Path())
	if err != nil {
		t.Fatalf("LoadEvents: %v", err)
	}
	if len(events) != 4 {
		t.Fatalf("expected 4 events (meta+2 messages+1 tool), got %d", len(events))
	}

	state := Replay(events)
	if len(state.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(state.Messages))
	}
	if len(state.ToolInvocations) != 1 {
		t.Fatalf("expected 1 tool invocation, got %d", len(state.ToolInvocations))
	}
	if state.ToolInvocations[0].TurnID != 1 {
		t.Errorf("expected turn_id=1, got %d", state.ToolInvocations[0].TurnID)
	}
	if state.NextTurnID != 2 {
		t.Errorf("expected next turn_id=2, got %d", state.NextTurnID)
	}
	if state.NextToolGroupID < 1 {
		t.Errorf("expected next group id >= 1, got %d", state.NextToolGroupID)
	}
}

func TestReplayAssignsFreshGroupPerToolCallRound(t *testing.T) {
	events := []Event{
		NewMetaEvent("s1", "p1"),
		NewMessageEvent(MessageEvent{Role: RoleUser, Content: "do thing"}),
		NewMessageEvent(MessageEvent{Role: RoleAssistant, ToolCalls: []ToolCallRef{{ID: "c1", Name: "bash", Arguments: "{}"}}}),
		NewToolEvent(ToolEvent{Tool: "bash", CallID: "c1", Status: ToolSuccess}),
		NewMessageEvent(MessageEvent{Role: RoleAssistant, ToolCalls: []ToolCallRef{{ID: "c2", Name: "bash", Arguments: "{}"}}}),
		NewToolEvent(ToolEvent{Tool: "bash", CallID: "c2", Status: ToolSuccess}),
		NewMessageEvent(MessageEvent{Role: RoleAssistant, Content: "done"}),
	}

	state := Replay(events)
	if len(state.ToolInvocations) != 2 {
		t.Fatalf("expected 2 tool invocations, got %d", len(state.ToolInvocations))
	}
	if state.ToolInvocations[0].GroupID == state.ToolInvocations[1].GroupID {
		t.Error("expected distinct group ids for two separate tool-call rounds in one turn")
	}
	if state.NextToolGroupID <= state.ToolInvocations[1].GroupID {
		t.Errorf("expected NextToolGroupID to exceed max observed group id, got %d", state.NextToolGroupID)
	}
}

func TestReplayRecentFilesMostRecentFirstDeduped(t *testing.T) {
	events := []Event{
		NewMetaEvent("s1", "p1"),
		NewMessageEvent(MessageEvent{Role: RoleUser, Content: "edit stuff"}),
		NewToolEvent(ToolEvent{Tool: "read_file", Target: "a.go", Status: ToolSuccess}),
		NewToolEvent(ToolEvent{Tool: "edit_file", Target: "b.go", Status: ToolSuccess}),
		NewToolEvent(ToolEvent{Tool: "read_file", Target: "a.go", Status: ToolSuccess}),
	}

	state := Replay(events)
	if len(state.RecentFiles) != 2 {
		t.Fatalf("expected 2 deduped recent files, got %d: %+v", len(state.RecentFiles), state.RecentFiles)
	}
	if state.RecentFiles[0].Path != "a.go" {
		t.Errorf("expected most-recently-touched file first, got %q", state.RecentFiles[0].Path)
	}
}

func TestOpenLatestResumesSameFile(t *testing.T) {
	configHome := t.TempDir()
	workspace := t.TempDir()

	store, err := InitFile(configHome, workspace, "")
	if err != nil {
		t.Fatalf("InitFile: %v", err)
	}
	_ = store.RecordMessage(MessageEvent{Role: RoleUser, Content: "hi"})
	store.Close()

	resumed, err := OpenLatest(configHome, workspace)
	if err != nil {
		t.Fatalf("OpenLatest: %v", err)
	}
	if resumed.SessionID() != store.SessionID() {
		t.Errorf("expected same session id, got %q vs %q", resumed.SessionID(), store.SessionID())
	}
	if filepath.Base(resumed.Path()) != filepath.Base(store.Path()) {
		t.Errorf("expected same file, got %q vs %q", resumed.Path(), store.Path())
	}
	_ = resumed.RecordMessage(MessageEvent{Role: RoleAssistant, Content: "resumed"})
	resumed.Close()

	events, err := LoadEvents(store.Path())
	if err != nil {
		t.Fatalf("LoadEvents: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected meta + 2 messages after resume, got %d", len(events))
	}
}

func TestProjectHashStableForSamePath(t *testing.T) {
	a := ProjectHash("/tmp/workspace")
	b := ProjectHash("/tmp/workspace")
	if a != b {
		t.Errorf("expected stable hash, got %q vs %q", a, b)
	}
	c := ProjectHash("/tmp/other")
	if a == c {
		t.Error("expected distinct hashes for distinct workspaces")
	}
}
