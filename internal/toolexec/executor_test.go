package toolexec

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/jayasuryajsk/lorikeet/internal/eventbus"
	"github.com/jayasuryajsk/lorikeet/internal/sandbox"
)

func newTestExecutor(t *testing.T, root string) (*Executor, *eventbus.Bus) {
	t.Helper()
	policy := sandbox.FromConfig(sandbox.Config{Root: root, AllowCommands: []string{"echo", "printf"}}, root,
		[]string{"bash", "rg", "read_file", "write_file", "list_files", "edit_file"})
	bus := eventbus.New(256)
	return New(policy, bus), bus
}

func drain(bus *eventbus.Bus) []eventbus.Event {
	var events []eventbus.Event
	for {
		select {
		case ev := <-bus.Events():
			events = append(events, ev)
		default:
			return events
		}
	}
}

func TestExecuteBashEchoesOutputAndExitMarker(t *testing.T) {
	root := t.TempDir()
	e, bus := newTestExecutor(t, root)

	args, _ := json.Marshal(map[string]string{"command": "echo hello"})
	result, success := e.Execute(context.Background(), "bash", string(args), "call-1")

	if !success {
		t.Fatalf("expected success, got failure: %s", result)
	}
	if !contains(result, "hello") {
		t.Errorf("expected output to contain hello, got %q", result)
	}
	if !contains(result, "[exit] 0") {
		t.Errorf("expected exit marker, got %q", result)
	}

	events := drain(bus)
	if len(events) < 2 {
		t.Fatalf("expected at least ToolStart+ToolComplete, got %d events", len(events))
	}
	if events[0].Kind != eventbus.KindToolStart {
		t.Errorf("expected first event ToolStart, got %v", events[0].Kind)
	}
	if events[len(events)-1].Kind != eventbus.KindToolComplete {
		t.Errorf("expected last event ToolComplete, got %v", events[len(events)-1].Kind)
	}
}

func TestExecuteBashDeniedCommand(t *testing.T) {
	root := t.TempDir()
	e, _ := newTestExecutor(t, root)

	args, _ := json.Marshal(map[string]string{"command": "curl http://example.com"})
	_, success := e.Execute(context.Background(), "bash", string(args), "call-2")
	if success {
		t.Error("expected curl to be denied by sandbox allowlist before bash would even validate")
	}
}

func TestExecuteWriteThenReadFile(t *testing.T) {
	root := t.TempDir()
	e, _ := newTestExecutor(t, root)

	writeArgs, _ := json.Marshal(map[string]string{"path": "notes.txt", "content": "line one"})
	_, success := e.Execute(context.Background(), "write_file", string(writeArgs), "call-3")
	if !success {
		t.Fatal("expected write_file success")
	}

	readArgs, _ := json.Marshal(map[string]string{"path": "notes.txt"})
	result, success := e.Execute(context.Background(), "read_file", string(readArgs), "call-4")
	if !success || result != "line one" {
		t.Errorf("expected to read back written content, got %q success=%v", result, success)
	}
}

func TestExecuteReadFileOutsideRootDenied(t *testing.T) {
	root := t.TempDir()
	e, _ := newTestExecutor(t, root)

	args, _ := json.Marshal(map[string]string{"path": "/etc/passwd"})
	_, success := e.Execute(context.Background(), "read_file", string(args), "call-5")
	if success {
		t.Error("expected path outside root to be denied")
	}
}

func TestExecuteListFilesSortsEntries(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "b.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(root, "a_dir"), 0o755); err != nil {
		t.Fatal(err)
	}
	e, _ := newTestExecutor(t, root)

	args, _ := json.Marshal(map[string]string{"path": "."})
	result, success := e.Execute(context.Background(), "list_files", string(args), "call-6")
	if !success {
		t.Fatal("expected list_files success")
	}
	if !contains(result, "a_dir/") || !contains(result, "b.txt") {
		t.Errorf("expected both entries listed, got %q", result)
	}
}

func TestExecuteEditFileRequiresUniqueMatch(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "file.go")
	if err := os.WriteFile(path, []byte("foo\nfoo\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	e, _ := newTestExecutor(t, root)

	args, _ := json.Marshal(map[string]string{"path": "file.go", "old_string": "foo", "new_string": "bar"})
	result, success := e.Execute(context.Background(), "edit_file", string(args), "call-7")
	if success {
		t.Error("expected ambiguous match to fail")
	}
	if !contains(result, "Found 2 occurrences") {
		t.Errorf("expected occurrence-count error, got %q", result)
	}
}

func TestExecuteEditFileReplacesSingleMatch(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "file.go")
	if err := os.WriteFile(path, []byte("package main\n\nfunc old() {}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	e, _ := newTestExecutor(t, root)

	args, _ := json.Marshal(map[string]string{"path": "file.go", "old_string": "func old() {}", "new_string": "func fresh() {}"})
	_, success := e.Execute(context.Background(), "edit_file", string(args), "call-8")
	if !success {
		t.Fatal("expected unique match to succeed")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !contains(string(content), "func fresh() {}") {
		t.Errorf("expected file to be rewritten, got %q", string(content))
	}
}

func TestExecuteUnknownToolDenied(t *testing.T) {
	root := t.TempDir()
	e, _ := newTestExecutor(t, root)

	_, success := e.Execute(context.Background(), "not_a_real_tool", "{}", "call-9")
	if success {
		t.Error("expected unknown tool name to be denied by the sandbox allowlist")
	}
}

func contains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && (needle == "" || indexOf(haystack, needle) >= 0)
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}
