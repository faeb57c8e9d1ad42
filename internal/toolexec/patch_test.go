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

func newPatchExecutor(t *testing.T, root string) *Executor {
	t.Helper()
	policy := sandbox.FromConfig(sandbox.Config{Root: root}, root, []string{"apply_patch"})
	return New(policy, eventbus.New(256))
}

func TestApplyPatchAddFile(t *testing.T) {
	root := t.TempDir()
	e := newPatchExecutor(t, root)

	patch := "*** Begin Patch\n" +
		"*** Add File: greeting.txt\n" +
		"+hello\n" +
		"+world\n" +
		"*** End Patch"

	args, _ := json.Marshal(map[string]string{"patch": patch})
	result, success := e.Execute(context.Background(), "apply_patch", string(args), "call-add")
	if !success {
		t.Fatalf("expected success, got %q", result)
	}

	content, err := os.ReadFile(filepath.Join(root, "greeting.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "hello\nworld" {
		t.Errorf("content = %q", string(content))
	}
}

func TestApplyPatchUpdateFile(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "main.go")
	if err := os.WriteFile(path, []byte("package main\n\nfunc old() {}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	e := newPatchExecutor(t, root)

	patch := "*** Begin Patch\n" +
		"*** Update File: main.go\n" +
		" package main\n" +
		" \n" +
		"-func old() {}\n" +
		"+func fresh() {}\n" +
		"*** End Patch"

	args, _ := json.Marshal(map[string]string{"patch": patch})
	result, success := e.Execute(context.Background(), "apply_patch", string(args), "call-update")
	if !success {
		t.Fatalf("expected success, got %q", result)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !contains(string(content), "func fresh() {}") {
		t.Errorf("content = %q", string(content))
	}
}

func TestApplyPatchUpdateFileContextNotFound(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "main.go")
	if err := os.WriteFile(path, []byte("package main\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	e := newPatchExecutor(t, root)

	patch := "*** Begin Patch\n" +
		"*** Update File: main.go\n" +
		"-func nonexistent() {}\n" +
		"+func new() {}\n" +
		"*** End Patch"

	args, _ := json.Marshal(map[string]string{"patch": patch})
	_, success := e.Execute(context.Background(), "apply_patch", string(args), "call-fail")
	if success {
		t.Error("expected a non-matching context to fail")
	}
}

func TestApplyPatchDeleteFile(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "gone.txt")
	if err := os.WriteFile(path, []byte("bye"), 0o644); err != nil {
		t.Fatal(err)
	}
	e := newPatchExecutor(t, root)

	patch := "*** Begin Patch\n" +
		"*** Delete File: gone.txt\n" +
		"*** End Patch"

	args, _ := json.Marshal(map[string]string{"patch": patch})
	_, success := e.Execute(context.Background(), "apply_patch", string(args), "call-delete")
	if !success {
		t.Fatal("expected delete to succeed")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("expected file to be gone, stat err = %v", err)
	}
}

func TestApplyPatchRejectsPathOutsideRoot(t *testing.T) {
	root := t.TempDir()
	e := newPatchExecutor(t, root)

	patch := "*** Begin Patch\n" +
		"*** Add File: ../escape.txt\n" +
		"+oops\n" +
		"*** End Patch"

	args, _ := json.Marshal(map[string]string{"patch": patch})
	_, success := e.Execute(context.Background(), "apply_patch", string(args), "call-escape")
	if success {
		t.Error("expected a path escaping the sandbox root to be denied")
	}
}

func TestParsePatchEnvelopeMissingMarkers(t *testing.T) {
	if _, err := parsePatchEnvelope("not a patch"); err == nil {
		t.Error("expected an error for a missing Begin Patch marker")
	}
	if _, err := parsePatchEnvelope("*** Begin Patch\n*** Add File: x\n+y\n"); err == nil {
		t.Error("expected an error for a missing End Patch marker")
	}
}
