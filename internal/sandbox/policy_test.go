package sandbox

import (
	"os"
	"path/filepath"
	"testing"
)

func newTestPolicy(t *testing.T, root string, allowCommands []string) *Policy {
	t.Helper()
	cfg := Config{
		Root:          root,
		AllowCommands: allowCommands,
	}
	return FromConfig(cfg, root, []string{"bash", "rg", "read_file"})
}

func TestCheckTool(t *testing.T) {
	root := t.TempDir()
	p := FromConfig(Config{Root: root, AllowTools: []string{"bash"}}, root, []string{"bash", "rg"})

	if err := p.CheckTool("bash"); err != nil {
		t.Errorf("expected bash allowed, got %v", err)
	}
	if err := p.CheckTool("rg"); err == nil {
		t.Error("expected rg denied")
	} else if err.Error() != "Sandbox: tool not allowed: rg" {
		t.Errorf("unexpected message: %v", err)
	}
}

func TestCheckToolDisabledAllowsEverything(t *testing.T) {
	disabled := false
	root := t.TempDir()
	p := FromConfig(Config{Root: root, Enabled: &disabled, AllowTools: []string{"bash"}}, root, []string{"bash", "rg"})
	if err := p.CheckTool("rg"); err != nil {
		t.Errorf("disabled sandbox should allow everything, got %v", err)
	}
}

func TestCheckPathWithinRoot(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "src")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	p := newTestPolicy(t, root, nil)

	got, err := p.CheckPath("src")
	if err != nil {
		t.Fatalf("expected allow, got %v", err)
	}
	if got != sub {
		t.Errorf("expected canonicalized %q, got %q", sub, got)
	}
}

func TestCheckPathOutsideRootDenied(t *testing.T) {
	root := t.TempDir()
	p := newTestPolicy(t, root, nil)

	if _, err := p.CheckPath("/etc/passwd"); err == nil {
		t.Error("expected deny for path outside root")
	}
}

func TestCheckPathDenyWinsOverAllow(t *testing.T) {
	root := t.TempDir()
	secret := filepath.Join(root, "secret")
	if err := os.MkdirAll(secret, 0o755); err != nil {
		t.Fatal(err)
	}
	p := FromConfig(Config{
		Root:       root,
		AllowPaths: []string{root},
		DenyPaths:  []string{secret},
	}, root, nil)

	if _, err := p.CheckPath("secret/key.pem"); err == nil {
		t.Error("expected deny to win over allow")
	}
}

func TestCheckCommandAllowed(t *testing.T) {
	root := t.TempDir()
	p := newTestPolicy(t, root, []string{"ls"})

	if err := p.CheckCommand("ls -la"); err != nil {
		t.Errorf("expected ls allowed, got %v", err)
	}
}

func TestCheckCommandDenied(t *testing.T) {
	root := t.TempDir()
	p := newTestPolicy(t, root, []string{"ls"})

	err := p.CheckCommand("rm -rf /")
	if err == nil {
		t.Fatal("expected deny")
	}
	if err.Error() != "Sandbox: command not allowed: rm" {
		t.Errorf("unexpected message: %v", err)
	}
}

func TestCheckCommandSkipsEnvPrefix(t *testing.T) {
	root := t.TempDir()
	p := newTestPolicy(t, root, []string{"ls"})

	if err := p.CheckCommand("FOO=bar ls -la"); err != nil {
		t.Errorf("expected env-prefixed ls allowed, got %v", err)
	}
	if err := p.CheckCommand("env ls -la"); err != nil {
		t.Errorf("expected literal env ls allowed, got %v", err)
	}
}

func TestCheckCommandSkipsMultipleEnvPrefixes(t *testing.T) {
	root := t.TempDir()
	p := newTestPolicy(t, root, []string{"ls"})

	if err := p.CheckCommand("FOO=1 BAR=2 ls -la"); err != nil {
		t.Errorf("expected multi-assignment-prefixed ls allowed, got %v", err)
	}
	if err := p.CheckCommand("env FOO=1 BAR=2 ls -la"); err != nil {
		t.Errorf("expected env with multiple assignments allowed, got %v", err)
	}
	if err := p.CheckCommand("FOO=1 BAR=2 rm -rf /"); err == nil {
		t.Error("expected multi-assignment-prefixed rm to still be denied")
	}
}

func TestCheckBashPathsDeniesEmbeddedPath(t *testing.T) {
	root := t.TempDir()
	p := newTestPolicy(t, root, []string{"cat"})

	if err := p.CheckBashPaths("cat /etc/passwd"); err == nil {
		t.Error("expected deny for embedded absolute path")
	}
	if err := p.CheckBashPaths("cat README.md"); err != nil {
		t.Errorf("expected relative path within root allowed, got %v", err)
	}
}

func TestDefaultAllowCommandsUsedWhenUnset(t *testing.T) {
	root := t.TempDir()
	p := FromConfig(Config{Root: root}, root, nil)

	if err := p.CheckCommand("git status"); err != nil {
		t.Errorf("expected git allowed by default, got %v", err)
	}
	if err := p.CheckCommand("curl http://example.com"); err == nil {
		t.Error("expected curl denied by default")
	}
}
