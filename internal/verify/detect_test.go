package verify

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDetect(t *testing.T) {
	t.Run("go module", func(t *testing.T) {
		dir := t.TempDir()
		write(t, filepath.Join(dir, "go.mod"), "module example.com/x\n")

		got := Detect(dir)
		if len(got) == 0 || got[0].Command != "go test ./..." {
			t.Fatalf("Detect() = %+v, want go test first", got)
		}
	})

	t.Run("cargo takes priority over go", func(t *testing.T) {
		dir := t.TempDir()
		write(t, filepath.Join(dir, "Cargo.toml"), "[package]\nname=\"x\"\n")
		write(t, filepath.Join(dir, "go.mod"), "module example.com/x\n")

		got := Detect(dir)
		if len(got) == 0 || got[0].Command != "cargo test" {
			t.Fatalf("Detect() = %+v, want cargo test first", got)
		}
	})

	t.Run("node picks pnpm when lockfile present", func(t *testing.T) {
		dir := t.TempDir()
		write(t, filepath.Join(dir, "package.json"), `{"scripts":{"test":"vitest","lint":"eslint ."}}`)
		write(t, filepath.Join(dir, "pnpm-lock.yaml"), "")

		got := Detect(dir)
		if len(got) == 0 {
			t.Fatalf("Detect() returned nothing")
		}
		if got[0].Command != "pnpm run test" {
			t.Fatalf("Detect()[0] = %+v, want pnpm run test", got[0])
		}
	})

	t.Run("node falls back to npm without a lockfile", func(t *testing.T) {
		dir := t.TempDir()
		write(t, filepath.Join(dir, "package.json"), `{"scripts":{"build":"tsc -b"}}`)

		got := Detect(dir)
		if len(got) != 1 || got[0].Command != "npm run build" {
			t.Fatalf("Detect() = %+v, want npm run build", got)
		}
	})

	t.Run("python project", func(t *testing.T) {
		dir := t.TempDir()
		write(t, filepath.Join(dir, "pyproject.toml"), "[project]\nname=\"x\"\n")

		got := Detect(dir)
		if len(got) != 1 || got[0].Command != "pytest" {
			t.Fatalf("Detect() = %+v, want pytest", got)
		}
	})

	t.Run("nothing recognized", func(t *testing.T) {
		dir := t.TempDir()
		if got := Detect(dir); got != nil {
			t.Fatalf("Detect() = %+v, want nil", got)
		}
	})
}

func write(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
