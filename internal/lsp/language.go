// Package lsp is a thin JSON-RPC client for the lsp tool (§4.10): it
// spawns a per-language server process on demand over stdio, using the
// Language Server Protocol's Content-Length framing, and exposes
// definition/references/rename/hover as plain Go calls.
package lsp

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Language is a server-backed language the lsp tool can target.
type Language string

const (
	LanguageRust       Language = "rust"
	LanguageTypeScript Language = "typescript"
)

// LanguageFromUser resolves a user-supplied language hint ("auto", "rs",
// "ts", ...), falling back to detecting it from path's extension.
func LanguageFromUser(hint string, path string) (Language, bool) {
	t := strings.ToLower(strings.TrimSpace(hint))
	if t == "" || t == "auto" {
		return LanguageFromPath(path)
	}
	switch t {
	case "rs", "rust":
		return LanguageRust, true
	case "ts", "tsx", "typescript", "js", "jsx", "javascript":
		return LanguageTypeScript, true
	default:
		return "", false
	}
}

// LanguageFromPath detects a language from a file's extension.
func LanguageFromPath(path string) (Language, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".rs":
		return LanguageRust, true
	case ".ts", ".tsx", ".js", ".jsx":
		return LanguageTypeScript, true
	default:
		return "", false
	}
}

// ServerCommand returns the executable name and arguments used to start
// lang's language server.
func (l Language) ServerCommand() (string, []string) {
	switch l {
	case LanguageRust:
		return "rust-analyzer", nil
	case LanguageTypeScript:
		return "typescript-language-server", []string{"--stdio"}
	default:
		return "", nil
	}
}

// downloadsDisabled reports whether LORIKEET_DISABLE_LSP_DOWNLOAD opts out
// of fetching a missing language server, matching the original's truthy
// string set.
func downloadsDisabled() bool {
	switch os.Getenv("LORIKEET_DISABLE_LSP_DOWNLOAD") {
	case "1", "true", "TRUE", "yes", "YES":
		return true
	default:
		return false
	}
}

// ResolveExecutable finds lang's server executable: a workspace-local
// node_modules/.bin copy for TypeScript, else whatever is on PATH. This
// repo does not implement the original's on-demand binary download (no
// release-fetching library appears anywhere in the pack); when the server
// isn't found and downloads are disabled or unsupported, it reports that
// explicitly instead of silently failing later.
func (l Language) ResolveExecutable(workspaceRoot string) (string, error) {
	exe, _ := l.ServerCommand()
	if l == LanguageTypeScript {
		local := filepath.Join(workspaceRoot, "node_modules", ".bin", "typescript-language-server")
		if st, err := os.Stat(local); err == nil && !st.IsDir() {
			return local, nil
		}
	}
	if path, err := exec.LookPath(exe); err == nil {
		return path, nil
	}
	if downloadsDisabled() {
		return "", &UnavailableError{Language: l}
	}
	return "", &UnavailableError{Language: l, DownloadsWouldHelp: true}
}

// UnavailableError reports that a language server binary could not be
// located.
type UnavailableError struct {
	Language           Language
	DownloadsWouldHelp bool
}

func (e *UnavailableError) Error() string {
	exe, _ := e.Language.ServerCommand()
	if e.DownloadsWouldHelp {
		return "Error: " + exe + " not found (automatic LSP server installation is not available in this build)"
	}
	return "Error: " + exe + " not found and LSP downloads are disabled (set LORIKEET_DISABLE_LSP_DOWNLOAD=0)"
}
