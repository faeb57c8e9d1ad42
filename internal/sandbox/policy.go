// Package sandbox gates every external effect the agent takes: which
// tools may run, which paths may be touched, and which shell executables
// may be invoked.
package sandbox

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Config holds the sandbox settings that FromConfig turns into a Policy.
// No config file section is decoded into it; cmd/engine.go fills it in code.
type Config struct {
	Enabled       *bool    `mapstructure:"enabled"`
	Root          string   `mapstructure:"root"`
	AllowPaths    []string `mapstructure:"allow_paths"`
	DenyPaths     []string `mapstructure:"deny_paths"`
	AllowCommands []string `mapstructure:"allow_commands"`
	AllowTools    []string `mapstructure:"allow_tools"`
}

// DefaultAllowCommands is the allowlist applied when a config omits one.
var DefaultAllowCommands = []string{
	"rg", "ls", "cat", "pwd", "sed", "awk", "find", "wc", "head", "tail", "git",
}

// Policy adjudicates path, command, and tool-name access for the workspace.
type Policy struct {
	Enabled       bool
	Root          string
	AllowPaths    []string
	DenyPaths     []string
	AllowCommands map[string]struct{}
	AllowTools    map[string]struct{}
}

// FromConfig builds a Policy from a parsed Config, falling back to the
// given workspace root and the full tool-name list when fields are unset.
func FromConfig(cfg Config, workspaceRoot string, toolNames []string) *Policy {
	enabled := true
	if cfg.Enabled != nil {
		enabled = *cfg.Enabled
	}

	root := cfg.Root
	if root == "" {
		root = workspaceRoot
	}

	allowPaths := cfg.AllowPaths
	if len(allowPaths) == 0 {
		allowPaths = []string{root}
	}

	allowCommands := cfg.AllowCommands
	if len(allowCommands) == 0 {
		allowCommands = DefaultAllowCommands
	}

	allowTools := cfg.AllowTools
	if len(allowTools) == 0 {
		allowTools = append([]string(nil), toolNames...)
	}

	return &Policy{
		Enabled:       enabled,
		Root:          root,
		AllowPaths:    allowPaths,
		DenyPaths:     append([]string(nil), cfg.DenyPaths...),
		AllowCommands: toSet(allowCommands),
		AllowTools:    toSet(allowTools),
	}
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		set[item] = struct{}{}
	}
	return set
}

// DeniedError is returned by every check below on denial; the message
// format matches what the operator and the model both see verbatim.
type DeniedError struct {
	Kind   string // "tool", "path", or "command"
	Detail string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("Sandbox: %s not allowed: %s", e.Kind, e.Detail)
}

func deniedTool(name string) error   { return &DeniedError{Kind: "tool", Detail: name} }
func deniedPath(path string) error   { return &DeniedError{Kind: "path", Detail: path} }
func deniedCommand(cmd string) error { return &DeniedError{Kind: "command", Detail: cmd} }

// Decision is the allow/deny verdict recorded once per ToolStart for audit.
type Decision struct {
	Allowed bool
	Reason  string
}

// Decide runs CheckTool for name and returns a Decision suitable for
// attaching to a ToolInvocation, instead of a bare error.
func (p *Policy) Decide(name string) Decision {
	if err := p.CheckTool(name); err != nil {
		return Decision{Allowed: false, Reason: err.Error()}
	}
	return Decision{Allowed: true}
}

// CheckTool denies a tool invocation whose name is not in AllowTools.
func (p *Policy) CheckTool(name string) error {
	if !p.Enabled {
		return nil
	}
	if _, ok := p.AllowTools[name]; ok {
		return nil
	}
	return deniedTool(name)
}

// CheckPath canonicalizes path (joining against Root if relative,
// following symlinks) and checks it against deny/allow path lists. Deny
// wins over allow. Returns the canonicalized path on success.
func (p *Policy) CheckPath(path string) (string, error) {
	if !p.Enabled {
		return path, nil
	}

	normalized := p.normalize(path)

	for _, deny := range p.DenyPaths {
		if isWithin(normalized, deny) {
			return "", deniedPath(normalized)
		}
	}

	for _, allow := range p.AllowPaths {
		if isWithin(normalized, allow) {
			return normalized, nil
		}
	}

	return "", deniedPath(normalized)
}

func (p *Policy) normalize(path string) string {
	joined := path
	if !filepath.IsAbs(path) {
		joined = filepath.Join(p.Root, path)
	}
	if canon, err := filepath.EvalSymlinks(joined); err == nil {
		return canon
	}
	return filepath.Clean(joined)
}

// isWithin reports whether candidate is base or a descendant of base,
// canonicalizing base (falling back to its literal form if that fails,
// e.g. because it doesn't exist yet).
func isWithin(candidate, base string) bool {
	if strings.TrimSpace(base) == "" {
		return false
	}
	baseCanon := base
	if canon, err := filepath.EvalSymlinks(base); err == nil {
		baseCanon = canon
	}
	rel, err := filepath.Rel(baseCanon, candidate)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && rel != "..")
}

// CheckCommand extracts the executable from cmd (skipping any leading
// KEY=value assignments and an optional leading literal "env") and denies
// it if its basename is not in AllowCommands.
func (p *Policy) CheckCommand(cmd string) error {
	if !p.Enabled {
		return nil
	}
	executable := extractExecutable(cmd)
	if executable == "" {
		return deniedCommand(cmd)
	}
	if _, ok := p.AllowCommands[filepath.Base(executable)]; ok {
		return nil
	}
	return deniedCommand(executable)
}

// assignmentToken reports whether tok looks like a shell "KEY=value" prefix:
// an identifier followed by "=", not a flag like "--foo=bar".
func assignmentToken(tok string) bool {
	eq := strings.IndexByte(tok, '=')
	if eq <= 0 {
		return false
	}
	key := tok[:eq]
	for i, r := range key {
		if r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (i > 0 && r >= '0' && r <= '9') {
			continue
		}
		return false
	}
	return true
}

func extractExecutable(command string) string {
	trimmed := strings.TrimSpace(command)
	if trimmed == "" {
		return ""
	}
	parts := strings.Fields(trimmed)
	for len(parts) > 0 && assignmentToken(parts[0]) {
		parts = parts[1:]
	}
	if len(parts) == 0 {
		return ""
	}
	if parts[0] == "env" {
		parts = parts[1:]
		for len(parts) > 0 && assignmentToken(parts[0]) {
			parts = parts[1:]
		}
		if len(parts) == 0 {
			return ""
		}
	}
	return parts[0]
}

// pathLikeTokenSplit reports whether r separates tokens of a shell command;
// CheckBashPaths splits on it and then keeps only the path-like tokens.
var pathLikeTokenSplit = func(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\'', '"', '|', '&', ';', '(', ')', '<', '>', '`', '$':
		return true
	}
	return false
}

// CheckBashPaths scans cmd for path-like tokens and applies CheckPath to
// each; any single denial denies the whole command. Tokens that don't
// look like a path (no leading "/" or "../") are ignored.
func (p *Policy) CheckBashPaths(cmd string) error {
	if !p.Enabled {
		return nil
	}
	for _, tok := range strings.FieldsFunc(cmd, pathLikeTokenSplit) {
		if !looksLikePath(tok) {
			continue
		}
		if _, err := p.CheckPath(tok); err != nil {
			return err
		}
	}
	return nil
}

func looksLikePath(tok string) bool {
	return strings.HasPrefix(tok, "/") || strings.HasPrefix(tok, "../") || strings.HasPrefix(tok, "./../")
}

// ToolNames lists the names the Policy was built to recognize; handy for
// callers that want to default AllowTools to "everything known".
func ToolNames(names ...string) []string { return names }
