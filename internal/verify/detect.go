// Package verify implements the §6 verify-detection collaborator: given a
// workspace root, inspect well-known manifests and return an ordered list
// of candidate verification commands.
package verify

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// Candidate is one detected verification command.
type Candidate struct {
	Label      string
	Command    string
	Confidence float64
}

// nodeScriptOrder is the priority order in which well-known package.json
// scripts are offered as candidates, per spec §6.
var nodeScriptOrder = []string{"test", "typecheck", "tsc", "lint", "build", "check", "ci"}

// Detect inspects root in priority order — Cargo, then Node (choosing a
// package manager from the lockfile present: pnpm > yarn > bun > npm),
// then Python, then Go — and returns the candidates of the first manifest
// that yields any, most confident first.
func Detect(root string) []Candidate {
	if exists(filepath.Join(root, "Cargo.toml")) {
		return []Candidate{
			{Label: "cargo test", Command: "cargo test", Confidence: 0.9},
			{Label: "cargo check", Command: "cargo check", Confidence: 0.6},
		}
	}

	if exists(filepath.Join(root, "package.json")) {
		if candidates := detectNode(root); len(candidates) > 0 {
			return candidates
		}
	}

	if exists(filepath.Join(root, "pyproject.toml")) || exists(filepath.Join(root, "requirements.txt")) {
		return []Candidate{
			{Label: "pytest", Command: "pytest", Confidence: 0.7},
		}
	}

	if exists(filepath.Join(root, "go.mod")) {
		return []Candidate{
			{Label: "go test", Command: "go test ./...", Confidence: 0.9},
			{Label: "go vet", Command: "go vet ./...", Confidence: 0.5},
		}
	}

	return nil
}

func detectNode(root string) []Candidate {
	pm := packageManager(root)
	scripts := packageJSONScripts(filepath.Join(root, "package.json"))

	var out []Candidate
	for _, name := range nodeScriptOrder {
		if _, ok := scripts[name]; !ok {
			continue
		}
		out = append(out, Candidate{
			Label:      name,
			Command:    pm + " run " + name,
			Confidence: 0.8,
		})
	}
	return out
}

// packageManager chooses pnpm > yarn > bun > npm based on which lockfile
// is present in root, per spec §6.
func packageManager(root string) string {
	switch {
	case exists(filepath.Join(root, "pnpm-lock.yaml")):
		return "pnpm"
	case exists(filepath.Join(root, "yarn.lock")):
		return "yarn"
	case exists(filepath.Join(root, "bun.lockb")):
		return "bun"
	default:
		return "npm"
	}
}

func packageJSONScripts(path string) map[string]string {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var doc struct {
		Scripts map[string]string `json:"scripts"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil
	}
	return doc.Scripts
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
