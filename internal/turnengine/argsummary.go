package turnengine

import (
	"encoding/json"
	"fmt"
	"strings"
)

// summarizeArgs renders a short, human-readable one-liner for a tool call's
// arguments, grounded on the teacher's tool-target summarizer idiom (one
// case per recognized tool name, falling back to the raw JSON for unknown
// ones). It is used as the ToolInvocation.ArgsSummary; the Target recorded
// on the session log's ToolEvent comes from targetFor instead.
func summarizeArgs(tool, argsJSON string) string {
	var args map[string]any
	_ = json.Unmarshal([]byte(argsJSON), &args)

	str := func(key string) string {
		if v, ok := args[key].(string); ok {
			return v
		}
		return ""
	}

	switch tool {
	case "bash":
		return truncate(str("command"), 120)
	case "verify":
		cmd := str("command")
		if strings.TrimSpace(cmd) == "" {
			return "auto"
		}
		return truncate(cmd, 120)
	case "rg", "smart_search":
		query, path := str("query"), str("path")
		if path == "" {
			path = "."
		}
		if query == "" {
			return fmt.Sprintf("in %s", path)
		}
		return truncate(fmt.Sprintf("%s in %s", query, path), 120)
	case "read_file", "write_file", "list_files":
		path := str("path")
		if path == "" {
			path = "."
		}
		return truncate(path, 140)
	case "open_at":
		path := str("path")
		line := numArg(args, "line")
		return truncate(fmt.Sprintf("%s:%d", path, line), 140)
	case "edit_file":
		path, old := str("path"), str("old_string")
		if old == "" {
			return truncate(path, 140)
		}
		return truncate(fmt.Sprintf("%s (replace: %s)", path, strings.ReplaceAll(old, "\n", " ")), 140)
	case "apply_patch":
		return "patch"
	case "semantic_search":
		return truncate(str("query"), 140)
	case "memory_recall":
		return truncate("recall: "+str("query"), 140)
	case "memory_save":
		typ := str("type")
		if typ == "" {
			typ = "fact"
		}
		return truncate(fmt.Sprintf("save(%s): %s", typ, str("content")), 140)
	case "memory_list":
		return "list"
	case "memory_forget":
		return truncate("forget: "+str("id"), 140)
	case "lsp":
		return truncate(fmt.Sprintf("%s %s", str("action"), str("path")), 140)
	default:
		return truncate(argsJSON, 120)
	}
}

func numArg(args map[string]any, key string) int {
	if v, ok := args[key].(float64); ok {
		return int(v)
	}
	return 0
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

// targetFor extracts the "target" field recorded alongside a tool
// invocation: the command for bash/verify, the query for rg/semantic
// searches, the path for filesystem tools.
func targetFor(tool, argsJSON string) string {
	var args map[string]any
	_ = json.Unmarshal([]byte(argsJSON), &args)
	str := func(key string) string {
		if v, ok := args[key].(string); ok {
			return v
		}
		return ""
	}
	switch tool {
	case "bash", "verify":
		return str("command")
	case "rg", "smart_search", "semantic_search", "memory_recall":
		return str("query")
	case "memory_save":
		return str("content")
	case "memory_forget":
		return str("id")
	case "apply_patch":
		return "patch"
	default:
		return str("path")
	}
}
