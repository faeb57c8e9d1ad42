package llmclient

// CanonicalToolSpecs is the tool surface the client may advertise to the
// model, per spec §4.4's required-tool table. Callers of StreamRequest
// filter this to whichever subset is enabled for a given call.
var CanonicalToolSpecs = []ToolSpec{
	{
		Name:        "bash",
		Description: "Run a shell command in the workspace.",
		Parameters: schema(
			[]string{"command"},
			props{"command": strProp("shell command to run")},
		),
	},
	{
		Name:        "rg",
		Description: "Search file contents with ripgrep.",
		Parameters: schema(
			[]string{"query"},
			props{
				"query":   strProp("pattern to search for"),
				"path":    strProp("file or directory to search"),
				"context": intProp("lines of context around each match"),
			},
		),
	},
	{
		Name:        "smart_search",
		Description: "Search using ripgrep and/or the semantic index.",
		Parameters: schema(
			[]string{"query"},
			props{
				"query":     strProp("search query"),
				"path":      strProp("file or directory to search"),
				"limit":     intProp("max results"),
				"rg":        boolProp("include ripgrep results"),
				"semantic":  boolProp("include semantic-index results"),
			},
		),
	},
	{
		Name:        "lsp",
		Description: "Query the language server bridge (definitions, references, rename).",
		Parameters: schema(
			[]string{"action", "path"},
			props{
				"action":              strProp("lsp action name"),
				"path":                strProp("file path"),
				"language":            strProp("language id override"),
				"line":                intProp("1-based line number"),
				"column":              intProp("1-based column number"),
				"new_name":            strProp("replacement identifier for rename"),
				"include_declaration": boolProp("include the declaration in results"),
				"limit":               intProp("max results"),
			},
		),
	},
	{
		Name:        "read_file",
		Description: "Read a file's contents.",
		Parameters:  schema([]string{"path"}, props{"path": strProp("file path")}),
	},
	{
		Name:        "write_file",
		Description: "Write content to a file, creating or overwriting it.",
		Parameters: schema(
			[]string{"path", "content"},
			props{"path": strProp("file path"), "content": strProp("full file contents")},
		),
	},
	{
		Name:        "list_files",
		Description: "List the entries of a directory.",
		Parameters:  schema(nil, props{"path": strProp("directory path, defaults to \".\"")}),
	},
	{
		Name:        "edit_file",
		Description: "Replace exactly one occurrence of old_string with new_string in a file.",
		Parameters: schema(
			[]string{"path", "old_string", "new_string"},
			props{
				"path":       strProp("file path"),
				"old_string": strProp("text to find, must be unique in the file"),
				"new_string": strProp("replacement text"),
			},
		),
	},
	{
		Name:        "apply_patch",
		Description: "Apply a multi-file patch in the custom envelope format.",
		Parameters:  schema([]string{"patch"}, props{"patch": strProp("patch envelope text")}),
	},
	{
		Name:        "open_at",
		Description: "Open a file at a specific line with surrounding context.",
		Parameters: schema(
			[]string{"path", "line"},
			props{"path": strProp("file path"), "line": intProp("1-based line number"), "context": intProp("lines of context")},
		),
	},
	{
		Name:        "semantic_search",
		Description: "Search the codebase by meaning using the embedding index.",
		Parameters:  schema([]string{"query"}, props{"query": strProp("natural-language search query")}),
	},
	{
		Name:        "verify",
		Description: "Run the project's verification command and report diagnostics.",
		Parameters:  schema(nil, props{"command": strProp("override command, defaults to the configured verify command")}),
	},
	{
		Name:        "memory_recall",
		Description: "Recall durable project memories relevant to a query.",
		Parameters: schema(
			[]string{"query"},
			props{"query": strProp("recall query"), "limit": intProp("max results"), "types": arrProp("string", "memory types to filter to")},
		),
	},
	{
		Name:        "memory_save",
		Description: "Save a durable project memory.",
		Parameters: schema(
			[]string{"type", "content"},
			props{
				"type":       strProp("mistake|avoid|preference|decision|fact"),
				"content":    strProp("memory content"),
				"why":        strProp("rationale"),
				"context":    strProp("surrounding context"),
				"tags":       strProp("comma-separated tags"),
				"scope":      strProp("project|global"),
				"confidence": numProp("confidence in [0,1]"),
				"importance": numProp("importance in [0,1]"),
			},
		),
	},
	{
		Name:        "memory_list",
		Description: "List durable project memories.",
		Parameters:  schema(nil, props{"limit": intProp("max results"), "type": strProp("filter by memory type")}),
	},
	{
		Name:        "memory_forget",
		Description: "Delete a durable project memory by id.",
		Parameters:  schema([]string{"id"}, props{"id": strProp("memory id")}),
	},
}

type props map[string]map[string]any

func strProp(desc string) map[string]any  { return map[string]any{"type": "string", "description": desc} }
func intProp(desc string) map[string]any  { return map[string]any{"type": "integer", "description": desc} }
func numProp(desc string) map[string]any  { return map[string]any{"type": "number", "description": desc} }
func boolProp(desc string) map[string]any { return map[string]any{"type": "boolean", "description": desc} }
func arrProp(itemType, desc string) map[string]any {
	return map[string]any{"type": "array", "items": map[string]any{"type": itemType}, "description": desc}
}

func schema(required []string, properties props) map[string]any {
	p := make(map[string]any, len(properties))
	for k, v := range properties {
		p[k] = v
	}
	out := map[string]any{
		"type":       "object",
		"properties": p,
	}
	if len(required) > 0 {
		out["required"] = required
	}
	return out
}

// FilterToolSpecs returns CanonicalToolSpecs narrowed to the given names,
// preserving CanonicalToolSpecs' order.
func FilterToolSpecs(names []string) []ToolSpec {
	if names == nil {
		return append([]ToolSpec(nil), CanonicalToolSpecs...)
	}
	allow := make(map[string]struct{}, len(names))
	for _, n := range names {
		allow[n] = struct{}{}
	}
	var out []ToolSpec
	for _, spec := range CanonicalToolSpecs {
		if _, ok := allow[spec.Name]; ok {
			out = append(out, spec)
		}
	}
	return out
}
