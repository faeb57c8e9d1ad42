package toolexec

import (
	"context"
	"fmt"
	"strings"

	"github.com/jayasuryajsk/lorikeet/internal/eventbus"
	"github.com/jayasuryajsk/lorikeet/internal/lsp"
	"github.com/jayasuryajsk/lorikeet/internal/memstore"
	"github.com/jayasuryajsk/lorikeet/internal/semindex"
	"github.com/jayasuryajsk/lorikeet/internal/verify"
)

// execVerify runs the verify(command?) contract: with no command given it
// detects one from the workspace manifest (§6 priority order) and runs the
// most confident candidate; an explicit command bypasses detection
// entirely. Either way the command runs through execBash so its output
// shares bash's streaming, timeout and truncation behavior.
func (e *Executor) execVerify(ctx context.Context, callID, command string) (string, bool) {
	if strings.TrimSpace(command) != "" {
		return e.execBash(ctx, callID, command)
	}

	candidates := verify.Detect(e.WorkspaceRoot)
	if len(candidates) == 0 {
		msg := "Error: could not detect a verification command for this workspace; pass one explicitly"
		e.Bus.Send(eventbus.ToolOutput(callID, msg))
		return msg, false
	}
	return e.execBash(ctx, callID, candidates[0].Command)
}

// execSemanticSearch runs a similarity query against the configured
// semantic index, auto-indexing the workspace on first use if it is
// empty.
func (e *Executor) execSemanticSearch(ctx context.Context, callID, query string) (string, bool) {
	if e.SemIndex == nil {
		msg := "Error: semantic search is not configured for this session"
		e.Bus.Send(eventbus.ToolOutput(callID, msg))
		return msg, false
	}
	if strings.TrimSpace(query) == "" {
		msg := "Error: query cannot be empty"
		e.Bus.Send(eventbus.ToolOutput(callID, msg))
		return msg, false
	}

	if !e.SemIndex.IsIndexed() {
		if _, err := e.SemIndex.IndexDirectory(ctx, e.WorkspaceRoot); err != nil {
			msg := fmt.Sprintf("Error: indexing workspace: %v", err)
			e.Bus.Send(eventbus.ToolOutput(callID, msg))
			return msg, false
		}
	}

	results, err := e.SemIndex.Search(ctx, query)
	if err != nil {
		msg := fmt.Sprintf("Error: %v", err)
		e.Bus.Send(eventbus.ToolOutput(callID, msg))
		return msg, false
	}
	result := formatSemanticResults(toSemanticResults(results, 0))
	e.Bus.Send(eventbus.ToolOutput(callID, result))
	return result, true
}

func toSemanticResults(results []semindex.SearchResult, limit int) []semanticResult {
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	out := make([]semanticResult, len(results))
	for i, r := range results {
		out[i] = semanticResult{
			FilePath:  r.Chunk.Metadata.FilePath,
			StartLine: r.Chunk.Metadata.StartLine,
			EndLine:   r.Chunk.Metadata.EndLine,
			Score:     r.Score,
			Content:   r.Chunk.Content,
		}
	}
	return out
}

func formatSemanticResults(results []semanticResult) string {
	if len(results) == 0 {
		return "No matches."
	}
	var b strings.Builder
	for _, r := range results {
		fmt.Fprintf(&b, "%s:%d-%d (score %.2f)\n%s\n\n",
			r.FilePath, r.StartLine, r.EndLine, r.Score, r.Content)
	}
	return strings.TrimRight(b.String(), "\n")
}

// semanticResult decouples the presentation above from the semindex
// package's own result shape.
type semanticResult struct {
	FilePath  string
	StartLine int
	EndLine   int
	Score     float32
	Content   string
}

func (e *Executor) execOpenAt(callID, path string, line, context int) (string, bool) {
	checked, err := e.Policy.CheckPath(path)
	if err != nil {
		msg := err.Error()
		e.Bus.Send(eventbus.ToolOutput(callID, msg))
		return msg, false
	}
	result, err := semindex.OpenAt(checked, line, context)
	if err != nil {
		msg := fmt.Sprintf("Error: %v", err)
		e.Bus.Send(eventbus.ToolOutput(callID, msg))
		return msg, false
	}
	e.Bus.Send(eventbus.ToolOutput(callID, result))
	return result, true
}

// execSmartSearch fans out to rg and/or semantic_search per the rg/semantic
// flags and concatenates the two result sets, cutting the rg output to
// limit lines and the semantic results to limit entries, per §4.10.
func (e *Executor) execSmartSearch(ctx context.Context, callID, query, path string, limit int, useRG, useSemantic bool) (string, bool) {
	var b strings.Builder

	if useRG {
		rgResult, _ := e.execRGQuiet(ctx, query, path)
		fmt.Fprintf(&b, "## rg\n%s\n\n", truncateResult(rgResult, limit))
	}

	if useSemantic && e.SemIndex != nil {
		if !e.SemIndex.IsIndexed() {
			_, _ = e.SemIndex.IndexDirectory(ctx, e.WorkspaceRoot)
		}
		results, err := e.SemIndex.Search(ctx, query)
		if err == nil {
			fmt.Fprintf(&b, "## semantic\n%s\n", formatSemanticResults(toSemanticResults(results, limit)))
		}
	}

	result := strings.TrimSpace(b.String())
	if result == "" {
		result = "No matches."
	}
	e.Bus.Send(eventbus.ToolOutput(callID, result))
	return result, true
}

func truncateResult(s string, limit int) string {
	lines := strings.Split(s, "\n")
	if limit > 0 && len(lines) > limit {
		lines = lines[:limit]
	}
	return strings.Join(lines, "\n")
}

// execLSP dispatches the lsp(action, path, line?, column?, new_name?)
// contract: hover, definition, references and rename, spawning (or
// reusing) the language server for the file's language on demand.
func (e *Executor) execLSP(ctx context.Context, callID, action, path string, line, column int, newName string) (string, bool) {
	if e.LSP == nil {
		msg := "Error: lsp is not configured for this session"
		e.Bus.Send(eventbus.ToolOutput(callID, msg))
		return msg, false
	}
	lang, ok := lsp.LanguageFromPath(path)
	if !ok {
		msg := fmt.Sprintf("Error: no language server known for %s", path)
		e.Bus.Send(eventbus.ToolOutput(callID, msg))
		return msg, false
	}
	checked, err := e.Policy.CheckPath(path)
	if err != nil {
		msg := err.Error()
		e.Bus.Send(eventbus.ToolOutput(callID, msg))
		return msg, false
	}

	client, err := e.LSP.GetOrStart(ctx, lang, e.WorkspaceRoot)
	if err != nil {
		msg := err.Error()
		e.Bus.Send(eventbus.ToolOutput(callID, msg))
		return msg, false
	}

	var result string
	switch action {
	case "hover":
		result, err = client.Hover(ctx, checked, line, column)
	case "definition":
		var locs []lsp.Location
		locs, err = client.Definition(ctx, checked, line, column)
		result = lsp.FormatLocations(e.WorkspaceRoot, locs, 20)
	case "references":
		var locs []lsp.Location
		locs, err = client.References(ctx, checked, line, column, true)
		result = lsp.FormatLocations(e.WorkspaceRoot, locs, 20)
	case "rename":
		var raw []byte
		raw, err = client.Rename(ctx, checked, line, column, newName)
		result = string(raw)
	default:
		err = fmt.Errorf("Error: unknown lsp action: %s", action)
	}
	if err != nil {
		msg := err.Error()
		e.Bus.Send(eventbus.ToolOutput(callID, msg))
		return msg, false
	}
	if strings.TrimSpace(result) == "" {
		result = "No results."
	}
	e.Bus.Send(eventbus.ToolOutput(callID, result))
	return result, true
}

// execMemoryRecall/Save/List/Forget wrap internal/memstore.Store directly,
// per §4.10's "direct wrappers" description.
func (e *Executor) execMemoryRecall(ctx context.Context, callID, query string, limit int) (string, bool) {
	if e.Memory == nil {
		msg := "Error: memory is not configured for this session"
		e.Bus.Send(eventbus.ToolOutput(callID, msg))
		return msg, false
	}
	scored, err := e.Memory.Recall(ctx, query, limit, nil)
	if err != nil {
		msg := fmt.Sprintf("Error: %v", err)
		e.Bus.Send(eventbus.ToolOutput(callID, msg))
		return msg, false
	}
	if len(scored) == 0 {
		result := "No memories found."
		e.Bus.Send(eventbus.ToolOutput(callID, result))
		return result, true
	}
	var b strings.Builder
	for _, s := range scored {
		fmt.Fprintf(&b, "[%s] (%s, score %.2f): %s\n", s.Memory.ID, s.Memory.Type, s.Score, s.Memory.Content)
	}
	result := strings.TrimRight(b.String(), "\n")
	e.Bus.Send(eventbus.ToolOutput(callID, result))
	return result, true
}

func (e *Executor) execMemorySave(ctx context.Context, callID string, args map[string]any) (string, bool) {
	if e.Memory == nil {
		msg := "Error: memory is not configured for this session"
		e.Bus.Send(eventbus.ToolOutput(callID, msg))
		return msg, false
	}
	content := strArg(args, "content")
	if strings.TrimSpace(content) == "" {
		msg := "Error: content cannot be empty"
		e.Bus.Send(eventbus.ToolOutput(callID, msg))
		return msg, false
	}
	typ := memstore.Type(strArg(args, "type"))
	if typ == "" {
		typ = memstore.TypeFact
	}
	scope := memstore.ScopeProject
	if strArg(args, "scope") == "global" {
		scope = memstore.ScopeGlobal
	}

	m := memstore.Memory{
		ProjectID: e.ProjectID,
		Scope:     scope,
		Type:      typ,
		Content:   content,
		Why:       strArg(args, "why"),
		Context:   strArg(args, "context"),
		Source:    memstore.SourceUser,
	}
	saved, err := e.Memory.Insert(ctx, m)
	if err != nil {
		msg := fmt.Sprintf("Error: %v", err)
		e.Bus.Send(eventbus.ToolOutput(callID, msg))
		return msg, false
	}
	result := fmt.Sprintf("Saved memory %s (%s)", saved.ID, saved.Type)
	e.Bus.Send(eventbus.ToolOutput(callID, result))
	return result, true
}

func (e *Executor) execMemoryList(ctx context.Context, callID string, limit int) (string, bool) {
	if e.Memory == nil {
		msg := "Error: memory is not configured for this session"
		e.Bus.Send(eventbus.ToolOutput(callID, msg))
		return msg, false
	}
	memories, err := e.Memory.List(ctx, limit, nil)
	if err != nil {
		msg := fmt.Sprintf("Error: %v", err)
		e.Bus.Send(eventbus.ToolOutput(callID, msg))
		return msg, false
	}
	if len(memories) == 0 {
		result := "No memories stored."
		e.Bus.Send(eventbus.ToolOutput(callID, result))
		return result, true
	}
	var b strings.Builder
	for _, m := range memories {
		fmt.Fprintf(&b, "[%s] (%s, importance %.2f): %s\n", m.ID, m.Type, m.Importance, m.Content)
	}
	result := strings.TrimRight(b.String(), "\n")
	e.Bus.Send(eventbus.ToolOutput(callID, result))
	return result, true
}

func (e *Executor) execMemoryForget(ctx context.Context, callID, id string) (string, bool) {
	if e.Memory == nil {
		msg := "Error: memory is not configured for this session"
		e.Bus.Send(eventbus.ToolOutput(callID, msg))
		return msg, false
	}
	if strings.TrimSpace(id) == "" {
		msg := "Error: id cannot be empty"
		e.Bus.Send(eventbus.ToolOutput(callID, msg))
		return msg, false
	}
	if err := e.Memory.Delete(ctx, id); err != nil {
		msg := fmt.Sprintf("Error: %v", err)
		e.Bus.Send(eventbus.ToolOutput(callID, msg))
		return msg, false
	}
	result := fmt.Sprintf("Forgot memory %s", id)
	e.Bus.Send(eventbus.ToolOutput(callID, result))
	return result, true
}

// execMCPTool routes a "servername__toolname" call to the running MCP
// server that owns it.
func (e *Executor) execMCPTool(ctx context.Context, callID, toolName, argsJSON string) (string, bool) {
	result, err := e.MCP.CallTool(ctx, toolName, []byte(argsJSON))
	if err != nil {
		msg := fmt.Sprintf("Error: %v", err)
		e.Bus.Send(eventbus.ToolOutput(callID, msg))
		return msg, false
	}
	e.Bus.Send(eventbus.ToolOutput(callID, result))
	return result, true
}
