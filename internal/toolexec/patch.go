package toolexec

import (
	"fmt"
	"os"
	"strings"

	"github.com/jayasuryajsk/lorikeet/internal/eventbus"
)

func readFileOrEmpty(path string) (string, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func removeFile(path string) error {
	return os.Remove(path)
}

// patchAction is the kind of change a *** ... File: header introduces.
type patchAction int

const (
	patchAdd patchAction = iota
	patchUpdate
	patchDelete
)

// patchFile is one file's worth of the apply_patch envelope: a header
// naming the action and path, plus its diff-style body lines (for Add and
// Update; Delete carries none).
type patchFile struct {
	Action patchAction
	Path   string
	Lines  []patchLine
}

// patchLine is one body line: ' ' (context), '+' (add) or '-' (remove),
// with the marker stripped from Content.
type patchLine struct {
	Kind    byte
	Content string
}

const (
	patchBeginMarker  = "*** Begin Patch"
	patchEndMarker    = "*** End Patch"
	patchAddPrefix    = "*** Add File: "
	patchUpdatePrefix = "*** Update File: "
	patchDeletePrefix = "*** Delete File: "
)

// parsePatchEnvelope parses the *** Begin Patch / *** Add|Update|Delete
// File: <path> / *** End Patch envelope described in spec §4.2/§6.
func parsePatchEnvelope(patch string) ([]patchFile, error) {
	lines := strings.Split(strings.ReplaceAll(patch, "\r\n", "\n"), "\n")

	i := 0
	for i < len(lines) && strings.TrimSpace(lines[i]) == "" {
		i++
	}
	if i >= len(lines) || strings.TrimSpace(lines[i]) != patchBeginMarker {
		return nil, fmt.Errorf("Error: patch must start with %q", patchBeginMarker)
	}
	i++

	var files []patchFile
	for i < len(lines) {
		line := lines[i]
		trimmed := strings.TrimRight(line, "\r")
		switch {
		case trimmed == patchEndMarker:
			return files, nil
		case strings.HasPrefix(trimmed, patchAddPrefix):
			path := strings.TrimSpace(strings.TrimPrefix(trimmed, patchAddPrefix))
			i++
			body, next := collectBody(lines, i)
			files = append(files, patchFile{Action: patchAdd, Path: path, Lines: body})
			i = next
		case strings.HasPrefix(trimmed, patchUpdatePrefix):
			path := strings.TrimSpace(strings.TrimPrefix(trimmed, patchUpdatePrefix))
			i++
			body, next := collectBody(lines, i)
			files = append(files, patchFile{Action: patchUpdate, Path: path, Lines: body})
			i = next
		case strings.HasPrefix(trimmed, patchDeletePrefix):
			path := strings.TrimSpace(strings.TrimPrefix(trimmed, patchDeletePrefix))
			files = append(files, patchFile{Action: patchDelete, Path: path})
			i++
		case strings.TrimSpace(trimmed) == "":
			i++
		default:
			return nil, fmt.Errorf("Error: unexpected patch line: %q", trimmed)
		}
	}
	return nil, fmt.Errorf("Error: patch missing %q", patchEndMarker)
}

// collectBody reads diff-style lines until the next "*** " header or the
// end marker, stripping each line's leading context/add/remove marker.
func collectBody(lines []string, start int) ([]patchLine, int) {
	var body []patchLine
	i := start
	for i < len(lines) {
		line := lines[i]
		if strings.HasPrefix(strings.TrimRight(line, "\r"), "*** ") {
			break
		}
		if line == "" {
			body = append(body, patchLine{Kind: ' ', Content: ""})
			i++
			continue
		}
		kind, content := line[0], line[1:]
		if kind != ' ' && kind != '+' && kind != '-' {
			// Tolerate a bare line with no marker as context.
			kind, content = ' ', line
		}
		body = append(body, patchLine{Kind: kind, Content: content})
		i++
	}
	return body, i
}

// oldNewSequences splits a hunk's body into the "before" sequence (context
// + remove) and "after" sequence (context + add), the shape applyHunk
// needs to locate and replace the changed region.
func oldNewSequences(body []patchLine) (oldSeq, newSeq []string) {
	for _, l := range body {
		switch l.Kind {
		case ' ':
			oldSeq = append(oldSeq, l.Content)
			newSeq = append(newSeq, l.Content)
		case '-':
			oldSeq = append(oldSeq, l.Content)
		case '+':
			newSeq = append(newSeq, l.Content)
		}
	}
	return
}

// findSequence locates oldSeq as a contiguous run within lines, trying an
// exact match first and falling back to a whitespace-trimmed comparison,
// grounded on the teacher's udiff hunk-matching idiom (exact, then fuzzy).
func findSequence(lines, oldSeq []string) (start, end int, ok bool) {
	if len(oldSeq) == 0 {
		return 0, 0, true
	}
	for i := 0; i+len(oldSeq) <= len(lines); i++ {
		if sequenceEqual(lines[i:i+len(oldSeq)], oldSeq, false) {
			return i, i + len(oldSeq), true
		}
	}
	for i := 0; i+len(oldSeq) <= len(lines); i++ {
		if sequenceEqual(lines[i:i+len(oldSeq)], oldSeq, true) {
			return i, i + len(oldSeq), true
		}
	}
	return 0, 0, false
}

func sequenceEqual(a, b []string, fuzzy bool) bool {
	for i := range b {
		if fuzzy {
			if strings.TrimSpace(a[i]) != strings.TrimSpace(b[i]) {
				return false
			}
		} else if a[i] != b[i] {
			return false
		}
	}
	return true
}

// applyUpdateHunk rewrites content by replacing the region matching the
// hunk's old sequence with its new sequence.
func applyUpdateHunk(content string, body []patchLine) (string, error) {
	lines := strings.Split(content, "\n")
	oldSeq, newSeq := oldNewSequences(body)

	start, end, ok := findSequence(lines, oldSeq)
	if !ok {
		return "", fmt.Errorf("Error: could not locate the patch context in the file")
	}

	result := make([]string, 0, len(lines)-(end-start)+len(newSeq))
	result = append(result, lines[:start]...)
	result = append(result, newSeq...)
	result = append(result, lines[end:]...)
	return strings.Join(result, "\n"), nil
}

// execApplyPatch implements the apply_patch(patch) contract: parse the
// envelope, sandbox-check every referenced path up front (so a denied
// path aborts before any file is touched), then apply each file's change
// in order, reporting one summary line per file.
func (e *Executor) execApplyPatch(callID, patch string) (string, bool) {
	files, err := parsePatchEnvelope(patch)
	if err != nil {
		msg := err.Error()
		e.Bus.Send(eventbus.ToolOutput(callID, msg))
		return msg, false
	}
	if len(files) == 0 {
		msg := "Error: patch contained no file changes"
		e.Bus.Send(eventbus.ToolOutput(callID, msg))
		return msg, false
	}

	checkedPaths := make([]string, len(files))
	for i, f := range files {
		checked, err := e.Policy.CheckPath(f.Path)
		if err != nil {
			msg := err.Error()
			e.Bus.Send(eventbus.ToolOutput(callID, msg))
			return msg, false
		}
		checkedPaths[i] = checked
	}

	var summary strings.Builder
	for i, f := range files {
		path := checkedPaths[i]
		switch f.Action {
		case patchAdd:
			content := addedContent(f.Lines)
			if err := atomicWrite(path, []byte(content)); err != nil {
				msg := fmt.Sprintf("Error: adding %s: %v", f.Path, err)
				e.Bus.Send(eventbus.ToolOutput(callID, msg))
				return msg, false
			}
			fmt.Fprintf(&summary, "Added %s\n", f.Path)
		case patchUpdate:
			existing, err := readFileOrEmpty(path)
			if err != nil {
				msg := fmt.Sprintf("Error: reading %s: %v", f.Path, err)
				e.Bus.Send(eventbus.ToolOutput(callID, msg))
				return msg, false
			}
			updated, err := applyUpdateHunk(existing, f.Lines)
			if err != nil {
				msg := fmt.Sprintf("Error: updating %s: %v", f.Path, err)
				e.Bus.Send(eventbus.ToolOutput(callID, msg))
				return msg, false
			}
			if err := atomicWrite(path, []byte(updated)); err != nil {
				msg := fmt.Sprintf("Error: writing %s: %v", f.Path, err)
				e.Bus.Send(eventbus.ToolOutput(callID, msg))
				return msg, false
			}
			fmt.Fprintf(&summary, "Updated %s\n", f.Path)
		case patchDelete:
			if err := removeFile(path); err != nil {
				msg := fmt.Sprintf("Error: deleting %s: %v", f.Path, err)
				e.Bus.Send(eventbus.ToolOutput(callID, msg))
				return msg, false
			}
			fmt.Fprintf(&summary, "Deleted %s\n", f.Path)
		}
	}

	result := strings.TrimRight(summary.String(), "\n")
	e.Bus.Send(eventbus.ToolOutput(callID, result))
	return result, true
}

func addedContent(body []patchLine) string {
	var lines []string
	for _, l := range body {
		if l.Kind == '+' {
			lines = append(lines, l.Content)
		}
	}
	return strings.Join(lines, "\n")
}
