package lsp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// requestTimeout bounds every JSON-RPC round trip, per §5.
const requestTimeout = 10 * time.Second

// Location is a single jump-to target: a file plus a 1-indexed line/column.
type Location struct {
	Path string
	Line int
	Col  int
}

// Client owns one language server child process and speaks its
// Content-Length-framed JSON-RPC protocol over stdio. Grounded on the
// original LspClient's request/notify/initialize shape.
type Client struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	nextID atomic.Uint64
	root   string
	lang   Language

	mu      sync.Mutex
	pending map[uint64]chan rpcResponse
	opened  map[string]bool
}

type rpcResponse struct {
	Result json.RawMessage
	Error  json.RawMessage
}

// Start spawns lang's server rooted at root and performs the LSP
// initialize/initialized handshake.
func Start(ctx context.Context, lang Language, root string) (*Client, error) {
	exePath, err := lang.ResolveExecutable(root)
	if err != nil {
		return nil, err
	}
	_, args := lang.ServerCommand()

	cmd := exec.CommandContext(ctx, exePath, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Dir = root
	cmd.Stderr = nil

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("lsp stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("lsp stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", exePath, err)
	}

	c := &Client{
		cmd:     cmd,
		stdin:   stdin,
		root:    root,
		lang:    lang,
		pending: make(map[uint64]chan rpcResponse),
		opened:  make(map[string]bool),
	}
	go c.readLoop(stdout)

	if err := c.initialize(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// Close terminates the server process.
func (c *Client) Close() error {
	_ = c.stdin.Close()
	if c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
	}
	return c.cmd.Wait()
}

func (c *Client) initialize(ctx context.Context) error {
	rootURI, err := fileURI(c.root)
	if err != nil {
		return err
	}
	params := map[string]any{
		"processId": os.Getpid(),
		"rootUri":   rootURI,
		"capabilities": map[string]any{
			"textDocument": map[string]any{
				"definition":         map[string]any{},
				"references":         map[string]any{},
				"rename":             map[string]any{},
				"hover":              map[string]any{},
				"publishDiagnostics": map[string]any{},
			},
		},
		"workspaceFolders": []map[string]any{{
			"uri":  rootURI,
			"name": filepath.Base(c.root),
		}},
	}
	if _, err := c.request(ctx, "initialize", params); err != nil {
		return err
	}
	return c.notify("initialized", map[string]any{})
}

func (c *Client) notify(method string, params any) error {
	msg := map[string]any{"jsonrpc": "2.0", "method": method, "params": params}
	return writeMessage(c.stdin, msg)
}

func (c *Client) request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := c.nextID.Add(1)
	msg := map[string]any{"jsonrpc": "2.0", "id": id, "method": method, "params": params}

	ch := make(chan rpcResponse, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()

	if err := writeMessage(c.stdin, msg); err != nil {
		return nil, fmt.Errorf("lsp write %s: %w", method, err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	select {
	case resp := <-ch:
		if len(resp.Error) > 0 {
			return nil, fmt.Errorf("Error: LSP %s failed: %s", method, string(resp.Error))
		}
		return resp.Result, nil
	case <-reqCtx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("Error: LSP request timeout: %s", method)
	}
}

// ensureOpen sends textDocument/didOpen the first time path is referenced,
// returning its file:// URI.
func (c *Client) ensureOpen(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	uri, err := fileURI(abs)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	already := c.opened[uri]
	c.mu.Unlock()
	if already {
		return uri, nil
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return "", fmt.Errorf("Error: read file for lsp: %w", err)
	}

	if err := c.notify("textDocument/didOpen", map[string]any{
		"textDocument": map[string]any{
			"uri":        uri,
			"languageId": string(c.lang),
			"version":    1,
			"text":       string(data),
		},
	}); err != nil {
		return "", err
	}

	c.mu.Lock()
	c.opened[uri] = true
	c.mu.Unlock()
	return uri, nil
}

func positionParams(uri string, line1, col1 int) map[string]any {
	return map[string]any{
		"textDocument": map[string]any{"uri": uri},
		"position": map[string]any{
			"line":      max0(line1 - 1),
			"character": max0(col1 - 1),
		},
	}
}

func max0(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

// Definition resolves textDocument/definition at (line1, col1) in path.
func (c *Client) Definition(ctx context.Context, path string, line1, col1 int) ([]Location, error) {
	uri, err := c.ensureOpen(path)
	if err != nil {
		return nil, err
	}
	result, err := c.request(ctx, "textDocument/definition", positionParams(uri, line1, col1))
	if err != nil {
		return nil, err
	}
	return parseLocations(result), nil
}

// References resolves textDocument/references at (line1, col1) in path.
func (c *Client) References(ctx context.Context, path string, line1, col1 int, includeDeclaration bool) ([]Location, error) {
	uri, err := c.ensureOpen(path)
	if err != nil {
		return nil, err
	}
	params := positionParams(uri, line1, col1)
	params["context"] = map[string]any{"includeDeclaration": includeDeclaration}
	result, err := c.request(ctx, "textDocument/references", params)
	if err != nil {
		return nil, err
	}
	return parseLocations(result), nil
}

// Rename resolves textDocument/rename at (line1, col1) in path to newName,
// returning the raw workspace edit JSON.
func (c *Client) Rename(ctx context.Context, path string, line1, col1 int, newName string) (json.RawMessage, error) {
	uri, err := c.ensureOpen(path)
	if err != nil {
		return nil, err
	}
	params := positionParams(uri, line1, col1)
	params["newName"] = newName
	return c.request(ctx, "textDocument/rename", params)
}

// Hover resolves textDocument/hover at (line1, col1) in path, returning the
// hover contents rendered as plain text.
func (c *Client) Hover(ctx context.Context, path string, line1, col1 int) (string, error) {
	uri, err := c.ensureOpen(path)
	if err != nil {
		return "", err
	}
	result, err := c.request(ctx, "textDocument/hover", positionParams(uri, line1, col1))
	if err != nil {
		return "", err
	}
	return parseHover(result), nil
}

func parseHover(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var hover struct {
		Contents json.RawMessage `json:"contents"`
	}
	if err := json.Unmarshal(raw, &hover); err != nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(hover.Contents, &s); err == nil {
		return s
	}
	var marked struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal(hover.Contents, &marked); err == nil {
		return marked.Value
	}
	return string(hover.Contents)
}

func parseLocations(raw json.RawMessage) []Location {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var arr []map[string]any
	if err := json.Unmarshal(raw, &arr); err != nil {
		var single map[string]any
		if err := json.Unmarshal(raw, &single); err != nil {
			return nil
		}
		arr = []map[string]any{single}
	}

	var out []Location
	for _, obj := range arr {
		if loc, ok := locationFromObject(obj); ok {
			out = append(out, loc)
		}
	}
	return out
}

func locationFromObject(obj map[string]any) (Location, bool) {
	uriKey, rangeKey := "uri", "range"
	if _, ok := obj["targetUri"]; ok {
		uriKey = "targetUri"
		rangeKey = "targetSelectionRange"
		if _, ok := obj[rangeKey]; !ok {
			rangeKey = "targetRange"
		}
	}
	uriVal, ok := obj[uriKey].(string)
	if !ok {
		return Location{}, false
	}
	path, err := pathFromURI(uriVal)
	if err != nil {
		return Location{}, false
	}
	rng, ok := obj[rangeKey].(map[string]any)
	if !ok {
		return Location{}, false
	}
	start, ok := rng["start"].(map[string]any)
	if !ok {
		return Location{}, false
	}
	line0, _ := start["line"].(float64)
	col0, _ := start["character"].(float64)
	return Location{Path: path, Line: int(line0) + 1, Col: int(col0) + 1}, true
}

func fileURI(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}
	return u.String(), nil
}

func pathFromURI(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", err
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("unsupported uri scheme: %s", u.Scheme)
	}
	return filepath.FromSlash(u.Path), nil
}

// readLoop decodes Content-Length-framed JSON-RPC messages from the
// server's stdout and dispatches responses to their waiting requester.
func (c *Client) readLoop(r io.Reader) {
	br := bufio.NewReader(r)
	for {
		length, err := readHeaders(br)
		if err != nil {
			return
		}
		body := make([]byte, length)
		if _, err := io.ReadFull(br, body); err != nil {
			return
		}

		var env struct {
			ID     *uint64         `json:"id"`
			Result json.RawMessage `json:"result"`
			Error  json.RawMessage `json:"error"`
		}
		if err := json.Unmarshal(body, &env); err != nil {
			continue
		}
		if env.ID == nil {
			continue // notification from the server (diagnostics, logs)
		}

		c.mu.Lock()
		ch, ok := c.pending[*env.ID]
		if ok {
			delete(c.pending, *env.ID)
		}
		c.mu.Unlock()
		if ok {
			ch <- rpcResponse{Result: env.Result, Error: env.Error}
		}
	}
}

// readHeaders reads the Content-Length header block preceding each LSP
// message and returns the declared body length.
func readHeaders(br *bufio.Reader) (int, error) {
	length := -1
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return 0, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		if strings.HasPrefix(strings.ToLower(line), "content-length:") {
			n, err := strconv.Atoi(strings.TrimSpace(line[len("content-length:"):]))
			if err == nil {
				length = n
			}
		}
	}
	if length < 0 {
		return 0, fmt.Errorf("lsp: missing Content-Length header")
	}
	return length, nil
}

func writeMessage(w io.Writer, msg any) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "Content-Length: %d\r\n\r\n", len(body))
	buf.Write(body)
	_, err = w.Write(buf.Bytes())
	return err
}
