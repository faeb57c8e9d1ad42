package sessionlog

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Store owns one append-only session file under
// <config-home>/sessions/<project-hash>/<session-id>.jsonl, plus the
// sibling "latest" pointer file in the same project directory.
type Store struct {
	mu        sync.Mutex
	file      *os.File
	writer    *bufio.Writer
	path      string
	sessionID string
	projectID string
}

// ProjectHash derives the stable per-workspace directory name from an
// absolute workspace root: the first 16 hex digits of its sha256.
func ProjectHash(workspaceRoot string) string {
	abs, err := filepath.Abs(workspaceRoot)
	if err != nil {
		abs = workspaceRoot
	}
	sum := sha256.Sum256([]byte(abs))
	return hex.EncodeToString(sum[:])[:16]
}

// SessionsDir returns <configHome>/sessions/<project-hash>, creating it
// if necessary.
func SessionsDir(configHome, workspaceRoot string) (string, error) {
	dir := filepath.Join(configHome, "sessions", ProjectHash(workspaceRoot))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// InitFile creates a new session file, writes a Meta event, and points
// the "latest" pointer at it. sessionID is generated if empty.
func InitFile(configHome, workspaceRoot, sessionID string) (*Store, error) {
	dir, err := SessionsDir(configHome, workspaceRoot)
	if err != nil {
		return nil, err
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	projectID := ProjectHash(workspaceRoot)
	path := filepath.Join(dir, sessionID+".jsonl")

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("sessionlog: creating %s: %w", path, err)
	}

	s := &Store{
		file:      f,
		writer:    bufio.NewWriter(f),
		path:      path,
		sessionID: sessionID,
		projectID: projectID,
	}

	if err := s.append(NewMetaEvent(sessionID, projectID)); err != nil {
		f.Close()
		return nil, err
	}

	if err := writeLatestPointer(dir, sessionID); err != nil {
		return nil, err
	}

	return s, nil
}

func writeLatestPointer(dir, sessionID string) error {
	tmp, err := os.CreateTemp(dir, ".latest-*")
	if err != nil {
		return err
	}
	if _, err := tmp.WriteString(sessionID); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(dir, "latest"))
}

// OpenLatest reopens the session file pointed at by the project's
// "latest" pointer, appending to it for continued recording.
func OpenLatest(configHome, workspaceRoot string) (*Store, error) {
	dir, err := SessionsDir(configHome, workspaceRoot)
	if err != nil {
		return nil, err
	}
	latestPath := filepath.Join(dir, "latest")
	raw, err := os.ReadFile(latestPath)
	if err != nil {
		return nil, fmt.Errorf("sessionlog: no latest session: %w", err)
	}
	sessionID := strings.TrimSpace(string(raw))
	path := filepath.Join(dir, sessionID+".jsonl")

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("sessionlog: opening %s: %w", path, err)
	}

	return &Store{
		file:      f,
		writer:    bufio.NewWriter(f),
		path:      path,
		sessionID: sessionID,
		projectID: ProjectHash(workspaceRoot),
	}, nil
}

func (s *Store) SessionID() string { return s.sessionID }
func (s *Store) Path() string      { return s.path }

// RecordMessage appends one Message event.
func (s *Store) RecordMessage(m MessageEvent) error {
	return s.append(NewMessageEvent(m))
}

// RecordTool appends one completed Tool event.
func (s *Store) RecordTool(t ToolEvent) error {
	return s.append(NewToolEvent(t))
}

func (s *Store) append(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	line, err := ev.MarshalLine()
	if err != nil {
		return err
	}
	if _, err := s.writer.Write(line); err != nil {
		return err
	}
	if err := s.writer.WriteByte('\n'); err != nil {
		return err
	}
	if err := s.writer.Flush(); err != nil {
		return err
	}
	return s.file.Sync()
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writer.Flush(); err != nil {
		s.file.Close()
		return err
	}
	return s.file.Close()
}

// LoadEvents reads every event from a session file in order.
func LoadEvents(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			return nil, fmt.Errorf("sessionlog: malformed line: %w", err)
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		return nil, err
	}
	return events, nil
}

// LatestSessionID reads the "latest" pointer for a project without
// opening the underlying file.
func LatestSessionID(configHome, workspaceRoot string) (string, error) {
	dir, err := SessionsDir(configHome, workspaceRoot)
	if err != nil {
		return "", err
	}
	raw, err := os.ReadFile(filepath.Join(dir, "latest"))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(raw)), nil
}
