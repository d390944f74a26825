// Package transcript persists the audit trail of gateway sessions: an
// append-only message thread plus the terminal result and escalation
// documents, namespaced by (role_id, session_id).
package transcript

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"conductor/internal/protocol"
)

// Message is one role-tagged line in a session thread.
type Message struct {
	Role      string    `json:"role"` // system, user, assistant
	Content   string    `json:"content"`
	Step      int       `json:"step,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Store lays sessions out as <root>/<role_id>/<session_id>/ with
// thread.jsonl, result.json and (optionally) escalation.json inside.
type Store struct {
	root string
}

// NewStore creates a transcript store rooted at dir.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating transcript root: %w", err)
	}
	return &Store{root: dir}, nil
}

// ThreadPath returns the thread file for a session.
func (s *Store) ThreadPath(roleID, sessionID string) string {
	return filepath.Join(s.root, roleID, sessionID, "thread.jsonl")
}

func (s *Store) resultPath(roleID, sessionID string) string {
	return filepath.Join(s.root, roleID, sessionID, "result.json")
}

func (s *Store) escalationPath(roleID, sessionID string) string {
	return filepath.Join(s.root, roleID, sessionID, "escalation.json")
}

// Append adds one message to the session thread. The thread only ever
// grows; nothing here rewrites or truncates it.
func (s *Store) Append(roleID, sessionID string, msg Message) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	path := s.ThreadPath(roleID, sessionID)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating session directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("opening thread: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling message: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("appending to thread: %w", err)
	}
	return nil
}

// Messages reads the full thread back in order.
func (s *Store) Messages(roleID, sessionID string) ([]Message, error) {
	f, err := os.Open(s.ThreadPath(roleID, sessionID))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var msgs []Message
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg Message
		if err := json.Unmarshal(line, &msg); err != nil {
			return nil, fmt.Errorf("parsing thread line: %w", err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, scanner.Err()
}

// WriteResult persists the terminal session result.
func (s *Store) WriteResult(roleID, sessionID string, result *protocol.SessionResult) error {
	return s.writeJSON(s.resultPath(roleID, sessionID), result)
}

// LoadResult reads a session result back.
func (s *Store) LoadResult(roleID, sessionID string) (*protocol.SessionResult, error) {
	var result protocol.SessionResult
	if err := s.readJSON(s.resultPath(roleID, sessionID), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// WriteEscalation persists the consent escalation for a session.
func (s *Store) WriteEscalation(roleID, sessionID string, esc *protocol.Escalation) error {
	return s.writeJSON(s.escalationPath(roleID, sessionID), esc)
}

// LoadEscalation reads the escalation back. Returns os.ErrNotExist (via
// the underlying open) when the session never escalated.
func (s *Store) LoadEscalation(roleID, sessionID string) (*protocol.Escalation, error) {
	var esc protocol.Escalation
	if err := s.readJSON(s.escalationPath(roleID, sessionID), &esc); err != nil {
		return nil, err
	}
	return &esc, nil
}

// writeJSON writes a document atomically: temp file then rename, so a
// concurrent reader never sees a half-written result.
func (s *Store) writeJSON(path string, v interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating session directory: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", filepath.Base(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("committing %s: %w", filepath.Base(path), err)
	}
	return nil
}

func (s *Store) readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parsing %s: %w", filepath.Base(path), err)
	}
	return nil
}
