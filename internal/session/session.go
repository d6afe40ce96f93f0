// Package session implements the Session Manager: one active conversation
// per agent, persisted as line-delimited JSON, with a monotonic timestamp
// guarantee and a pluggable pruning strategy applied on every append.
package session

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/pawnguard/pkg/pawn"
)

// ErrNoActiveSession is returned when an operation needs an active session
// for an agent that has none.
var ErrNoActiveSession = errors.New("session: no active session for agent")

// ErrAlreadyActive is returned by Create when agentID already has an
// active session; at most one session may be active per agent.
var ErrAlreadyActive = errors.New("session: agent already has an active session")

// sessionHeader is the first line written to a session's persistence file,
// per spec.md §6's line-delimited session file format.
type sessionHeader struct {
	Type      string            `json:"_type"`
	ID        string            `json:"id"`
	AgentID   string            `json:"agentId"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
	Status    pawn.SessionStatus `json:"status"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Manager owns the set of sessions and their on-disk persistence.
type Manager struct {
	mu      sync.Mutex
	dir     string
	active  map[string]*pawn.Session // agentID -> active session
	pruner  *Pruner
	lastTS  time.Time
}

// NewManager creates a Manager that persists session files under dir.
func NewManager(dir string, pruner *Pruner) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("session: creating dir: %w", err)
	}
	return &Manager{dir: dir, active: make(map[string]*pawn.Session), pruner: pruner}, nil
}

// Create starts a new active session for agentID. Fails if one is already
// active; callers must Complete or Pause the existing one first.
func (m *Manager) Create(agentID string) (*pawn.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.active[agentID]; ok {
		return nil, ErrAlreadyActive
	}

	now := m.monotonicNowLocked()
	sess := &pawn.Session{
		ID:        uuid.NewString(),
		AgentID:   agentID,
		Status:    pawn.SessionActive,
		CreatedAt: now,
		UpdatedAt: now,
		Metadata:  map[string]string{},
	}
	m.active[agentID] = sess

	if err := m.writeHeader(sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// monotonicNowLocked returns a timestamp strictly after any previously
// returned one, guarding against clock skew producing out-of-order
// persisted entries. Caller must hold m.mu.
func (m *Manager) monotonicNowLocked() time.Time {
	now := time.Now()
	if !now.After(m.lastTS) {
		now = m.lastTS.Add(time.Nanosecond)
	}
	m.lastTS = now
	return now
}

// Active returns the active session for agentID, if any.
func (m *Manager) Active(agentID string) (*pawn.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.active[agentID]
	return sess, ok
}

// Append adds msg to agentID's active session, stamps a monotonic
// timestamp, persists the line, and applies the configured pruning
// strategy if the resulting history exceeds budget.
func (m *Manager) Append(agentID string, msg pawn.SessionMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.active[agentID]
	if !ok {
		return ErrNoActiveSession
	}

	msg.Timestamp = m.monotonicNowLocked()
	sess.Messages = append(sess.Messages, msg)
	sess.UpdatedAt = msg.Timestamp

	if m.pruner != nil {
		sess.Messages = m.pruner.Prune(sess.Messages).Messages
	}

	return m.appendLine(sess, msg)
}

// Complete marks agentID's active session completed and removes it from
// the active table (the persisted file remains as history).
func (m *Manager) Complete(agentID string) error {
	return m.transition(agentID, pawn.SessionCompleted)
}

// Pause marks agentID's active session paused, still removing it from the
// active table: a paused session is not "active" until explicitly resumed.
func (m *Manager) Pause(agentID string) error {
	return m.transition(agentID, pawn.SessionPaused)
}

func (m *Manager) transition(agentID string, status pawn.SessionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.active[agentID]
	if !ok {
		return ErrNoActiveSession
	}
	sess.Status = status
	sess.UpdatedAt = m.monotonicNowLocked()
	delete(m.active, agentID)
	return nil
}

func (m *Manager) sessionPath(sess *pawn.Session) string {
	return filepath.Join(m.dir, sess.ID+".jsonl")
}

func (m *Manager) writeHeader(sess *pawn.Session) error {
	f, err := os.OpenFile(m.sessionPath(sess), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("session: opening file: %w", err)
	}
	defer f.Close()

	header := sessionHeader{
		Type:      "session_header",
		ID:        sess.ID,
		AgentID:   sess.AgentID,
		CreatedAt: sess.CreatedAt,
		UpdatedAt: sess.UpdatedAt,
		Status:    sess.Status,
		Metadata:  sess.Metadata,
	}
	line, err := json.Marshal(header)
	if err != nil {
		return err
	}
	_, err = f.Write(append(line, '\n'))
	return err
}

func (m *Manager) appendLine(sess *pawn.Session, msg pawn.SessionMessage) error {
	f, err := os.OpenFile(m.sessionPath(sess), os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("session: appending: %w", err)
	}
	defer f.Close()

	line, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = f.Write(append(line, '\n'))
	return err
}

// Load reads a persisted session file back, skipping the header line.
func Load(path string) (*pawn.Session, []pawn.SessionMessage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var header sessionHeader
	var messages []pawn.SessionMessage
	first := true
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if first {
			first = false
			if err := json.Unmarshal(line, &header); err != nil {
				return nil, nil, fmt.Errorf("session: decoding header: %w", err)
			}
			continue
		}
		var msg pawn.SessionMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			return nil, nil, fmt.Errorf("session: decoding message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, err
	}

	sess := &pawn.Session{
		ID:        header.ID,
		AgentID:   header.AgentID,
		CreatedAt: header.CreatedAt,
		Status:    header.Status,
		Metadata:  header.Metadata,
		Messages:  messages,
	}
	if n := len(messages); n > 0 {
		sess.UpdatedAt = messages[n-1].Timestamp
	} else {
		sess.UpdatedAt = header.UpdatedAt
	}
	return sess, messages, nil
}
