package session

import (
	"path/filepath"
	"testing"

	"github.com/haasonsaas/pawnguard/pkg/pawn"
)

func TestCreateRejectsSecondActiveSession(t *testing.T) {
	m, err := NewManager(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if _, err := m.Create("butler"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := m.Create("butler"); err != ErrAlreadyActive {
		t.Fatalf("err = %v, want ErrAlreadyActive", err)
	}
}

func TestAppendRequiresActiveSession(t *testing.T) {
	m, err := NewManager(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if err := m.Append("butler", pawn.SessionMessage{Role: pawn.SessionRoleUser, Content: "hi"}); err != ErrNoActiveSession {
		t.Fatalf("err = %v, want ErrNoActiveSession", err)
	}
}

func TestAppendPersistsAndTimestampsMonotonically(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir, nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	sess, err := m.Create("butler")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	for i := 0; i < 5; i++ {
		if err := m.Append("butler", pawn.SessionMessage{Role: pawn.SessionRoleUser, Content: "msg"}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	_, messages, err := Load(filepath.Join(dir, sess.ID+".jsonl"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(messages) != 5 {
		t.Fatalf("len(messages) = %d, want 5", len(messages))
	}
	for i := 1; i < len(messages); i++ {
		if !messages[i].Timestamp.After(messages[i-1].Timestamp) {
			t.Fatalf("timestamps not strictly increasing at index %d", i)
		}
	}
}

func TestCompleteClearsActiveSession(t *testing.T) {
	m, err := NewManager(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if _, err := m.Create("butler"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := m.Complete("butler"); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if _, ok := m.Active("butler"); ok {
		t.Fatal("session should no longer be active after Complete")
	}
	if _, err := m.Create("butler"); err != nil {
		t.Fatalf("Create after Complete should succeed, got: %v", err)
	}
}

func TestLoadRoundTripsHeaderAndMessages(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir, nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	sess, err := m.Create("researcher")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := m.Append("researcher", pawn.SessionMessage{Role: pawn.SessionRoleAssistant, Content: "ack"}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	loaded, messages, err := Load(filepath.Join(dir, sess.ID+".jsonl"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.ID != sess.ID || loaded.AgentID != "researcher" {
		t.Fatalf("loaded header = %+v", loaded)
	}
	if len(messages) != 1 || messages[0].Content != "ack" {
		t.Fatalf("messages = %+v", messages)
	}
}
