package audit

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/haasonsaas/pawnguard/pkg/pawn"
)

func openTestLogger(t *testing.T) (*Logger, string, string) {
	t.Helper()
	dir := t.TempDir()
	logPath := filepath.Join(dir, "audit.jsonl")
	alertPath := filepath.Join(dir, "alerts.jsonl")
	l, err := Open(Config{LogPath: logPath, AlertPath: alertPath})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l, logPath, alertPath
}

func TestRecordAppendsAndIsQueryable(t *testing.T) {
	l, logPath, _ := openTestLogger(t)

	entry := pawn.AuditEntry{
		Timestamp:   time.Now(),
		AgentID:     "researcher-1",
		AgentRole:   pawn.RoleResearcher,
		ActionType:  "read_file",
		SafetyLevel: pawn.SafetySafe,
		Result:      pawn.AuditSuccess,
	}
	if err := l.Record(entry, ""); err != nil {
		t.Fatalf("Record: %v", err)
	}
	l.Close()

	got, err := Query(logPath, Filter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 1 || got[0].AgentID != "researcher-1" {
		t.Fatalf("Query() = %+v, want one entry for researcher-1", got)
	}
}

func TestRecordBlockedAlwaysWritesAlert(t *testing.T) {
	l, _, alertPath := openTestLogger(t)

	entry := pawn.AuditEntry{
		Timestamp:   time.Now(),
		AgentID:     "executor-1",
		ActionType:  "exec_command",
		SafetyLevel: pawn.SafetyForbidden,
		Result:      pawn.AuditBlocked,
	}
	if err := l.Record(entry, "forbidden command"); err != nil {
		t.Fatalf("Record: %v", err)
	}
	l.Close()

	alerts, err := Query(alertPath, Filter{})
	if err != nil {
		t.Fatalf("Query alerts: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("alerts = %+v, want exactly one alert for a blocked action", alerts)
	}
}

func TestQueryFilters(t *testing.T) {
	l, logPath, _ := openTestLogger(t)

	entries := []pawn.AuditEntry{
		{Timestamp: time.Now(), AgentID: "a1", ActionType: "read_file", SafetyLevel: pawn.SafetySafe, Result: pawn.AuditSuccess},
		{Timestamp: time.Now(), AgentID: "a2", ActionType: "exec_command", SafetyLevel: pawn.SafetyDangerous, Result: pawn.AuditSuccess},
	}
	for _, e := range entries {
		if err := l.Record(e, ""); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	l.Close()

	got, err := Query(logPath, Filter{AgentID: "a2"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 1 || got[0].AgentID != "a2" {
		t.Fatalf("Query(AgentID=a2) = %+v", got)
	}
}

func TestSummarize(t *testing.T) {
	entries := []pawn.AuditEntry{
		{AgentID: "a1", Result: pawn.AuditSuccess, SafetyLevel: pawn.SafetySafe},
		{AgentID: "a1", Result: pawn.AuditBlocked, SafetyLevel: pawn.SafetyForbidden},
		{AgentID: "a2", Result: pawn.AuditSuccess, SafetyLevel: pawn.SafetyModerate},
	}
	s := Summarize(entries)
	if s.Total != 3 {
		t.Fatalf("Total = %d, want 3", s.Total)
	}
	if s.ByAgent["a1"] != 2 {
		t.Fatalf("ByAgent[a1] = %d, want 2", s.ByAgent["a1"])
	}
	if s.ByResult[pawn.AuditBlocked] != 1 {
		t.Fatalf("ByResult[blocked] = %d, want 1", s.ByResult[pawn.AuditBlocked])
	}
}

func TestSanitizeMasksStringParams(t *testing.T) {
	mask := func(s string) string {
		if s == "secret-value" {
			return "***"
		}
		return s
	}
	params := pawn.Params{"token": "secret-value", "count": 3}
	out := Sanitize(params, mask)
	if out["token"] != "***" {
		t.Fatalf("Sanitize did not mask string field: %v", out["token"])
	}
	if out["count"] != 3 {
		t.Fatalf("Sanitize altered non-string field: %v", out["count"])
	}
}

func TestCapFieldsTruncatesOversizedStrings(t *testing.T) {
	entry := pawn.AuditEntry{Params: pawn.Params{"blob": "0123456789"}}
	capped := capFields(entry, 4)
	got, _ := capped.Params["blob"].(string)
	if got != "0123...(truncated)" {
		t.Fatalf("capFields = %q", got)
	}
}
