// Package audit implements the append-only Audit Log: a JSON-lines journal
// of policy decisions with a parallel alerts file, filter queries, and
// aggregate summaries.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/haasonsaas/pawnguard/pkg/pawn"
)

// Config controls the audit log's output paths and sampling behavior.
// SampleRate and MaxFieldSize are supplemental knobs beyond the base
// append-only requirement; alerts are always written at an effective
// sample rate of 1.0 regardless of SampleRate, since a block must never be
// silently dropped from the record.
type Config struct {
	LogPath      string
	AlertPath    string
	SampleRate   float64 // 0 < rate <= 1; 0 means 1.0 (log everything)
	MaxFieldSize int     // 0 means unbounded
	RetentionDays int
}

// Logger appends AuditEntry records to LogPath and alert entries to
// AlertPath. Writes are serialized by mu so the on-disk log is strictly
// totally ordered.
type Logger struct {
	mu     sync.Mutex
	cfg    Config
	log    *os.File
	alerts *os.File
}

// alertEntry mirrors AuditEntry but with the two extra fields the alerts
// file carries.
type alertEntry struct {
	pawn.AuditEntry
	AlertMessage string `json:"alertMessage"`
	IsAlert      bool   `json:"isAlert"`
}

// Open creates (or appends to) the log and alert files named in cfg.
func Open(cfg Config) (*Logger, error) {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 1.0
	}
	logFile, err := os.OpenFile(cfg.LogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("audit: open log: %w", err)
	}
	alertFile, err := os.OpenFile(cfg.AlertPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("audit: open alerts: %w", err)
	}
	return &Logger{cfg: cfg, log: logFile, alerts: alertFile}, nil
}

// Close closes the underlying files.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	err1 := l.log.Close()
	err2 := l.alerts.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// Record appends entry to the log, capping oversized string fields and
// applying sampling. An entry with Result=blocked is always written as an
// alert too, and alerts bypass sampling entirely.
func (l *Logger) Record(entry pawn.AuditEntry, alertMessage string) error {
	entry = capFields(entry, l.cfg.MaxFieldSize)
	isAlert := entry.Result == pawn.AuditBlocked

	l.mu.Lock()
	defer l.mu.Unlock()

	if isAlert || l.cfg.SampleRate >= 1.0 || rand.Float64() < l.cfg.SampleRate {
		if err := writeJSONLine(l.log, entry); err != nil {
			return fmt.Errorf("audit: write log: %w", err)
		}
	}

	if isAlert {
		ae := alertEntry{AuditEntry: entry, AlertMessage: alertMessage, IsAlert: true}
		if err := writeJSONLine(l.alerts, ae); err != nil {
			return fmt.Errorf("audit: write alert: %w", err)
		}
	}
	return nil
}

func writeJSONLine(w *os.File, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	_, err = w.Write(b)
	return err
}

// capFields truncates every string-valued param to maxSize bytes, leaving
// everything else untouched. maxSize<=0 disables capping.
func capFields(entry pawn.AuditEntry, maxSize int) pawn.AuditEntry {
	if maxSize <= 0 || entry.Params == nil {
		return entry
	}
	capped := make(pawn.Params, len(entry.Params))
	for k, v := range entry.Params {
		if s, ok := v.(string); ok && len(s) > maxSize {
			capped[k] = s[:maxSize] + "...(truncated)"
		} else {
			capped[k] = v
		}
	}
	entry.Params = capped
	return entry
}

// Filter selects entries for Query.
type Filter struct {
	AgentID     string
	ActionType  string
	SafetyLevel pawn.SafetyLevel
	Result      pawn.AuditResult
	Since       time.Time
	Limit       int
}

// Query re-reads LogPath and returns entries matching f, newest last,
// capped at f.Limit (0 means unbounded).
func Query(logPath string, f Filter) ([]pawn.AuditEntry, error) {
	file, err := os.Open(logPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("audit: open for query: %w", err)
	}
	defer file.Close()

	var matched []pawn.AuditEntry
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var entry pawn.AuditEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		if !matches(entry, f) {
			continue
		}
		matched = append(matched, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("audit: scan: %w", err)
	}

	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[len(matched)-f.Limit:]
	}
	return matched, nil
}

func matches(e pawn.AuditEntry, f Filter) bool {
	if f.AgentID != "" && e.AgentID != f.AgentID {
		return false
	}
	if f.ActionType != "" && e.ActionType != f.ActionType {
		return false
	}
	if f.SafetyLevel != "" && e.SafetyLevel != f.SafetyLevel {
		return false
	}
	if f.Result != "" && e.Result != f.Result {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	return true
}

// Summary is an aggregate count over a set of audit entries.
type Summary struct {
	Total         int
	ByResult      map[pawn.AuditResult]int
	BySafetyLevel map[pawn.SafetyLevel]int
	ByAgent       map[string]int
}

// Summarize aggregates entries into a Summary.
func Summarize(entries []pawn.AuditEntry) Summary {
	s := Summary{
		ByResult:      make(map[pawn.AuditResult]int),
		BySafetyLevel: make(map[pawn.SafetyLevel]int),
		ByAgent:       make(map[string]int),
	}
	for _, e := range entries {
		s.Total++
		s.ByResult[e.Result]++
		s.BySafetyLevel[e.SafetyLevel]++
		s.ByAgent[e.AgentID]++
	}
	return s
}

// Sanitize replaces every string-valued param with its masked form using
// mask, returning a new Params map. Callers pass (*vault.Vault).Mask.
func Sanitize(params pawn.Params, mask func(string) string) pawn.Params {
	if params == nil {
		return nil
	}
	out := make(pawn.Params, len(params))
	for k, v := range params {
		if s, ok := v.(string); ok {
			out[k] = mask(s)
		} else {
			out[k] = v
		}
	}
	return out
}
