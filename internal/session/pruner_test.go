package session

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/haasonsaas/pawnguard/pkg/pawn"
)

func msg(role pawn.SessionRole, content string) pawn.SessionMessage {
	return pawn.SessionMessage{Role: role, Content: content}
}

func toolPair(callID, args, result string) []pawn.SessionMessage {
	return []pawn.SessionMessage{
		{
			Role:      pawn.SessionRoleAssistant,
			ToolCalls: []pawn.ToolCallRef{{ID: callID, Name: "read_file", Arguments: args}},
		},
		{
			Role:       pawn.SessionRoleTool,
			ToolResult: &pawn.ToolResultRef{ToolCallID: callID, Content: result},
		},
	}
}

func TestPruneStrategyNoneIsNoop(t *testing.T) {
	p := NewPruner(context.Background(), StrategyNone, 1, nil)
	in := []pawn.SessionMessage{msg(pawn.SessionRoleUser, strings.Repeat("x", 1000))}
	result := p.Prune(in)
	out := result.Messages
	if len(out) != len(in) {
		t.Fatalf("none strategy should not prune")
	}
}

func TestPruneUnderBudgetIsNoop(t *testing.T) {
	p := NewPruner(context.Background(), StrategySlidingWindow, 100000, nil)
	in := []pawn.SessionMessage{msg(pawn.SessionRoleUser, "short")}
	result := p.Prune(in)
	out := result.Messages
	if len(out) != 1 {
		t.Fatalf("under-budget history should not be pruned")
	}
}

func TestSlideWindowKeepsSystemMessagesAndMostRecent(t *testing.T) {
	p := NewPruner(context.Background(), StrategySlidingWindow, 4, nil)
	in := []pawn.SessionMessage{
		msg(pawn.SessionRoleSystem, "sys"),
		msg(pawn.SessionRoleUser, strings.Repeat("a", 100)),
		msg(pawn.SessionRoleUser, "recent"),
	}
	result := p.Prune(in)
	out := result.Messages
	if out[0].Role != pawn.SessionRoleSystem {
		t.Fatalf("system message must survive pruning, got %+v", out[0])
	}
	last := out[len(out)-1]
	if last.Content != "recent" {
		t.Fatalf("most recent message should survive, got %q", last.Content)
	}
}

func TestSlideWindowPreservesToolCallPairing(t *testing.T) {
	// Budget fits the tool_calls/tool_result pair exactly but not the
	// earlier "old" message, which must be dropped whole rather than
	// splitting the pair.
	p := NewPruner(context.Background(), StrategySlidingWindow, 28, nil)
	pair := toolPair("call-1", strings.Repeat("a", 50), strings.Repeat("b", 50))
	in := append([]pawn.SessionMessage{msg(pawn.SessionRoleUser, "old")}, pair...)

	result := p.Prune(in)
	out := result.Messages
	if len(out) != 2 {
		t.Fatalf("len(out) = %d, want 2 (the intact tool_calls/tool_result pair)", len(out))
	}
	for _, m := range out {
		if m.Role == pawn.SessionRoleTool && m.ToolResult != nil {
			found := false
			for _, other := range out {
				for _, tc := range other.ToolCalls {
					if tc.ID == m.ToolResult.ToolCallID {
						found = true
					}
				}
			}
			if !found {
				t.Fatalf("orphaned tool result survived pruning: %+v", m)
			}
		}
	}
}

type stubSummarizer struct {
	summary string
	err     error
}

func (s stubSummarizer) Summarize(ctx context.Context, messages []pawn.SessionMessage) (string, error) {
	return s.summary, s.err
}

func buildLongHistory(n int) []pawn.SessionMessage {
	var out []pawn.SessionMessage
	for i := 0; i < n; i++ {
		out = append(out, msg(pawn.SessionRoleUser, strings.Repeat("x", 200)))
	}
	return out
}

func TestSummarizeCondensesOlderMessages(t *testing.T) {
	p := NewPruner(context.Background(), StrategySummarize, 10, stubSummarizer{summary: "condensed"})
	in := buildLongHistory(10)
	result := p.Prune(in)
	out := result.Messages

	foundSummary := false
	for _, m := range out {
		if m.Role == pawn.SessionRoleSystem && strings.Contains(m.Content, "condensed") {
			foundSummary = true
		}
	}
	if !foundSummary {
		t.Fatal("expected a system summary message in the pruned output")
	}
	if len(out) >= len(in) {
		t.Fatalf("summarize should shrink history, got %d >= %d", len(out), len(in))
	}
}

func TestSummarizeFallsBackWhenTooFewMessages(t *testing.T) {
	p := NewPruner(context.Background(), StrategySummarize, 1, stubSummarizer{summary: "condensed"})
	in := buildLongHistory(2)
	result := p.Prune(in)
	out := result.Messages
	for _, m := range out {
		if m.Role == pawn.SessionRoleSystem {
			t.Fatal("too few messages should fall back to sliding_window, not summarize")
		}
	}
}

func TestSummarizeFallsBackOnSummarizerError(t *testing.T) {
	p := NewPruner(context.Background(), StrategySummarize, 10, stubSummarizer{err: errors.New("llm down")})
	in := buildLongHistory(10)
	result := p.Prune(in)
	out := result.Messages
	for _, m := range out {
		if m.Role == pawn.SessionRoleSystem {
			t.Fatal("summarizer failure should fall back to sliding_window, not insert a broken summary")
		}
	}
}

func TestSummarizeFallsBackWithNoSummarizerConfigured(t *testing.T) {
	p := NewPruner(context.Background(), StrategySummarize, 10, nil)
	in := buildLongHistory(10)
	result := p.Prune(in)
	out := result.Messages
	if len(out) == 0 {
		t.Fatal("should still return a pruned (sliding_window) result")
	}
}
