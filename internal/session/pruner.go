package session

import (
	"context"
	"strings"

	"github.com/haasonsaas/pawnguard/pkg/pawn"
)

// Strategy selects how a Pruner reduces history once it exceeds budget.
type Strategy string

const (
	StrategyNone           Strategy = "none"
	StrategySlidingWindow  Strategy = "sliding_window"
	StrategySummarize      Strategy = "summarize"
)

// charsPerToken approximates token count without a real tokenizer: roughly
// 4 characters per token.
const charsPerToken = 4

// minMessagesForSummarize is the floor below which summarize degrades to
// sliding_window rather than spending an LLM call on a handful of messages.
const minMessagesForSummarize = 5

// summarizeSplitFraction is where the history is cut before the older
// portion is summarized: the most recent 40% is kept verbatim, the older
// 60% is condensed.
const summarizeSplitFraction = 0.6

// Summarizer produces a condensed text for a run of session messages. The
// Agent Engine's LLM facade satisfies this for the summarize strategy.
type Summarizer interface {
	Summarize(ctx context.Context, messages []pawn.SessionMessage) (string, error)
}

// Pruner enforces a token budget over a session's message history,
// preserving the invariant that every tool message's ToolCallID references
// a ToolCallRef in some retained preceding assistant message.
type Pruner struct {
	Strategy     Strategy
	MaxTokens    int
	Summarizer   Summarizer
	ctx          context.Context
}

// NewPruner builds a Pruner. ctx is used for summarize-strategy LLM calls;
// pass context.Background() when no per-call cancellation is needed.
func NewPruner(ctx context.Context, strategy Strategy, maxTokens int, summarizer Summarizer) *Pruner {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Pruner{Strategy: strategy, MaxTokens: maxTokens, Summarizer: summarizer, ctx: ctx}
}

// estimateTokens approximates a single message's token cost from its
// content plus any serialized tool-call/tool-result payload.
func estimateTokens(msg pawn.SessionMessage) int {
	chars := len(msg.Content)
	for _, tc := range msg.ToolCalls {
		chars += len(tc.Arguments) + len(tc.Name)
	}
	if msg.ToolResult != nil {
		chars += len(msg.ToolResult.Content)
	}
	return (chars + charsPerToken - 1) / charsPerToken
}

func estimateTotal(messages []pawn.SessionMessage) int {
	total := 0
	for _, m := range messages {
		total += estimateTokens(m)
	}
	return total
}

// Result reports what Prune did, so callers can tell whether the
// conversation handed back was altered, per spec.md §4.10.
type Result struct {
	Messages     []pawn.SessionMessage
	Pruned       bool
	RemovedCount int
	Summary      string // non-empty only when the summarize strategy produced one
}

// Prune reduces messages to fit MaxTokens according to Strategy. System
// messages are always retained.
func (p *Pruner) Prune(messages []pawn.SessionMessage) Result {
	if p == nil || p.MaxTokens <= 0 || p.Strategy == StrategyNone {
		return Result{Messages: messages}
	}
	if estimateTotal(messages) <= p.MaxTokens {
		return Result{Messages: messages}
	}

	var out []pawn.SessionMessage
	var summary string
	switch p.Strategy {
	case StrategySummarize:
		out, summary = p.summarize(messages)
	case StrategySlidingWindow:
		out = p.slideWindow(messages)
	default:
		return Result{Messages: messages}
	}

	return Result{
		Messages:     out,
		Pruned:       len(out) != len(messages),
		RemovedCount: len(messages) - len(out),
		Summary:      summary,
	}
}

// slideWindow keeps system messages plus the most recent non-system
// messages that fit within MaxTokens, extending any trailing trim point
// leftward past a tool message until its matching tool_calls message is
// also included (or excluded together), preserving the pairing invariant.
func (p *Pruner) slideWindow(messages []pawn.SessionMessage) []pawn.SessionMessage {
	var system, rest []pawn.SessionMessage
	for _, m := range messages {
		if m.Role == pawn.SessionRoleSystem {
			system = append(system, m)
		} else {
			rest = append(rest, m)
		}
	}

	budget := p.MaxTokens - estimateTotal(system)
	if budget <= 0 {
		return system
	}

	kept := make([]pawn.SessionMessage, 0, len(rest))
	total := 0
	for i := len(rest) - 1; i >= 0; i-- {
		msg := rest[i]
		cost := estimateTokens(msg)
		if total+cost > budget {
			break
		}
		kept = append([]pawn.SessionMessage{msg}, kept...)
		total += cost
	}

	kept = enforcePairing(kept)
	return append(append([]pawn.SessionMessage{}, system...), kept...)
}

// enforcePairing drops a leading orphaned tool message (one whose
// ToolCallID does not appear in any ToolCallRef within kept) so that a
// sliding-window cut never splits a tool_calls/tool_result pair.
func enforcePairing(kept []pawn.SessionMessage) []pawn.SessionMessage {
	knownCallIDs := make(map[string]bool)
	for _, m := range kept {
		for _, tc := range m.ToolCalls {
			knownCallIDs[tc.ID] = true
		}
	}
	start := 0
	for start < len(kept) {
		msg := kept[start]
		if msg.Role == pawn.SessionRoleTool && msg.ToolResult != nil && !knownCallIDs[msg.ToolResult.ToolCallID] {
			start++
			continue
		}
		break
	}
	return kept[start:]
}

// summarize splits the non-system messages at summarizeSplitFraction,
// summarizes the older portion, and keeps the newer portion verbatim. It
// falls back to slideWindow when there are too few messages to summarize
// usefully, no Summarizer is configured, or the summarizer call fails —
// summarization must never be allowed to lose history outright.
func (p *Pruner) summarize(messages []pawn.SessionMessage) (out []pawn.SessionMessage, summary string) {
	var system, rest []pawn.SessionMessage
	for _, m := range messages {
		if m.Role == pawn.SessionRoleSystem {
			system = append(system, m)
		} else {
			rest = append(rest, m)
		}
	}

	if p.Summarizer == nil || len(rest) < minMessagesForSummarize {
		return p.slideWindow(messages), ""
	}

	splitIdx := int(float64(len(rest)) * summarizeSplitFraction)
	splitIdx = alignToPairBoundary(rest, splitIdx)
	older, newer := rest[:splitIdx], rest[splitIdx:]
	if len(older) == 0 {
		return p.slideWindow(messages), ""
	}

	condensed, err := p.Summarizer.Summarize(p.ctx, older)
	if err != nil {
		return p.slideWindow(messages), ""
	}

	summaryMsg := pawn.SessionMessage{Role: pawn.SessionRoleSystem, Content: summaryNote(condensed)}
	result := append(append([]pawn.SessionMessage{}, system...), summaryMsg)
	result = append(result, newer...)
	return result, condensed
}

// alignToPairBoundary nudges idx forward past any tool message whose
// tool_calls counterpart would otherwise fall on the summarized side.
func alignToPairBoundary(rest []pawn.SessionMessage, idx int) int {
	if idx <= 0 || idx >= len(rest) {
		return idx
	}
	knownCallIDs := make(map[string]bool)
	for _, m := range rest[idx:] {
		for _, tc := range m.ToolCalls {
			knownCallIDs[tc.ID] = true
		}
	}
	for idx < len(rest) {
		msg := rest[idx]
		if msg.Role == pawn.SessionRoleTool && msg.ToolResult != nil && !knownCallIDs[msg.ToolResult.ToolCallID] {
			idx++
			continue
		}
		break
	}
	return idx
}

func summaryNote(summary string) string {
	return "[Previous conversation summary]: " + strings.TrimSpace(summary)
}
