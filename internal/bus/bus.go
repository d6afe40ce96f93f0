// Package bus implements the Message Bus: per-recipient asynchronous
// mailboxes with bounded history and broadcast. It is strictly
// single-process; there is no network transport.
package bus

import (
	"sync"

	"github.com/haasonsaas/pawnguard/pkg/pawn"
)

// defaultHistoryLimit is the bounded history size (oldest evicted).
const defaultHistoryLimit = 1000

// Handler receives messages addressed to one agent, in FIFO send order.
type Handler func(msg pawn.AgentMessage)

// Bus delivers pawn.AgentMessage values to registered per-agent handlers.
type Bus struct {
	mu           sync.Mutex
	handlers     map[string]Handler
	history      []pawn.AgentMessage
	historyLimit int
}

// New creates a Bus with the default bounded history size.
func New() *Bus {
	return &Bus{handlers: make(map[string]Handler), historyLimit: defaultHistoryLimit}
}

// Register installs the single handler for recipientID, replacing any
// prior handler.
func (b *Bus) Register(recipientID string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[recipientID] = handler
}

// Unregister removes recipientID's handler.
func (b *Bus) Unregister(recipientID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, recipientID)
}

// Send appends msg to the bounded history and delivers it to msg.To's
// handler, if one is registered. Delivery is synchronous to the handler
// call, but the bus does not await the handler's own completion beyond
// that call returning.
func (b *Bus) Send(msg pawn.AgentMessage) {
	b.mu.Lock()
	b.appendHistory(msg)
	handler := b.handlers[msg.To]
	b.mu.Unlock()

	if handler != nil {
		handler(msg)
	}
}

// Broadcast delivers msg to every registered recipient except msg.From.
func (b *Bus) Broadcast(msg pawn.AgentMessage) {
	b.mu.Lock()
	b.appendHistory(msg)
	targets := make([]Handler, 0, len(b.handlers))
	for id, h := range b.handlers {
		if id == msg.From {
			continue
		}
		targets = append(targets, h)
	}
	b.mu.Unlock()

	for _, h := range targets {
		h(msg)
	}
}

func (b *Bus) appendHistory(msg pawn.AgentMessage) {
	b.history = append(b.history, msg)
	if len(b.history) > b.historyLimit {
		b.history = b.history[len(b.history)-b.historyLimit:]
	}
}

// GetHistory returns the last limit messages (0 means unbounded) in which
// agentID participated as From or To. An empty agentID returns the full
// history regardless of participant.
func (b *Bus) GetHistory(agentID string, limit int) []pawn.AgentMessage {
	b.mu.Lock()
	defer b.mu.Unlock()

	var matched []pawn.AgentMessage
	for _, msg := range b.history {
		if agentID == "" || msg.From == agentID || msg.To == agentID {
			matched = append(matched, msg)
		}
	}

	if limit > 0 && len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	return matched
}
