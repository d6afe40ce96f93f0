package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/haasonsaas/pawnguard/internal/bus"
	"github.com/haasonsaas/pawnguard/internal/engine"
	"github.com/haasonsaas/pawnguard/internal/session"
	"github.com/haasonsaas/pawnguard/pkg/pawn"
)

// staticAgent is the glue adapter between a config.AgentConfig and
// engine.Agent. The core does not itself perform reasoning or choose
// which tool to call; a staticAgent only registers a bus handler that
// logs the messages it receives (and, when a Session Manager is
// configured, persists each one to the agent's active session), leaving
// actual task dispatch to whatever LLM-driven process sits above the
// core.
type staticAgent struct {
	id       string
	role     pawn.AgentRole
	log      *slog.Logger
	bus      *bus.Bus
	sessions *session.Manager // nil when sessions are not configured
}

func newStaticAgent(id string, role pawn.AgentRole, messageBus *bus.Bus, sessions *session.Manager, log *slog.Logger) *staticAgent {
	return &staticAgent{id: id, role: role, bus: messageBus, sessions: sessions, log: log}
}

func (a *staticAgent) ID() string          { return a.id }
func (a *staticAgent) Role() pawn.AgentRole { return a.role }

func (a *staticAgent) Init(ctx context.Context, eng *engine.Engine) error {
	if a.sessions != nil {
		if _, err := a.sessions.Create(a.id); err != nil && err != session.ErrAlreadyActive {
			return fmt.Errorf("agent %s: starting session: %w", a.id, err)
		}
	}

	a.bus.Register(a.id, func(msg pawn.AgentMessage) {
		a.log.Info("agent received message", "agent", a.id, "role", a.role, "from", msg.From, "type", msg.Type)
		if a.sessions == nil {
			return
		}
		sessionMsg := pawn.SessionMessage{
			Role:    messageSessionRole(msg.Type),
			Content: fmt.Sprintf("%v", msg.Payload),
		}
		if err := a.sessions.Append(a.id, sessionMsg); err != nil {
			a.log.Warn("session append failed", "agent", a.id, "error", err)
		}
	})
	a.log.Info("agent initialized", "agent", a.id, "role", a.role)
	return nil
}

func (a *staticAgent) Shutdown(ctx context.Context) error {
	a.bus.Unregister(a.id)
	if a.sessions != nil {
		if err := a.sessions.Complete(a.id); err != nil && err != session.ErrNoActiveSession {
			a.log.Warn("session complete failed", "agent", a.id, "error", err)
		}
	}
	a.log.Info("agent shut down", "agent", a.id, "role", a.role)
	return nil
}

// messageSessionRole maps a bus message's type to the session role it is
// recorded under: task/result traffic reads as user/assistant turns,
// everything else (approvals, alerts) is a system note.
func messageSessionRole(t pawn.MessageType) pawn.SessionRole {
	switch t {
	case pawn.MessageTask:
		return pawn.SessionRoleUser
	case pawn.MessageResult:
		return pawn.SessionRoleAssistant
	default:
		return pawn.SessionRoleSystem
	}
}
