// Package engine implements the Agent Engine: the lifecycle owner for
// registered agents, the message-bus wiring, and the approval-request
// broker between Guardian and the butler.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/haasonsaas/pawnguard/internal/bus"
	"github.com/haasonsaas/pawnguard/pkg/pawn"
)

// Agent is what the Engine manages. Init is invoked once at Start in the
// fixed order guardian -> butler -> researcher -> executor; Shutdown
// reverses that order.
type Agent interface {
	ID() string
	Role() pawn.AgentRole
	Init(ctx context.Context, eng *Engine) error
	Shutdown(ctx context.Context) error
}

// initOrder is the fixed startup order. Agents whose role is not in this
// list start after it, in registration order.
var initOrder = []pawn.AgentRole{pawn.RoleGuardian, pawn.RoleButler, pawn.RoleResearcher, pawn.RoleExecutor}

// Engine owns the set of agents, the message bus, and the pending
// approvals table.
type Engine struct {
	mu      sync.RWMutex
	agents  map[string]Agent
	guardian Agent
	butler   Agent

	bus     *bus.Bus
	pending map[string]*pawn.ApprovalRequest

	running bool
	log     *slog.Logger
}

// New creates an Engine bound to the given message bus.
func New(messageBus *bus.Bus, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		agents:  make(map[string]Agent),
		bus:     messageBus,
		pending: make(map[string]*pawn.ApprovalRequest),
		log:     log,
	}
}

// Register adds agent, keyed by its ID. Roles "guardian" and "butler" are
// additionally kept by pointer for fast access.
func (e *Engine) Register(agent Agent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.agents[agent.ID()] = agent
	switch agent.Role() {
	case pawn.RoleGuardian:
		e.guardian = agent
	case pawn.RoleButler:
		e.butler = agent
	}
}

// Start injects the Engine into each agent and invokes Init in the fixed
// role order, then any remaining agents. Agents sharing a role init
// concurrently via an errgroup; a later role only begins once every agent
// in the prior role has finished.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	ordered, remaining := e.orderedAgentsLocked()
	e.running = true
	e.mu.Unlock()

	for _, role := range initOrder {
		group, groupCtx := errgroup.WithContext(ctx)
		for _, a := range ordered[role] {
			a := a
			group.Go(func() error { return a.Init(groupCtx, e) })
		}
		if err := group.Wait(); err != nil {
			return fmt.Errorf("engine: init role %q: %w", role, err)
		}
	}

	group, groupCtx := errgroup.WithContext(ctx)
	for _, a := range remaining {
		a := a
		group.Go(func() error { return a.Init(groupCtx, e) })
	}
	return group.Wait()
}

// Shutdown invokes Shutdown on every agent in the reverse of the init
// order.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	ordered, remaining := e.orderedAgentsLocked()
	e.running = false
	e.mu.Unlock()

	var firstErr error
	for _, a := range remaining {
		if err := a.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for i := len(initOrder) - 1; i >= 0; i-- {
		for _, a := range ordered[initOrder[i]] {
			if err := a.Shutdown(ctx); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (e *Engine) orderedAgentsLocked() (byRole map[pawn.AgentRole][]Agent, remaining []Agent) {
	byRole = make(map[pawn.AgentRole][]Agent)
	known := make(map[pawn.AgentRole]bool)
	for _, r := range initOrder {
		known[r] = true
	}
	for _, a := range e.agents {
		if known[a.Role()] {
			byRole[a.Role()] = append(byRole[a.Role()], a)
		} else {
			remaining = append(remaining, a)
		}
	}
	return byRole, remaining
}

// ErrNotRunning is returned by SubmitUserRequest when the Engine has not
// been started.
var ErrNotRunning = fmt.Errorf("engine: not running")

// ErrNoButler is returned by SubmitUserRequest when no butler is
// registered.
var ErrNoButler = fmt.Errorf("engine: no butler registered")

// SubmitUserRequest posts a task message to the butler.
func (e *Engine) SubmitUserRequest(text string) error {
	e.mu.RLock()
	running := e.running
	butler := e.butler
	e.mu.RUnlock()

	if !running {
		return ErrNotRunning
	}
	if butler == nil {
		return ErrNoButler
	}
	e.bus.Send(pawn.AgentMessage{To: butler.ID(), Type: pawn.MessageTask, Payload: text})
	return nil
}

// RequestApproval stores req keyed by its action request's ID, emits an
// approval_request message to the butler, and returns immediately; the
// actual outcome arrives later via ResolveApproval.
func (e *Engine) RequestApproval(req pawn.ApprovalRequest) pawn.ActionResult {
	e.mu.Lock()
	e.pending[req.ActionRequest.ID] = &req
	butler := e.butler
	e.mu.Unlock()

	if butler != nil {
		e.bus.Send(pawn.AgentMessage{To: butler.ID(), Type: pawn.MessageApprovalRequest, Payload: req})
	}
	return pawn.ActionResult{RequestID: req.ActionRequest.ID, Success: false, Error: "awaiting approval"}
}

// Add implements guardian.PendingApprovals so Guardian can park a request
// directly without going through RequestApproval's return value.
func (e *Engine) Add(req pawn.ApprovalRequest) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending[req.ActionRequest.ID] = &req
	if e.butler != nil {
		go e.bus.Send(pawn.AgentMessage{To: e.butler.ID(), Type: pawn.MessageApprovalRequest, Payload: req})
	}
}

// ResolveApproval flips the pending request's status, sets the reviewer
// identity/time/reason, removes it from the pending table, and emits an
// approval_response message to the original requester. A no-op for
// unknown ids.
func (e *Engine) ResolveApproval(id string, approved bool, reviewer, reason string) {
	e.mu.Lock()
	req, ok := e.pending[id]
	if !ok {
		e.mu.Unlock()
		return
	}
	delete(e.pending, id)

	if approved {
		req.Status = pawn.ApprovalApproved
	} else {
		req.Status = pawn.ApprovalRejected
	}
	req.ReviewedBy = reviewer
	req.ReviewedAt = time.Now()
	req.Reason = reason
	requesterID := req.ActionRequest.AgentID
	response := *req
	e.mu.Unlock()

	e.bus.Send(pawn.AgentMessage{To: requesterID, Type: pawn.MessageApprovalResponse, Payload: response})
}

// PendingApproval returns a copy of the pending request for id, if any.
func (e *Engine) PendingApproval(id string) (pawn.ApprovalRequest, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	req, ok := e.pending[id]
	if !ok {
		return pawn.ApprovalRequest{}, false
	}
	return *req, true
}

// CleanupExpired removes pending approvals older than maxAge and returns
// how many were removed. This is the supplemental periodic sweep from
// SPEC_FULL's expiry-vs-fail-safe-timeout distinction.
func (e *Engine) CleanupExpired(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	e.mu.Lock()
	defer e.mu.Unlock()
	removed := 0
	for id, req := range e.pending {
		if req.ActionRequest.Timestamp.Before(cutoff) {
			delete(e.pending, id)
			removed++
		}
	}
	return removed
}
