// Package guardian implements the central policy pipeline: it composes
// the Action Classifier, URL Policy, Secret Vault masking, and Audit Log,
// and orchestrates the external-approval protocol for dangerous actions.
package guardian

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/haasonsaas/pawnguard/internal/audit"
	"github.com/haasonsaas/pawnguard/internal/classifier"
	"github.com/haasonsaas/pawnguard/internal/urlpolicy"
	"github.com/haasonsaas/pawnguard/internal/vault"
	"github.com/haasonsaas/pawnguard/pkg/pawn"
)

// Channel delivers an ApprovalNotification to a human reviewer and blocks
// until a response arrives or ctx is done. Implementations must never
// auto-approve on their own failure; Guardian treats a returned error the
// same as a timeout (fail-safe block).
type Channel interface {
	RequestApproval(ctx context.Context, notification pawn.ApprovalNotification) (pawn.ApprovalResponse, error)
}

// PendingApprovals is the Engine's keyed-by-id table for requests that
// have no external channel and must wait on the local butler.
type PendingApprovals interface {
	Add(req pawn.ApprovalRequest)
}

// Metrics is Guardian's counter set, exported on /metrics per SPEC_FULL's
// domain-stack wiring of prometheus/client_golang.
type Metrics struct {
	TotalChecked prometheus.Counter
	Blocked      prometheus.Counter
}

// NewMetrics registers and returns Guardian's counters against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TotalChecked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pawnguard_guardian_total_checked",
			Help: "Total actions evaluated by Guardian.",
		}),
		Blocked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pawnguard_guardian_blocked_total",
			Help: "Actions blocked or denied by Guardian.",
		}),
	}
	reg.MustRegister(m.TotalChecked, m.Blocked)
	return m
}

// Config parameterizes Guardian beyond the classifier's own SafetyConfig.
type Config struct {
	ApprovalTimeout          time.Duration // how long to wait for an external approval response
	MaxAutoApprovePerSession int           // 0 disables the cap
}

// Guardian owns the URL Policy, Classifier, Vault, and Audit Log: no other
// component holds a reference to them directly.
type Guardian struct {
	cfg       Config
	classify  *classifier.Classifier
	urls      *urlpolicy.Policy
	secrets   *vault.Vault
	log       *audit.Logger
	channel   Channel // nil means no external approval channel configured
	pending   PendingApprovals
	metrics   *Metrics
	logger    *slog.Logger

	mu                sync.Mutex
	sessionApprovals  map[string]map[pawn.SafetyLevel]int
}

// New builds a Guardian. channel may be nil (no external approval
// configured); pending may be nil in tests that only exercise
// auto-approve/auto-block paths.
func New(cfg Config, classify *classifier.Classifier, urls *urlpolicy.Policy, secrets *vault.Vault, auditLog *audit.Logger, channel Channel, pending PendingApprovals, metrics *Metrics, logger *slog.Logger) *Guardian {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guardian{
		cfg:              cfg,
		classify:         classify,
		urls:             urls,
		secrets:          secrets,
		log:              auditLog,
		channel:          channel,
		pending:          pending,
		metrics:          metrics,
		logger:           logger,
		sessionApprovals: make(map[string]map[pawn.SafetyLevel]int),
	}
}

// ValidateAction runs the fixed-order validation pipeline: classify,
// forbidden block, URL policy, secret/signup/payment re-checks, then the
// dangerous-action branch.
func (g *Guardian) ValidateAction(ctx context.Context, req pawn.ActionRequest) pawn.ActionResult {
	if g.metrics != nil {
		g.metrics.TotalChecked.Inc()
	}

	verdict := g.classify.Classify(req)
	sanitizedParams := g.sanitize(req.Params)

	if verdict.Level == pawn.SafetyForbidden {
		return g.block(req, verdict.Level, sanitizedParams, "Action is forbidden by safety policy: "+verdict.Cause)
	}

	if (req.ActionType == "web_search" || req.ActionType == "web_fetch") {
		if result, blocked := g.checkURLPolicy(req, verdict.Level, sanitizedParams); blocked {
			return result
		}
	}

	if pattern, ok := g.classify.ContainsSecretPattern(req.Params); ok {
		return g.block(req, pawn.SafetyDangerous, sanitizedParams, "Potential secret exposure detected: "+pattern)
	}

	if g.classify.ContainsSignupPattern(req) {
		return g.block(req, pawn.SafetyForbidden, sanitizedParams, "Action is forbidden by safety policy: signup pattern detected")
	}
	if g.classify.ContainsPaymentPattern(req.Params) {
		return g.block(req, pawn.SafetyForbidden, sanitizedParams, "Action is forbidden by safety policy: payment pattern detected")
	}

	if verdict.Level != pawn.SafetyDangerous {
		return g.autoApprove(req, verdict.Level, sanitizedParams)
	}

	if g.channel != nil {
		return g.externalApproval(ctx, req, verdict.Level, sanitizedParams)
	}

	return g.awaitLocalApproval(req, verdict.Level, sanitizedParams)
}

func (g *Guardian) checkURLPolicy(req pawn.ActionRequest, level pawn.SafetyLevel, sanitized pawn.Params) (pawn.ActionResult, bool) {
	target := paramString(req.Params, "url")
	if target == "" {
		target = paramString(req.Params, "query")
	}
	if !strings.HasPrefix(target, "http") {
		return pawn.ActionResult{}, false
	}
	decision := g.urls.IsAllowed(target)
	if decision.Allowed {
		return pawn.ActionResult{}, false
	}
	return g.block(req, level, sanitized, decision.Reason), true
}

func (g *Guardian) block(req pawn.ActionRequest, level pawn.SafetyLevel, sanitized pawn.Params, reason string) pawn.ActionResult {
	g.recordAndCount(req, level, sanitized, pawn.ApprovalAutoBlocked, pawn.AuditBlocked, reason, true)
	return pawn.ActionResult{RequestID: req.ID, Success: false, BlockedBy: "guardian", BlockedReason: reason}
}

func (g *Guardian) autoApprove(req pawn.ActionRequest, level pawn.SafetyLevel, sanitized pawn.Params) pawn.ActionResult {
	g.recordAndCount(req, level, sanitized, pawn.ApprovalAutoApproved, pawn.AuditSuccess, "", false)
	return pawn.ActionResult{RequestID: req.ID, Success: true}
}

func (g *Guardian) awaitLocalApproval(req pawn.ActionRequest, level pawn.SafetyLevel, sanitized pawn.Params) pawn.ActionResult {
	approval := pawn.ApprovalRequest{ActionRequest: req, Status: pawn.ApprovalPending}
	if g.pending != nil {
		g.pending.Add(approval)
	}
	g.recordPending(req, level, sanitized, "awaiting approval")
	return pawn.ActionResult{RequestID: req.ID, Success: false, Error: "awaiting approval"}
}

// externalApproval builds a notification, sends it, and waits up to
// cfg.ApprovalTimeout; it fail-safe rejects on timeout or transport error
// and never auto-approves on failure.
func (g *Guardian) externalApproval(ctx context.Context, req pawn.ActionRequest, level pawn.SafetyLevel, sanitized pawn.Params) pawn.ActionResult {
	if g.overSessionCap(req) {
		return g.awaitLocalApproval(req, level, sanitized)
	}

	notification := pawn.ApprovalNotification{
		RequestID:   req.ID,
		AgentName:   string(req.AgentRole),
		ActionType:  req.ActionType,
		SafetyLevel: pawn.SafetyDangerous,
		Description: fmt.Sprintf("%s requests to perform %s", req.AgentRole, req.ActionType),
		Params:      sanitized,
	}

	timeout := g.cfg.ApprovalTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	response, err := g.channel.RequestApproval(waitCtx, notification)
	if err != nil || !response.Approved {
		reason := "Approval timed out - auto-rejected (fail-safe)"
		if err == nil && response.Reason != "" {
			reason = response.RespondedBy + ": " + response.Reason
		} else if err == nil {
			reason = response.RespondedBy + ": rejected"
		}
		g.recordAndCount(req, level, sanitized, pawn.ApprovalRejected, pawn.AuditBlocked, reason, true)
		return pawn.ActionResult{RequestID: req.ID, Success: false, BlockedBy: "external_approval", BlockedReason: reason}
	}

	g.trackSessionApproval(req)
	g.recordAndCount(req, level, sanitized, pawn.ApprovalApproved, pawn.AuditSuccess, "approved by "+response.RespondedBy, false)
	return pawn.ActionResult{RequestID: req.ID, Success: true}
}

func (g *Guardian) overSessionCap(req pawn.ActionRequest) bool {
	if g.cfg.MaxAutoApprovePerSession <= 0 {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	counts, ok := g.sessionApprovals[req.AgentID]
	if !ok {
		return false
	}
	return counts[pawn.SafetyDangerous] >= g.cfg.MaxAutoApprovePerSession
}

func (g *Guardian) trackSessionApproval(req pawn.ActionRequest) {
	if g.cfg.MaxAutoApprovePerSession <= 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	counts, ok := g.sessionApprovals[req.AgentID]
	if !ok {
		counts = make(map[pawn.SafetyLevel]int)
		g.sessionApprovals[req.AgentID] = counts
	}
	counts[pawn.SafetyDangerous]++
}

// recordPending logs a pending-approval entry without incrementing the
// blocked counter: per spec.md §4.4, blockedCount increments on every
// non-success outcome except "awaiting approval".
func (g *Guardian) recordPending(req pawn.ActionRequest, level pawn.SafetyLevel, sanitized pawn.Params, details string) {
	if g.log == nil {
		return
	}
	entry := pawn.AuditEntry{
		Timestamp:      time.Now(),
		AgentID:        req.AgentID,
		AgentRole:      req.AgentRole,
		ActionType:     req.ActionType,
		SafetyLevel:    level,
		ApprovalStatus: pawn.ApprovalPending,
		Params:         sanitized,
		Result:         pawn.AuditBlocked,
		Details:        details,
	}
	if err := g.log.Record(entry, ""); err != nil {
		g.logger.Error("audit record failed", "error", err)
	}
}

func (g *Guardian) recordAndCount(req pawn.ActionRequest, level pawn.SafetyLevel, sanitized pawn.Params, status pawn.ApprovalStatus, result pawn.AuditResult, details string, isAlert bool) {
	if g.metrics != nil && result != pawn.AuditSuccess {
		g.metrics.Blocked.Inc()
	}
	if g.log == nil {
		return
	}
	entry := pawn.AuditEntry{
		Timestamp:      time.Now(),
		AgentID:        req.AgentID,
		AgentRole:      req.AgentRole,
		ActionType:     req.ActionType,
		SafetyLevel:    level,
		ApprovalStatus: status,
		Params:         sanitized,
		Result:         result,
		Details:        details,
	}
	alertMessage := ""
	if isAlert {
		alertMessage = details
	}
	if err := g.log.Record(entry, alertMessage); err != nil {
		g.logger.Error("audit record failed", "error", err)
	}
}

func (g *Guardian) sanitize(params pawn.Params) pawn.Params {
	return audit.Sanitize(params, g.secrets.Mask)
}

func paramString(params pawn.Params, key string) string {
	v, ok := params[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}
