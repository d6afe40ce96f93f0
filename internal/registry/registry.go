// Package registry implements the Tool Registry: a write-once mapping
// from tool name to ToolDefinition, enforcing role and agent-level ACLs
// ahead of Guardian and dispatching execution.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/pawnguard/pkg/pawn"
)

// toolAliases maps alternative tool names to their canonical form, resolved
// at lookup time only; it never changes the write-once registration table.
var toolAliases = map[string]string{
	"bash":        "exec_command",
	"shell":       "exec_command",
	"apply-patch": "edit_file",
	"apply_patch": "edit_file",
	"websearch":   "web_search",
	"webfetch":    "web_fetch",
}

// Groups let an ACL grant several tools at once, resolved at ACL-check
// time.
var Groups = map[string][]string{
	"group:fs":      {"read_file", "write_file", "edit_file", "exec_command"},
	"group:web":     {"web_search", "web_fetch"},
	"group:runtime": {"execute_code"},
}

// NormalizeToolName lowercases and resolves the alias table.
func NormalizeToolName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if canonical, ok := toolAliases[normalized]; ok {
		return canonical
	}
	return normalized
}

// ToolDefinition is registered once under its Name. RequiredRole empty
// means any role may invoke it.
type ToolDefinition struct {
	Name          string
	Description   string
	SafetyLevel   pawn.SafetyLevel
	RequiredRole  []pawn.AgentRole
	Schema        json.RawMessage // JSON Schema for Params; nil means no validation
	Execute       func(ctx context.Context, params pawn.Params) (any, error)

	compiledSchema *jsonschema.Schema
}

// Agent is the minimal view the registry needs of a tool caller.
type Agent struct {
	ID   string
	Role pawn.AgentRole
}

// ACL resolves an agent's tool allow/deny lists. Deny always wins.
type ACL interface {
	IsToolAllowed(agentID, toolName string) bool
}

// GuardianForwarder hands a freshly constructed ActionRequest to the
// Engine/Guardian pipeline.
type GuardianForwarder interface {
	ValidateAction(ctx context.Context, req pawn.ActionRequest) pawn.ActionResult
}

// Registry is a write-once name -> ToolDefinition table.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*ToolDefinition
	acl   ACL
	guard GuardianForwarder
}

// New creates an empty Registry. acl and guard may be nil during tests that
// only exercise registration; Execute will fail fast if either is nil when
// actually needed.
func New(acl ACL, guard GuardianForwarder) *Registry {
	return &Registry{tools: make(map[string]*ToolDefinition), acl: acl, guard: guard}
}

// ErrAlreadyRegistered is returned by Register when name is already taken.
func errAlreadyRegistered(name string) error {
	return fmt.Errorf("registry: tool %q already registered", name)
}

// Register adds def under its canonical name. Redefinition fails.
func (r *Registry) Register(def ToolDefinition) error {
	name := NormalizeToolName(def.Name)
	def.Name = name

	if len(def.Schema) > 0 {
		compiled, err := compileSchema(def.Schema)
		if err != nil {
			return fmt.Errorf("registry: compile schema for %q: %w", name, err)
		}
		def.compiledSchema = compiled
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return errAlreadyRegistered(name)
	}
	r.tools[name] = &def
	return nil
}

func compileSchema(raw json.RawMessage) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	const resourceName = "tool-params.json"
	if err := compiler.AddResource(resourceName, strings.NewReader(string(raw))); err != nil {
		return nil, err
	}
	return compiler.Compile(resourceName)
}

func (r *Registry) lookup(name string) (*ToolDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.tools[NormalizeToolName(name)]
	return def, ok
}

// ExecResult mirrors pawn.ActionResult; Execute always returns one.
type ExecResult = pawn.ActionResult

// Execute runs the full dispatch pipeline: lookup, role ACL, agent ACL,
// param validation, ActionRequest construction, forwarding to Guardian,
// and finally the tool function itself.
func (r *Registry) Execute(ctx context.Context, name string, params pawn.Params, agent Agent) ExecResult {
	def, ok := r.lookup(name)
	if !ok {
		return ExecResult{Success: false, Error: fmt.Sprintf("unknown tool %q", name)}
	}

	if len(def.RequiredRole) > 0 && !roleAllowed(agent.Role, def.RequiredRole) {
		return ExecResult{
			Success:       false,
			BlockedBy:     "tool_registry",
			BlockedReason: fmt.Sprintf("role %q is not permitted to use tool %q", agent.Role, def.Name),
		}
	}

	if r.acl != nil && !r.acl.IsToolAllowed(agent.ID, def.Name) {
		return ExecResult{
			Success:       false,
			BlockedBy:     "agent_policy",
			BlockedReason: fmt.Sprintf("agent %q is not permitted to use tool %q", agent.ID, def.Name),
		}
	}

	if def.compiledSchema != nil {
		if err := validateParams(def.compiledSchema, params); err != nil {
			return ExecResult{Success: false, Error: fmt.Sprintf("invalid parameters: %v", err)}
		}
	}

	req := pawn.ActionRequest{
		ID:               uuid.NewString(),
		AgentID:          agent.ID,
		AgentRole:        agent.Role,
		ActionType:       def.Name,
		Params:           params,
		SafetyLevel:      def.SafetyLevel,
		Timestamp:        time.Now(),
		RequiresApproval: def.SafetyLevel == pawn.SafetyDangerous,
	}

	if r.guard == nil {
		return ExecResult{Success: false, Error: "registry: no guardian configured"}
	}
	verdict := r.guard.ValidateAction(ctx, req)
	if !verdict.Success {
		return verdict
	}

	data, err := def.Execute(ctx, params)
	if err != nil {
		return ExecResult{RequestID: req.ID, Success: false, Error: err.Error()}
	}
	return ExecResult{RequestID: req.ID, Success: true, Data: data}
}

func roleAllowed(role pawn.AgentRole, allowed []pawn.AgentRole) bool {
	for _, r := range allowed {
		if r == role {
			return true
		}
	}
	return false
}

func validateParams(schema *jsonschema.Schema, params pawn.Params) error {
	// jsonschema validates against interface{} decoded from JSON; round-trip
	// params through JSON so map[string]Value matches what the schema
	// compiler expects (plain map[string]interface{}, float64 numbers).
	b, err := json.Marshal(params)
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	return schema.Validate(v)
}

// ResolveGroup expands a group reference (e.g. "group:fs") to its member
// tool names, or returns (nil, false) if name is not a known group.
func ResolveGroup(name string) ([]string, bool) {
	tools, ok := Groups[name]
	return tools, ok
}
