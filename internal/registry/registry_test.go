package registry

import (
	"context"
	"testing"

	"github.com/haasonsaas/pawnguard/pkg/pawn"
)

type stubGuardian struct {
	result pawn.ActionResult
}

func (s stubGuardian) ValidateAction(ctx context.Context, req pawn.ActionRequest) pawn.ActionResult {
	if s.result.RequestID == "" {
		s.result.RequestID = req.ID
	}
	return s.result
}

func TestRegisterRejectsDuplicate(t *testing.T) {
	r := New(nil, nil)
	def := ToolDefinition{Name: "read_file", Execute: func(ctx context.Context, p pawn.Params) (any, error) { return "ok", nil }}
	if err := r.Register(def); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	if err := r.Register(def); err == nil {
		t.Fatal("second Register of the same name should fail")
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	r := New(nil, nil)
	result := r.Execute(context.Background(), "nonexistent", nil, Agent{ID: "a1"})
	if result.Success {
		t.Fatal("Execute on unknown tool should fail")
	}
}

func TestExecuteRoleACLBlocksWithoutGuardian(t *testing.T) {
	r := New(nil, stubGuardian{result: pawn.ActionResult{Success: true}})
	def := ToolDefinition{
		Name:         "exec_command",
		RequiredRole: []pawn.AgentRole{pawn.RoleExecutor},
		Execute:      func(ctx context.Context, p pawn.Params) (any, error) { return "ran", nil },
	}
	if err := r.Register(def); err != nil {
		t.Fatalf("Register: %v", err)
	}

	result := r.Execute(context.Background(), "exec_command", nil, Agent{ID: "a1", Role: pawn.RoleResearcher})
	if result.Success || result.BlockedBy != "tool_registry" {
		t.Fatalf("result = %+v, want blocked by tool_registry", result)
	}
}

func TestExecuteAgentACLDenyWins(t *testing.T) {
	acl := NewStaticACL(map[string]AgentPolicy{
		"a1": {Allow: []string{"group:fs"}, Deny: []string{"exec_command"}},
	})
	r := New(acl, stubGuardian{result: pawn.ActionResult{Success: true}})
	def := ToolDefinition{Name: "exec_command", Execute: func(ctx context.Context, p pawn.Params) (any, error) { return "ran", nil }}
	if err := r.Register(def); err != nil {
		t.Fatalf("Register: %v", err)
	}

	result := r.Execute(context.Background(), "exec_command", nil, Agent{ID: "a1", Role: pawn.RoleExecutor})
	if result.Success || result.BlockedBy != "agent_policy" {
		t.Fatalf("result = %+v, want blocked by agent_policy (deny wins)", result)
	}
}

func TestExecuteAllowsViaGroup(t *testing.T) {
	acl := NewStaticACL(map[string]AgentPolicy{
		"a1": {Allow: []string{"group:fs"}},
	})
	r := New(acl, stubGuardian{result: pawn.ActionResult{Success: true}})
	def := ToolDefinition{Name: "write_file", Execute: func(ctx context.Context, p pawn.Params) (any, error) { return "wrote", nil }}
	if err := r.Register(def); err != nil {
		t.Fatalf("Register: %v", err)
	}

	result := r.Execute(context.Background(), "write_file", nil, Agent{ID: "a1", Role: pawn.RoleExecutor})
	if !result.Success {
		t.Fatalf("result = %+v, want success via group allow", result)
	}
}

func TestExecuteForwardsNonSuccessFromGuardianVerbatim(t *testing.T) {
	guard := stubGuardian{result: pawn.ActionResult{Success: false, BlockedBy: "guardian", BlockedReason: "forbidden"}}
	acl := NewStaticACL(map[string]AgentPolicy{"a1": {Allow: []string{"exec_command"}}})
	r := New(acl, guard)
	def := ToolDefinition{Name: "exec_command", Execute: func(ctx context.Context, p pawn.Params) (any, error) { return "ran", nil }}
	if err := r.Register(def); err != nil {
		t.Fatalf("Register: %v", err)
	}

	result := r.Execute(context.Background(), "exec_command", nil, Agent{ID: "a1"})
	if result.Success || result.BlockedReason != "forbidden" {
		t.Fatalf("result = %+v, want the guardian's verdict returned verbatim", result)
	}
}

func TestExecuteValidatesParamsAgainstSchema(t *testing.T) {
	acl := NewStaticACL(map[string]AgentPolicy{"a1": {Allow: []string{"write_file"}}})
	r := New(acl, stubGuardian{result: pawn.ActionResult{Success: true}})
	def := ToolDefinition{
		Name:   "write_file",
		Schema: []byte(`{"type":"object","required":["path"],"properties":{"path":{"type":"string"}}}`),
		Execute: func(ctx context.Context, p pawn.Params) (any, error) {
			return "wrote", nil
		},
	}
	if err := r.Register(def); err != nil {
		t.Fatalf("Register: %v", err)
	}

	result := r.Execute(context.Background(), "write_file", pawn.Params{}, Agent{ID: "a1"})
	if result.Success {
		t.Fatal("Execute should fail validation when required 'path' param is missing")
	}

	result = r.Execute(context.Background(), "write_file", pawn.Params{"path": "a.txt"}, Agent{ID: "a1"})
	if !result.Success {
		t.Fatalf("Execute with valid params failed: %+v", result)
	}
}

func TestNormalizeToolNameResolvesAliases(t *testing.T) {
	if got := NormalizeToolName("Bash"); got != "exec_command" {
		t.Fatalf("NormalizeToolName(Bash) = %q, want exec_command", got)
	}
}
