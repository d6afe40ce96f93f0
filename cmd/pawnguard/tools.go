package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"time"

	"github.com/haasonsaas/pawnguard/internal/netguard"
	"github.com/haasonsaas/pawnguard/internal/registry"
	"github.com/haasonsaas/pawnguard/internal/sandbox"
	"github.com/haasonsaas/pawnguard/pkg/pawn"
)

// webFetchTimeout and webFetchBodyCap keep a fetch bounded: a 15s
// deadline and a 50KB cap on the response body, truncated rather than
// dropped.
const (
	webFetchTimeout = 15 * time.Second
	webFetchBodyCap = 50 * 1024
)

// registerBuiltinTools registers the handful of concrete tool
// implementations the core needs to exercise its own pipeline end to end.
// Provider-specific browser automation and messaging-channel tools stay
// out of scope; these are the file/network/exec primitives every agent
// role routes through Guardian. box may be nil if the sandbox
// runtime could not be constructed at startup; exec_command then refuses
// unsandboxed execution unless the caller opts in.
func registerBuiltinTools(tools *registry.Registry, box *sandbox.Sandbox, logger *slog.Logger) {
	mustRegister(tools, registry.ToolDefinition{
		Name:        "read_file",
		Description: "Read a file from the local filesystem.",
		SafetyLevel: pawn.SafetySafe,
		Schema:      json.RawMessage(`{"type":"object","required":["path"],"properties":{"path":{"type":"string"}}}`),
		Execute: func(ctx context.Context, params pawn.Params) (any, error) {
			path, _ := params["path"].(string)
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("read_file: %w", err)
			}
			return string(data), nil
		},
	}, logger)

	mustRegister(tools, registry.ToolDefinition{
		Name:        "write_file",
		Description: "Write a file to the local filesystem.",
		SafetyLevel: pawn.SafetyModerate,
		Schema:      json.RawMessage(`{"type":"object","required":["path","content"],"properties":{"path":{"type":"string"},"content":{"type":"string"}}}`),
		Execute: func(ctx context.Context, params pawn.Params) (any, error) {
			path, _ := params["path"].(string)
			content, _ := params["content"].(string)
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				return nil, fmt.Errorf("write_file: %w", err)
			}
			return "ok", nil
		},
	}, logger)

	mustRegister(tools, registry.ToolDefinition{
		Name:        "web_fetch",
		Description: "Fetch a URL's contents, subject to the URL policy.",
		SafetyLevel: pawn.SafetyModerate,
		Schema:      json.RawMessage(`{"type":"object","required":["url"],"properties":{"url":{"type":"string"}}}`),
		Execute: func(ctx context.Context, params pawn.Params) (any, error) {
			url, _ := params["url"].(string)
			fetchCtx, cancel := context.WithTimeout(ctx, webFetchTimeout)
			defer cancel()
			req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, url, nil)
			if err != nil {
				return nil, fmt.Errorf("web_fetch: %w", err)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return nil, fmt.Errorf("web_fetch: %w", err)
			}
			defer resp.Body.Close()
			body, err := io.ReadAll(io.LimitReader(resp.Body, webFetchBodyCap))
			if err != nil {
				return nil, fmt.Errorf("web_fetch: %w", err)
			}
			return string(body), nil
		},
	}, logger)

	mustRegister(tools, registry.ToolDefinition{
		Name:        "web_search",
		Description: "Search the web for a query, subject to the URL policy.",
		SafetyLevel: pawn.SafetyModerate,
		Schema:      json.RawMessage(`{"type":"object","required":["query"],"properties":{"query":{"type":"string"}}}`),
		Execute: func(ctx context.Context, params pawn.Params) (any, error) {
			return nil, fmt.Errorf("web_search: no search provider configured")
		},
	}, logger)

	mustRegister(tools, registry.ToolDefinition{
		Name:         "exec_command",
		Description:  "Run a shell command inside the sandbox.",
		SafetyLevel:  pawn.SafetyDangerous,
		RequiredRole: []pawn.AgentRole{pawn.RoleExecutor},
		Schema:       json.RawMessage(`{"type":"object","required":["command"],"properties":{"command":{"type":"string"},"allowUnsandboxed":{"type":"boolean"}}}`),
		// If the Sandbox is available, run inside it; otherwise refuse
		// unless the caller explicitly passes allowUnsandboxed=true, in
		// which case the command runs directly on the host via os/exec.
		// The classifier's own destructive-command escalation runs
		// upstream of this, inside Guardian, so a forbidden command never
		// reaches Execute at all; the Network Guard scan still runs here
		// since an unsandboxed command skips the container escape surface
		// that Sandbox.Exec otherwise checks.
		Execute: func(ctx context.Context, params pawn.Params) (any, error) {
			command, _ := params["command"].(string)
			allowUnsandboxed, _ := params["allowUnsandboxed"].(bool)

			if box != nil && box.IsAvailable(ctx) {
				result, err := box.Exec(ctx, command, sandbox.ExecOptions{Timeout: 30 * time.Second})
				if err != nil {
					return nil, fmt.Errorf("exec_command: %w", err)
				}
				return result, nil
			}
			if !allowUnsandboxed {
				return nil, fmt.Errorf("exec_command: sandbox unavailable; pass allowUnsandboxed=true to run unsandboxed")
			}
			logger.Warn("exec_command running unsandboxed", "command", command)
			return execUnsandboxed(ctx, command)
		},
	}, logger)
}

// execUnsandboxed runs cmd directly on the host with a 30s timeout, after
// the same Network Guard escape scan Sandbox.Exec performs. Its Result
// shape matches sandbox.Result with Sandboxed=false so callers cannot
// mistake host execution for container isolation.
func execUnsandboxed(ctx context.Context, cmd string) (sandbox.Result, error) {
	if threats := netguard.ScanCommand(cmd); len(threats) > 0 {
		return sandbox.Result{
			ExitCode: 126,
			Threats:  threats,
			Stderr:   "blocked: " + netguard.DescribeThreats(threats),
		}, nil
	}

	execCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	command := exec.CommandContext(execCtx, "sh", "-c", cmd)
	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	err := command.Run()
	if execCtx.Err() == context.DeadlineExceeded {
		return sandbox.Result{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: 124, TimedOut: true}, nil
	}

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return sandbox.Result{}, fmt.Errorf("exec_command: %w", err)
		}
	}

	return sandbox.Result{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: exitCode}, nil
}

func mustRegister(tools *registry.Registry, def registry.ToolDefinition, logger *slog.Logger) {
	if err := tools.Register(def); err != nil {
		logger.Error("tool registration failed", "tool", def.Name, "error", err)
	}
}
