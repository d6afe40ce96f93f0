// Package sandbox implements the isolated command executor: a
// network-disabled, resource-capped, read-only-rootfs container that the
// core runs attacker-influenced commands inside.
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/haasonsaas/pawnguard/internal/netguard"
	"github.com/haasonsaas/pawnguard/pkg/pawn"
)

// ErrUnavailable is returned by every Sandbox operation once isAvailable
// has determined the container runtime is absent.
var ErrUnavailable = errors.New("sandbox: container runtime unavailable")

// Result is the outcome of a single exec call. Sandboxed is true on every
// outcome produced through Exec, regardless of success.
type Result struct {
	Stdout     string
	Stderr     string
	ExitCode   int
	Sandboxed  bool
	TimedOut   bool
	Threats    []netguard.Threat
}

// Sandbox owns at most one container handle at a time.
type Sandbox struct {
	mu          sync.Mutex
	cli         *client.Client
	log         *slog.Logger
	cfg         pawn.SandboxConfig
	available   bool
	probed      bool
	containerID string
}

// New creates a Sandbox bound to the given Docker Engine API client and
// configuration. cfg must already have been validated by netguard before
// a container is ever created.
func New(cli *client.Client, cfg pawn.SandboxConfig, log *slog.Logger) *Sandbox {
	if log == nil {
		log = slog.Default()
	}
	return &Sandbox{cli: cli, cfg: cfg, log: log}
}

// IsAvailable probes the container runtime exactly once; the result is
// cached for the Sandbox's lifetime.
func (s *Sandbox) IsAvailable(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.probed {
		return s.available
	}
	s.probed = true
	_, err := s.cli.Ping(ctx)
	s.available = err == nil
	if !s.available {
		s.log.Warn("sandbox runtime probe failed", "error", err)
	}
	return s.available
}

// CreateContainer launches a container per the secure-by-default profile:
// network disabled, memory/cpu/pids capped, read-only rootfs,
// no-new-privileges, optional mounts (ro unless AllowWriteMount).
func (s *Sandbox) CreateContainer(ctx context.Context) error {
	if !s.IsAvailable(ctx) {
		return ErrUnavailable
	}
	if err := netguard.ValidateConfig(s.cfg); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.containerID != "" {
		return fmt.Errorf("sandbox: container already created")
	}

	mounts := make([]mount.Mount, 0, len(s.cfg.MountPaths))
	for _, p := range s.cfg.MountPaths {
		mounts = append(mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   p,
			Target:   p,
			ReadOnly: !s.cfg.AllowWriteMount,
		})
	}

	hostConfig := &container.HostConfig{
		NetworkMode:    container.NetworkMode(string(pawn.NetworkNone)),
		ReadonlyRootfs: true,
		Resources: container.Resources{
			Memory:    int64(s.cfg.MemoryLimitMB) * 1024 * 1024,
			NanoCPUs:  int64(s.cfg.CPULimit * 1e9),
			PidsLimit: ptrInt64(256),
		},
		SecurityOpt: []string{"no-new-privileges:true"},
		Mounts:      mounts,
	}

	created, err := s.cli.ContainerCreate(ctx, &container.Config{
		Image:      s.cfg.Image,
		Cmd:        []string{"sleep", "infinity"},
		Tty:        false,
		OpenStdin:  false,
		WorkingDir: "/workspace",
	}, hostConfig, nil, nil, "")
	if err != nil {
		return fmt.Errorf("sandbox: create container: %w", err)
	}

	if err := s.cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return fmt.Errorf("sandbox: start container: %w", err)
	}

	if err := netguard.VerifyRuntimeNetworkMode(ctx, s.cli, created.ID); err != nil {
		_ = s.cli.ContainerRemove(ctx, created.ID, container.RemoveOptions{Force: true})
		return err
	}

	s.containerID = created.ID
	return nil
}

// ExecOptions configures a single Exec call.
type ExecOptions struct {
	Timeout time.Duration
	Workdir string
}

// Exec runs the Network Guard escape check first; on a match the command
// is never dispatched and exit code 126 is returned. Otherwise it runs
// inside the container, returning exit 124 on timeout.
func (s *Sandbox) Exec(ctx context.Context, cmd string, opts ExecOptions) (Result, error) {
	if threats := netguard.ScanCommand(cmd); len(threats) > 0 {
		return Result{
			ExitCode:  126,
			Sandboxed: true,
			Threats:   threats,
			Stderr:    "blocked: " + netguard.DescribeThreats(threats),
		}, nil
	}

	if !s.IsAvailable(ctx) {
		return Result{}, ErrUnavailable
	}

	s.mu.Lock()
	containerID := s.containerID
	s.mu.Unlock()
	if containerID == "" {
		return Result{}, fmt.Errorf("sandbox: no container created")
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = s.cfg.Timeout
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	workdir := opts.Workdir
	if workdir == "" {
		workdir = "/workspace"
	}

	execCfg := types.ExecConfig{
		Cmd:          []string{"sh", "-c", cmd},
		WorkingDir:   workdir,
		AttachStdout: true,
		AttachStderr: true,
	}
	execID, err := s.cli.ContainerExecCreate(execCtx, containerID, execCfg)
	if err != nil {
		return Result{}, fmt.Errorf("sandbox: exec create: %w", err)
	}

	attach, err := s.cli.ContainerExecAttach(execCtx, execID.ID, types.ExecStartCheck{})
	if err != nil {
		return Result{}, fmt.Errorf("sandbox: exec attach: %w", err)
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	copyDone := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader)
		copyDone <- err
	}()

	select {
	case <-copyDone:
	case <-execCtx.Done():
		return Result{ExitCode: 124, Sandboxed: true, TimedOut: true}, nil
	}

	inspect, err := s.cli.ContainerExecInspect(ctx, execID.ID)
	if err != nil {
		return Result{}, fmt.Errorf("sandbox: exec inspect: %w", err)
	}

	return Result{
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		ExitCode:  inspect.ExitCode,
		Sandboxed: true,
	}, nil
}

// Destroy is idempotent: a missing or already-removed container is not an
// error.
func (s *Sandbox) Destroy(ctx context.Context) error {
	s.mu.Lock()
	containerID := s.containerID
	s.containerID = ""
	s.mu.Unlock()

	if containerID == "" {
		return nil
	}
	err := s.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true})
	if err != nil && !isAlreadyRemoved(err) {
		return fmt.Errorf("sandbox: destroy: %w", err)
	}
	return nil
}

func isAlreadyRemoved(err error) bool {
	return client.IsErrNotFound(err) || strings.Contains(err.Error(), "already in progress") || strings.Contains(err.Error(), "No such container")
}

func ptrInt64(v int64) *int64 { return &v }
