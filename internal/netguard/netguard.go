// Package netguard implements the Network Guard: it validates sandbox
// network configuration before container creation, verifies the effective
// network mode at runtime, and scans command strings for a catalogue of
// container-escape patterns.
package netguard

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"

	"github.com/haasonsaas/pawnguard/pkg/pawn"
)

// Threat describes one matched escape-attempt pattern.
type Threat struct {
	Pattern     string
	Description string
}

// escapePatterns is the enumerated catalogue of sandbox-escape attempts to
// scan for. Order matters only for determinism of the returned threat list.
var escapePatterns = []struct {
	re   *regexp.Regexp
	desc string
}{
	{regexp.MustCompile(`\bnsenter\b`), "nsenter: namespace escape"},
	{regexp.MustCompile(`--privileged`), "privileged container flag"},
	{regexp.MustCompile(`/proc/1/`), "access to host PID 1 procfs"},
	{regexp.MustCompile(`\bchroot\b`), "chroot: filesystem escape"},
	{regexp.MustCompile(`\bmount\s`), "mount: filesystem manipulation"},
	{regexp.MustCompile(`\bumount\b`), "umount: filesystem manipulation"},
	{regexp.MustCompile(`--cap-add`), "capability addition"},
	{regexp.MustCompile(`(?i)apparmor[:=]unconfined`), "AppArmor unconfined"},
	{regexp.MustCompile(`--pid=host`), "host PID namespace"},
	{regexp.MustCompile(`--net(?:work)?=host`), "host network namespace"},
	{regexp.MustCompile(`docker\.sock`), "docker socket access"},
	{regexp.MustCompile(`\biptables\b`), "iptables manipulation"},
	{regexp.MustCompile(`\bip route\b`), "routing table manipulation"},
	{regexp.MustCompile(`\bip link\b`), "network interface manipulation"},
}

// ScanCommand evaluates cmd against the escape catalogue. Any match means
// the command must never be dispatched.
func ScanCommand(cmd string) []Threat {
	var threats []Threat
	for _, p := range escapePatterns {
		if p.re.MatchString(cmd) {
			threats = append(threats, Threat{Pattern: p.re.String(), Description: p.desc})
		}
	}
	return threats
}

// ErrNetworkModeInvalid is returned by ValidateConfig when a SandboxConfig
// requests anything other than isolated networking.
var ErrNetworkModeInvalid = fmt.Errorf("netguard: sandbox network mode must be %q", pawn.NetworkNone)

// ValidateConfig refuses container creation unless cfg.NetworkMode is
// "none". This is the only network mode the core's sandbox permits;
// "bridge" exists in the SandboxConfig type for configuration-schema
// completeness but is always rejected here.
func ValidateConfig(cfg pawn.SandboxConfig) error {
	if cfg.NetworkMode != pawn.NetworkNone {
		return ErrNetworkModeInvalid
	}
	return nil
}

// VerifyRuntimeNetworkMode inspects a running container via the Docker
// Engine API and confirms its effective network mode is "none".
func VerifyRuntimeNetworkMode(ctx context.Context, cli *client.Client, containerID string) error {
	info, err := cli.ContainerInspect(ctx, containerID)
	if err != nil {
		return fmt.Errorf("netguard: inspect container: %w", err)
	}
	if info.HostConfig == nil {
		return fmt.Errorf("netguard: container %s has no host config", containerID)
	}
	mode := info.HostConfig.NetworkMode
	if mode != container.NetworkMode("none") {
		return fmt.Errorf("netguard: container %s effective network mode is %q, want none", containerID, mode)
	}
	return nil
}

// DescribeThreats renders threats as a single human-readable string for
// audit details / blockedReason.
func DescribeThreats(threats []Threat) string {
	if len(threats) == 0 {
		return ""
	}
	descs := make([]string, len(threats))
	for i, t := range threats {
		descs[i] = t.Description
	}
	return strings.Join(descs, "; ")
}
