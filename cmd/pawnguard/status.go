package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"time"

	"github.com/docker/docker/client"

	"github.com/haasonsaas/pawnguard/internal/audit"
	"github.com/haasonsaas/pawnguard/internal/config"
)

// runStatus implements `pawnguard status`: it reports config validity, the
// audit log's aggregate summary, and whether a sandbox runtime is
// reachable. It does not require a running pawnguard process — it is a
// point-in-time inspection of the on-disk state.
func runStatus(args []string, logger *slog.Logger) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfigPath(), "path to the YAML configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("config invalid: %w", err)
	}
	fmt.Printf("config: valid (%s)\n", *configPath)
	fmt.Printf("agents: %d configured\n", len(cfg.Agents.List))

	entries, err := audit.Query(cfg.AuditLog.LogPath, audit.Filter{})
	if err != nil {
		return fmt.Errorf("query audit log: %w", err)
	}
	summary := audit.Summarize(entries)
	fmt.Printf("audit log: %d entries (%s)\n", summary.Total, cfg.AuditLog.LogPath)
	for result, count := range summary.ByResult {
		fmt.Printf("  %s: %d\n", result, count)
	}

	fmt.Printf("sandbox: image=%s networkMode=%s\n", cfg.Sandbox.Image, cfg.Sandbox.NetworkMode)
	if available := probeSandboxRuntime(logger); available {
		fmt.Println("sandbox runtime: available")
	} else {
		fmt.Println("sandbox runtime: unavailable")
	}

	return nil
}

func probeSandboxRuntime(logger *slog.Logger) bool {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		logger.Warn("sandbox runtime client init failed", "error", err)
		return false
	}
	defer cli.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = cli.Ping(ctx)
	return err == nil
}
