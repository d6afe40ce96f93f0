package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docker/docker/client"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/pawnguard/internal/audit"
	"github.com/haasonsaas/pawnguard/internal/bus"
	"github.com/haasonsaas/pawnguard/internal/classifier"
	pawnconfig "github.com/haasonsaas/pawnguard/internal/config"
	"github.com/haasonsaas/pawnguard/internal/cron"
	"github.com/haasonsaas/pawnguard/internal/engine"
	"github.com/haasonsaas/pawnguard/internal/guardian"
	"github.com/haasonsaas/pawnguard/internal/registry"
	"github.com/haasonsaas/pawnguard/internal/sandbox"
	"github.com/haasonsaas/pawnguard/internal/session"
	"github.com/haasonsaas/pawnguard/internal/urlpolicy"
	"github.com/haasonsaas/pawnguard/internal/vault"
	"github.com/haasonsaas/pawnguard/pkg/pawn"
)

// runStart implements `pawnguard start`: it builds the full policy core
// (Guardian, Tool Registry, Agent Engine, Sandbox, Session Manager, Cron
// Scheduler) from the loaded config, starts the agent lifecycle, serves
// /metrics, and blocks until SIGINT/SIGTERM.
func runStart(args []string, logger *slog.Logger) error {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfigPath(), "path to the YAML configuration file")
	metricsAddr := fs.String("metrics-addr", ":9090", "address to serve /metrics on")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := pawnconfig.Load(*configPath)
	if err != nil {
		return fmt.Errorf("config invalid: %w", err)
	}

	secrets := vault.New()
	if cfg.SecretVault.Enabled {
		n := secrets.LoadFromEnv(cfg.SecretVault.EnvPrefix)
		logger.Info("loaded secrets from environment", "count", n, "prefix", cfg.SecretVault.EnvPrefix)
	}

	urls := urlpolicy.New()
	for _, domain := range cfg.URLAllowlist {
		urls.AddAllowed(domain)
	}
	for _, pattern := range cfg.URLBlocklist {
		if err := urls.AddBlocked(pattern); err != nil {
			return fmt.Errorf("url policy: %w", err)
		}
	}

	classify, err := classifier.New(classifier.SafetyConfig{
		DefaultLevel:     cfg.Safety.DefaultLevel,
		ForbiddenActions: cfg.Safety.ForbiddenActions,
		DangerousActions: cfg.Safety.DangerousActions,
		SecretPatterns:   cfg.Safety.SecretPatterns,
	})
	if err != nil {
		return fmt.Errorf("classifier: %w", err)
	}

	auditLog, err := audit.Open(audit.Config{
		LogPath:       cfg.AuditLog.LogPath,
		AlertPath:     cfg.AuditLog.AlertPath,
		SampleRate:    cfg.AuditLog.SampleRate,
		RetentionDays: cfg.AuditLog.RetentionDays,
	})
	if err != nil {
		return fmt.Errorf("audit log: %w", err)
	}
	defer auditLog.Close()

	reg := prometheus.NewRegistry()
	metrics := guardian.NewMetrics(reg)

	messageBus := bus.New()
	eng := engine.New(messageBus, logger)

	approvalTimeout := 60 * time.Second
	var channel guardian.Channel
	if cfg.Notifications != nil && cfg.Notifications.Enabled {
		approvalTimeout = cfg.Notifications.ApprovalTimeout
		logger.Warn("notifications.channel is configured but no concrete channel driver is wired into this build; dangerous actions will fall back to local butler approval", "channel", cfg.Notifications.Channel)
	}

	guard := guardian.New(guardian.Config{
		ApprovalTimeout: approvalTimeout,
	}, classify, urls, secrets, auditLog, channel, eng, metrics, logger)

	sandboxInstance, dockerClient, err := buildSandbox(cfg.Sandbox.ToPawn(), logger)
	if err != nil {
		logger.Warn("sandbox unavailable at startup", "error", err)
	}
	if dockerClient != nil {
		defer dockerClient.Close()
	}

	acl := registry.NewStaticACL(buildAgentPolicies(cfg.Agents.List))
	tools := registry.New(acl, guard)
	registerBuiltinTools(tools, sandboxInstance, logger)

	var sessions *session.Manager
	if cfg.Sessions != nil {
		budget := cfg.Sessions.ContextWindow - cfg.Sessions.ReserveTokens
		pruner := session.NewPruner(context.Background(), session.Strategy(cfg.Sessions.Strategy), budget, nil)
		sessions, err = session.NewManager(cfg.Sessions.Dir, pruner)
		if err != nil {
			return fmt.Errorf("session manager: %w", err)
		}
	}

	for _, a := range cfg.Agents.List {
		eng.Register(newStaticAgent(a.ID, a.Role, messageBus, sessions, logger))
	}

	scheduler := cron.New("pawnguard-cron.json", func(ctx context.Context, job pawn.CronJob) (string, error) {
		messageBus.Send(pawn.AgentMessage{To: job.TargetAgent, Type: pawn.MessageTask, Payload: job.TaskDescription})
		return "dispatched", nil
	}, cron.WithLogger(logger))
	if err := scheduler.Load(); err != nil {
		logger.Warn("cron store load failed", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scheduler.Start(ctx)
	defer scheduler.Stop()

	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("engine start: %w", err)
	}
	logger.Info("pawnguard started", "config", *configPath)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	metricsServer := &http.Server{Addr: *metricsAddr, Handler: mux}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = metricsServer.Shutdown(shutdownCtx)
	return eng.Shutdown(shutdownCtx)
}

func buildAgentPolicies(agents []pawnconfig.AgentConfig) map[string]registry.AgentPolicy {
	policies := make(map[string]registry.AgentPolicy, len(agents))
	for _, a := range agents {
		policies[a.ID] = registry.AgentPolicy{Allow: a.Allow, Deny: a.Deny}
	}
	return policies
}

func buildSandbox(cfg pawn.SandboxConfig, logger *slog.Logger) (*sandbox.Sandbox, *client.Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, nil, fmt.Errorf("docker client: %w", err)
	}
	return sandbox.New(cli, cfg, logger), cli, nil
}
