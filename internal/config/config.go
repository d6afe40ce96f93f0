// Package config implements the core's structured configuration: a single
// root Config unmarshalled from YAML, sectioned by concern, with
// defaulting and path-qualified validation applied at load time.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/haasonsaas/pawnguard/pkg/pawn"
)

// AgentConfig describes one statically configured agent and its tool ACL.
type AgentConfig struct {
	ID    string        `yaml:"id"`
	Role  pawn.AgentRole `yaml:"role"`
	Allow []string      `yaml:"allow"`
	Deny  []string      `yaml:"deny"`
}

// AgentsConfig is the "agents" section.
type AgentsConfig struct {
	List []AgentConfig `yaml:"list"`
}

// SafetyConfig is the "safety" section; it mirrors classifier.SafetyConfig
// field-for-field so Load can hand it straight to classifier.New.
type SafetyConfig struct {
	DefaultLevel     pawn.SafetyLevel `yaml:"defaultLevel"`
	ForbiddenActions []string         `yaml:"forbiddenActions"`
	DangerousActions []string         `yaml:"dangerousActions"`
	SecretPatterns   []string         `yaml:"secretPatterns"`
}

// SecretVaultConfig is the "secretVault" section.
type SecretVaultConfig struct {
	Enabled   bool   `yaml:"enabled"`
	StorePath string `yaml:"storePath"`
	EnvPrefix string `yaml:"envPrefix"`
}

// AuditLogConfig is the "auditLog" section.
type AuditLogConfig struct {
	LogPath       string  `yaml:"logPath"`
	AlertPath     string  `yaml:"alertPath"`
	RetentionDays int     `yaml:"retentionDays"`
	SampleRate    float64 `yaml:"sampleRate"`
	MaxFieldSize  int     `yaml:"maxFieldSize"`
}

// SandboxConfig is the "sandbox" section. It mirrors pawn.SandboxConfig
// with YAML-friendly field names and a human-readable Timeout duration.
type SandboxConfig struct {
	Image           string        `yaml:"image"`
	NetworkMode     pawn.NetworkMode `yaml:"networkMode"`
	MemoryLimitMB   int           `yaml:"memoryLimit"`
	CPULimit        float64       `yaml:"cpuLimit"`
	Timeout         time.Duration `yaml:"timeout"`
	MountPaths      []string      `yaml:"mountPaths"`
	AllowWriteMount bool          `yaml:"allowWriteMount"`
}

// ToPawn converts the YAML-facing shape into the domain pawn.SandboxConfig.
func (s SandboxConfig) ToPawn() pawn.SandboxConfig {
	return pawn.SandboxConfig{
		Image:           s.Image,
		NetworkMode:     s.NetworkMode,
		MemoryLimitMB:   s.MemoryLimitMB,
		CPULimit:        s.CPULimit,
		Timeout:         s.Timeout,
		MountPaths:      s.MountPaths,
		AllowWriteMount: s.AllowWriteMount,
	}
}

// NotificationsConfig configures the external approval channel. Exactly
// one concrete channel type may be active at a time: a single Channel
// interface, not a fan-out list.
type NotificationsConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Channel          string        `yaml:"channel"` // e.g. "slack", "telegram", "discord", "whatsapp"
	ApprovalTimeout  time.Duration `yaml:"approvalTimeout"`
}

// MemoryConfig is a placeholder section for the out-of-scope vector/
// embedding persistence collaborator; the core only needs to know whether
// it is enabled so it can skip wiring a facade.
type MemoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Backend string `yaml:"backend"`
}

// LLMConfig names which provider facade to inject; the core depends only
// on the injected interface, never a concrete SDK.
type LLMConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

// ChannelsConfig lists which messaging-channel drivers are enabled; the
// concrete drivers themselves are out of scope for this core.
type ChannelsConfig struct {
	Enabled []string `yaml:"enabled"`
}

// SessionsConfig is the "sessions" section: where session files live and
// the pruning strategy/budget applied to every session.
type SessionsConfig struct {
	Dir           string `yaml:"dir"`
	Strategy      string `yaml:"strategy"` // "none" | "sliding_window" | "summarize"
	ContextWindow int    `yaml:"contextWindow"`
	ReserveTokens int    `yaml:"reserveTokens"`
}

// Config is the root configuration object, one section per concern.
type Config struct {
	Agents        AgentsConfig          `yaml:"agents"`
	Safety        SafetyConfig          `yaml:"safety"`
	URLAllowlist  []string              `yaml:"urlAllowlist"`
	URLBlocklist  []string              `yaml:"urlBlocklist"`
	SecretVault   SecretVaultConfig     `yaml:"secretVault"`
	AuditLog      AuditLogConfig        `yaml:"auditLog"`
	Sandbox       SandboxConfig         `yaml:"sandbox"`
	Notifications *NotificationsConfig  `yaml:"notifications,omitempty"`
	Memory        *MemoryConfig         `yaml:"memory,omitempty"`
	LLM           *LLMConfig            `yaml:"llm,omitempty"`
	Channels      *ChannelsConfig       `yaml:"channels,omitempty"`
	Sessions      *SessionsConfig       `yaml:"sessions,omitempty"`
}

// ValidationError collects every path-qualified validation failure found
// while loading a Config.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return "config validation failed:\n- " + strings.Join(e.Issues, "\n- ")
}

// Load reads path, expands environment variables, decodes exactly one YAML
// document with unknown-field rejection, applies defaults, and validates.
// Validation failures abort with a *ValidationError; the process must not
// start on a fatal configuration error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	decoder := yaml.NewDecoder(strings.NewReader(expanded))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Safety.DefaultLevel == "" {
		cfg.Safety.DefaultLevel = pawn.SafetySafe
	}
	if cfg.AuditLog.LogPath == "" {
		cfg.AuditLog.LogPath = "pawnguard-audit.jsonl"
	}
	if cfg.AuditLog.AlertPath == "" {
		cfg.AuditLog.AlertPath = "pawnguard-alerts.jsonl"
	}
	if cfg.AuditLog.SampleRate <= 0 {
		cfg.AuditLog.SampleRate = 1.0
	}
	if cfg.SecretVault.EnvPrefix == "" {
		cfg.SecretVault.EnvPrefix = "PAWNGUARD_SECRET_"
	}
	if cfg.Sandbox.NetworkMode == "" {
		cfg.Sandbox.NetworkMode = pawn.NetworkNone
	}
	if cfg.Sandbox.MemoryLimitMB == 0 {
		cfg.Sandbox.MemoryLimitMB = 512
	}
	if cfg.Sandbox.CPULimit == 0 {
		cfg.Sandbox.CPULimit = 1.0
	}
	if cfg.Sandbox.Timeout == 0 {
		cfg.Sandbox.Timeout = 30 * time.Second
	}
	if cfg.Sessions != nil {
		if cfg.Sessions.Dir == "" {
			cfg.Sessions.Dir = "sessions"
		}
		if cfg.Sessions.Strategy == "" {
			cfg.Sessions.Strategy = "sliding_window"
		}
		if cfg.Sessions.ContextWindow == 0 {
			cfg.Sessions.ContextWindow = 128000
		}
		if cfg.Sessions.ReserveTokens == 0 {
			cfg.Sessions.ReserveTokens = 4096
		}
	}
	if cfg.Notifications != nil && cfg.Notifications.ApprovalTimeout == 0 {
		cfg.Notifications.ApprovalTimeout = 60 * time.Second
	}
}

func validate(cfg *Config) error {
	var issues []string

	for i, a := range cfg.Agents.List {
		prefix := fmt.Sprintf("agents.list[%d]", i)
		if strings.TrimSpace(a.ID) == "" {
			issues = append(issues, prefix+".id must not be empty")
		}
		switch a.Role {
		case pawn.RoleButler, pawn.RoleResearcher, pawn.RoleExecutor, pawn.RoleGuardian:
		default:
			issues = append(issues, prefix+".role must be one of butler, researcher, executor, guardian")
		}
	}
	if !hasRole(cfg.Agents.List, pawn.RoleGuardian) {
		issues = append(issues, "agents.list must include an agent with role guardian")
	}
	if !hasRole(cfg.Agents.List, pawn.RoleButler) {
		issues = append(issues, "agents.list must include an agent with role butler")
	}

	switch cfg.Safety.DefaultLevel {
	case pawn.SafetySafe, pawn.SafetyModerate, pawn.SafetyDangerous, pawn.SafetyForbidden:
	default:
		issues = append(issues, "safety.defaultLevel must be one of safe, moderate, dangerous, forbidden")
	}

	if cfg.AuditLog.SampleRate < 0 || cfg.AuditLog.SampleRate > 1 {
		issues = append(issues, "auditLog.sampleRate must be between 0 and 1")
	}
	if cfg.AuditLog.RetentionDays < 0 {
		issues = append(issues, "auditLog.retentionDays must be >= 0")
	}
	if strings.TrimSpace(cfg.AuditLog.LogPath) == "" {
		issues = append(issues, "auditLog.logPath must not be empty")
	}
	if strings.TrimSpace(cfg.AuditLog.AlertPath) == "" {
		issues = append(issues, "auditLog.alertPath must not be empty")
	}

	if cfg.Sandbox.NetworkMode != pawn.NetworkNone {
		issues = append(issues, "sandbox.networkMode must be \"none\"; pawnguard's sandbox never enables bridged networking")
	}
	if cfg.Sandbox.MemoryLimitMB <= 0 {
		issues = append(issues, "sandbox.memoryLimit must be > 0")
	}
	if cfg.Sandbox.CPULimit <= 0 {
		issues = append(issues, "sandbox.cpuLimit must be > 0")
	}
	if cfg.Sandbox.AllowWriteMount && len(cfg.Sandbox.MountPaths) == 0 {
		issues = append(issues, "sandbox.allowWriteMount is true but sandbox.mountPaths is empty")
	}

	for i, pattern := range cfg.URLBlocklist {
		if strings.TrimSpace(pattern) == "" {
			issues = append(issues, fmt.Sprintf("urlBlocklist[%d] must not be empty", i))
		}
	}

	if cfg.SecretVault.Enabled && strings.TrimSpace(cfg.SecretVault.StorePath) == "" {
		issues = append(issues, "secretVault.storePath is required when secretVault.enabled is true")
	}

	if cfg.Notifications != nil && cfg.Notifications.Enabled {
		if strings.TrimSpace(cfg.Notifications.Channel) == "" {
			issues = append(issues, "notifications.channel is required when notifications.enabled is true")
		}
		if cfg.Notifications.ApprovalTimeout <= 0 {
			issues = append(issues, "notifications.approvalTimeout must be > 0")
		}
	}

	if cfg.Sessions != nil {
		switch cfg.Sessions.Strategy {
		case "none", "sliding_window", "summarize":
		default:
			issues = append(issues, "sessions.strategy must be one of none, sliding_window, summarize")
		}
		if cfg.Sessions.ReserveTokens >= cfg.Sessions.ContextWindow {
			issues = append(issues, "sessions.reserveTokens must be less than sessions.contextWindow")
		}
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}

func hasRole(agents []AgentConfig, role pawn.AgentRole) bool {
	for _, a := range agents {
		if a.Role == role {
			return true
		}
	}
	return false
}
