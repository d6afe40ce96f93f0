// Package classifier implements the Action Classifier: it maps an
// ActionRequest to a pawn.SafetyLevel using action-type heuristics,
// signup/payment pattern matching, and secret-pattern scanning.
package classifier

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/haasonsaas/pawnguard/pkg/pawn"
)

// SafetyConfig parameterizes classification. The zero value uses the
// package defaults for ForbiddenActions/DangerousActions and no extra
// secret patterns.
type SafetyConfig struct {
	DefaultLevel     pawn.SafetyLevel
	ForbiddenActions []string
	DangerousActions []string
	SecretPatterns   []string // additional regexes, appended to the built-in set
}

var defaultForbiddenActions = map[string]struct{}{
	"signup":  {},
	"payment": {},
}

var defaultDangerousActions = map[string]struct{}{
	"api_call":     {},
	"send_message": {},
	"exec_command": {},
}

var signupPatternRe = regexp.MustCompile(`(?i)signup|register|join|create[_-]?account|sign[_-]?up`)
var signupFieldsRe = regexp.MustCompile(`(?i)password|passwd|confirm_password`)
var emailFieldRe = regexp.MustCompile(`(?i)email`)
var paymentPatternRe = regexp.MustCompile(`(?i)card[_-]?number|cvv|cvc|expir|billing|credit[_-]?card|payment`)

// builtinSecretPatterns is the default set of secret-leak regexes.
var builtinSecretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`AKIA[0-9A-Z]{16}`),                 // AWS access key
	regexp.MustCompile(`sk-ant-[A-Za-z0-9_-]{10,}`),        // Anthropic (checked before generic sk-)
	regexp.MustCompile(`sk-[A-Za-z0-9]{20,}`),              // OpenAI
	regexp.MustCompile(`gh[po]_[A-Za-z0-9]{20,}`),          // GitHub personal/oauth token
	regexp.MustCompile(`xoxb-[A-Za-z0-9-]{10,}`),           // Slack bot token
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._-]{10,}`), // bearer token
	regexp.MustCompile(`glpat-[A-Za-z0-9_-]{10,}`),         // GitLab
	regexp.MustCompile(`sk_live_[A-Za-z0-9]{10,}`),         // Stripe secret
	regexp.MustCompile(`rk_live_[A-Za-z0-9]{10,}`),         // Stripe restricted
	regexp.MustCompile(`SG\.[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}`), // SendGrid
	regexp.MustCompile(`ya29\.[A-Za-z0-9_-]{10,}`),         // Google OAuth access token
	regexp.MustCompile(`[0-9]+-[A-Za-z0-9_]{20,}\.apps\.googleusercontent\.com`), // Google OAuth client id
	regexp.MustCompile(`(?i)api[_-]?key["']?\s*[:=]\s*["']?[A-Za-z0-9_-]{10,}`),  // generic api key
}

// destructivePatterns escalate exec_command to forbidden.
var destructivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`rm\s+-rf`),
	regexp.MustCompile(`\bsudo\b`),
	regexp.MustCompile(`chmod\s+777`),
	regexp.MustCompile(`eval\(`),
}

var exfilBinaryRe = regexp.MustCompile(`\b(curl|wget|nc|ncat|netcat|ssh|scp|sftp|ftp)\b`)
var pipeToShellRe = regexp.MustCompile(`\|\s*(sh|bash|zsh|dash)\b`)

// Verdict is the classifier's decision plus the human-readable cause, so
// Guardian can report why without re-deriving it.
type Verdict struct {
	Level pawn.SafetyLevel
	Cause string
}

// Classifier evaluates ActionRequests against a SafetyConfig.
type Classifier struct {
	cfg            SafetyConfig
	forbidden      map[string]struct{}
	dangerous      map[string]struct{}
	extraSecretRes []*regexp.Regexp
}

// New builds a Classifier, merging cfg's action lists onto the built-in
// defaults and compiling any extra secret patterns.
func New(cfg SafetyConfig) (*Classifier, error) {
	forbidden := cloneSet(defaultForbiddenActions)
	for _, a := range cfg.ForbiddenActions {
		forbidden[a] = struct{}{}
	}
	dangerous := cloneSet(defaultDangerousActions)
	for _, a := range cfg.DangerousActions {
		dangerous[a] = struct{}{}
	}
	extras := make([]*regexp.Regexp, 0, len(cfg.SecretPatterns))
	for _, p := range cfg.SecretPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, err
		}
		extras = append(extras, re)
	}
	if cfg.DefaultLevel == "" {
		cfg.DefaultLevel = pawn.SafetySafe
	}
	return &Classifier{cfg: cfg, forbidden: forbidden, dangerous: dangerous, extraSecretRes: extras}, nil
}

func cloneSet(src map[string]struct{}) map[string]struct{} {
	dst := make(map[string]struct{}, len(src))
	for k := range src {
		dst[k] = struct{}{}
	}
	return dst
}

// Classify evaluates the safety predicates in order, first match wins.
func (c *Classifier) Classify(req pawn.ActionRequest) Verdict {
	if _, ok := c.forbidden[req.ActionType]; ok {
		return Verdict{Level: pawn.SafetyForbidden, Cause: "action type is forbidden: " + req.ActionType}
	}

	blob := serialize(req.Params)

	if c.containsSignupPattern(req, blob) {
		return Verdict{Level: pawn.SafetyForbidden, Cause: "signup pattern detected"}
	}

	if c.containsPaymentPattern(blob) {
		return Verdict{Level: pawn.SafetyForbidden, Cause: "payment pattern detected"}
	}

	if pattern, ok := c.containsSecretPattern(blob); ok {
		return Verdict{Level: pawn.SafetyDangerous, Cause: "secret pattern detected: " + pattern}
	}

	if _, ok := c.dangerous[req.ActionType]; ok {
		if req.ActionType == "exec_command" {
			if cause, escalate := escalatesToForbidden(paramString(req.Params, "command")); escalate {
				return Verdict{Level: pawn.SafetyForbidden, Cause: cause}
			}
		}
		return Verdict{Level: pawn.SafetyDangerous, Cause: "action type is dangerous: " + req.ActionType}
	}

	if req.ActionType == "write_file" || req.ActionType == "edit_file" {
		return Verdict{Level: pawn.SafetyModerate, Cause: "file mutation"}
	}

	level := c.cfg.DefaultLevel
	if level == "" {
		level = pawn.SafetySafe
	}
	return Verdict{Level: level, Cause: "default"}
}

// containsSignupPattern reports whether req/blob exhibits the signup
// heuristic: a signup-shaped URL with POST, or a param blob containing
// password-style fields plus an email field plus a signup-shaped URL.
func (c *Classifier) containsSignupPattern(req pawn.ActionRequest, blob string) bool {
	url := paramString(req.Params, "url")
	method := strings.ToUpper(paramString(req.Params, "method"))

	if url != "" && signupPatternRe.MatchString(url) && method == "POST" {
		return true
	}
	if signupFieldsRe.MatchString(blob) && emailFieldRe.MatchString(blob) && signupPatternRe.MatchString(blob) {
		return true
	}
	return false
}

// containsPaymentPattern reports whether blob exhibits payment-field
// heuristics.
func (c *Classifier) containsPaymentPattern(blob string) bool {
	return paymentPatternRe.MatchString(blob)
}

// containsSecretPattern reports whether blob matches any built-in, or
// configured extra, secret-leak pattern. Returns the pattern's name/source
// for diagnostics.
func (c *Classifier) containsSecretPattern(blob string) (pattern string, ok bool) {
	for _, re := range builtinSecretPatterns {
		if re.MatchString(blob) {
			return re.String(), true
		}
	}
	for _, re := range c.extraSecretRes {
		if re.MatchString(blob) {
			return re.String(), true
		}
	}
	return "", false
}

// escalatesToForbidden reports whether an exec_command's command string
// contains destructive/escalation patterns, network-exfil binaries, or a
// pipe into a shell.
func escalatesToForbidden(command string) (cause string, escalate bool) {
	if command == "" {
		return "", false
	}
	for _, re := range destructivePatterns {
		if re.MatchString(command) {
			return "destructive pattern in command: " + re.String(), true
		}
	}
	if exfilBinaryRe.MatchString(command) {
		return "network-exfil binary in command", true
	}
	if pipeToShellRe.MatchString(command) {
		return "pipes into a shell", true
	}
	return "", false
}

// ContainsSecretPattern exposes the secret-pattern predicate so Guardian
// can re-check params independently of a full Classify call and report
// the exact pattern that matched.
func (c *Classifier) ContainsSecretPattern(params pawn.Params) (pattern string, ok bool) {
	return c.containsSecretPattern(serialize(params))
}

// ContainsSignupPattern exposes the signup-pattern predicate.
func (c *Classifier) ContainsSignupPattern(req pawn.ActionRequest) bool {
	return c.containsSignupPattern(req, serialize(req.Params))
}

// ContainsPaymentPattern exposes the payment-pattern predicate.
func (c *Classifier) ContainsPaymentPattern(params pawn.Params) bool {
	return c.containsPaymentPattern(serialize(params))
}

func paramString(params pawn.Params, key string) string {
	v, ok := params[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// serialize renders params as JSON for pattern scanning. Marshal failure
// yields an empty blob rather than panicking — classification degrades
// to the action-type
// predicates rather than erroring.
func serialize(params pawn.Params) string {
	if params == nil {
		return "{}"
	}
	b, err := json.Marshal(params)
	if err != nil {
		return "{}"
	}
	return string(b)
}
