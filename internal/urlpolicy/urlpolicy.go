// Package urlpolicy implements the domain allowlist / regex blocklist used
// to decide whether Guardian may let an agent fetch a URL. Blacklist always
// wins over the allowlist; subdomains of an allowed domain are allowed.
package urlpolicy

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"
)

// Decision is the outcome of evaluating a URL against the policy.
type Decision struct {
	Allowed bool
	Reason  string
}

// Policy holds an allowed-domain set and a blocked-pattern list. The zero
// value is a usable, empty policy (nothing allowed, nothing blocked).
type Policy struct {
	mu      sync.RWMutex
	allowed map[string]struct{}
	blocked []*regexp.Regexp
	// blockedSrc preserves the original pattern text so reasons and
	// ListBlocked can report what was actually configured.
	blockedSrc []string
}

// New creates an empty URL policy.
func New() *Policy {
	return &Policy{allowed: make(map[string]struct{})}
}

// AddAllowed registers a domain (e.g. "github.com") as allowed. Matching
// also accepts any subdomain of it.
func (p *Policy) AddAllowed(domain string) {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.allowed[domain] = struct{}{}
}

// AddBlocked registers a case-insensitive regex pattern. Any URL whose
// hostname or full URL text matches any blocked pattern is denied,
// regardless of allowlist membership.
func (p *Policy) AddBlocked(pattern string) error {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return fmt.Errorf("urlpolicy: invalid blocked pattern %q: %w", pattern, err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.blocked = append(p.blocked, re)
	p.blockedSrc = append(p.blockedSrc, pattern)
	return nil
}

// ListAllowed returns the configured allowed domains.
func (p *Policy) ListAllowed() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.allowed))
	for d := range p.allowed {
		out = append(out, d)
	}
	return out
}

// ListBlocked returns the configured blocked pattern strings.
func (p *Policy) ListBlocked() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, len(p.blockedSrc))
	copy(out, p.blockedSrc)
	return out
}

// IsAllowed decides whether rawURL may be fetched. Parse failures deny with
// "invalid URL". Blacklist match (against hostname or the full URL) always
// wins over allowlist membership.
func (p *Policy) IsAllowed(rawURL string) Decision {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return Decision{Allowed: false, Reason: "invalid URL"}
	}
	hostname := strings.ToLower(u.Hostname())

	p.mu.RLock()
	defer p.mu.RUnlock()

	for i, re := range p.blocked {
		if re.MatchString(hostname) || re.MatchString(rawURL) {
			return Decision{
				Allowed: false,
				Reason:  fmt.Sprintf("blocked by pattern %q", p.blockedSrc[i]),
			}
		}
	}

	for domain := range p.allowed {
		if hostname == domain || strings.HasSuffix(hostname, "."+domain) {
			return Decision{Allowed: true, Reason: "matches allowed domain " + domain}
		}
	}

	return Decision{Allowed: false, Reason: "hostname not in allowlist"}
}
