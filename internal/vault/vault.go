// Package vault implements the Secret Vault: an in-memory keyed secret
// store that hands out reference tokens instead of raw values, and masks
// stored values out of arbitrary text.
package vault

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/pawnguard/pkg/pawn"
)

// refPrefix and refSuffix bracket the reference literal format $VAULT{key}.
const (
	refPrefix = "$VAULT{"
	refSuffix = "}"
	maskToken = "***"
)

// Vault holds secrets keyed by name and produces/resolves $VAULT{key}
// reference literals for them.
type Vault struct {
	mu      sync.RWMutex
	entries map[string]pawn.VaultEntry
}

// New creates an empty vault.
func New() *Vault {
	return &Vault{entries: make(map[string]pawn.VaultEntry)}
}

// Ref returns the reference literal for key, regardless of whether key
// currently exists.
func Ref(key string) string {
	return refPrefix + key + refSuffix
}

// Store saves value under key, replacing any prior entry, and returns the
// reference literal for it.
func (v *Vault) Store(key, value string) string {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.entries[key] = pawn.VaultEntry{Key: key, Value: value, AddedAt: time.Now()}
	return Ref(key)
}

// Resolve returns the stored value for a reference literal. ref must be
// exactly $VAULT{key} and key must exist; otherwise ok is false.
func (v *Vault) Resolve(ref string) (value string, ok bool) {
	key, isRef := parseRef(ref)
	if !isRef {
		return "", false
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	entry, found := v.entries[key]
	if !found {
		return "", false
	}
	return entry.Value, true
}

func parseRef(ref string) (key string, ok bool) {
	if !strings.HasPrefix(ref, refPrefix) || !strings.HasSuffix(ref, refSuffix) {
		return "", false
	}
	key = ref[len(refPrefix) : len(ref)-len(refSuffix)]
	if key == "" {
		return "", false
	}
	return key, true
}

// Mask replaces every occurrence of every stored value in text with ***.
// It is idempotent: Mask(Mask(x)) == Mask(x), since the mask token itself
// never matches a stored secret value (values are non-empty, *** is not
// substituted as a value).
func (v *Vault) Mask(text string) string {
	v.mu.RLock()
	values := make([]string, 0, len(v.entries))
	for _, e := range v.entries {
		if e.Value != "" {
			values = append(values, e.Value)
		}
	}
	v.mu.RUnlock()

	masked := text
	for _, val := range values {
		masked = strings.ReplaceAll(masked, val, maskToken)
	}
	return masked
}

// LoadFromEnv ingests every environment variable whose name starts with
// prefix, lowercasing the remainder to form the vault key. For example
// with prefix "PAWN_SECRET_", the env var PAWN_SECRET_GITHUB_TOKEN becomes
// vault key "github_token".
func (v *Vault) LoadFromEnv(prefix string) int {
	count := 0
	for _, kv := range os.Environ() {
		name, value, found := strings.Cut(kv, "=")
		if !found || !strings.HasPrefix(name, prefix) {
			continue
		}
		key := strings.ToLower(strings.TrimPrefix(name, prefix))
		if key == "" {
			continue
		}
		v.Store(key, value)
		count++
	}
	return count
}

// Keys returns the set of currently stored keys, for diagnostics. Values
// are never exposed through this API.
func (v *Vault) Keys() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]string, 0, len(v.entries))
	for k := range v.entries {
		out = append(out, k)
	}
	return out
}

// ErrNotFound is returned by callers that need a typed error for a missing
// vault key rather than the bool-ok form of Resolve.
var ErrNotFound = fmt.Errorf("vault: key not found")
