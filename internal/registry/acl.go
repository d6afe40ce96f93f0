package registry

import "sync"

// AgentPolicy is one agent's allow/deny tool list, expanded via Groups.
// Deny always wins over allow.
type AgentPolicy struct {
	Allow []string
	Deny  []string
}

// StaticACL holds a per-agent AgentPolicy set at construction time.
type StaticACL struct {
	mu       sync.RWMutex
	policies map[string]AgentPolicy
}

// NewStaticACL builds an ACL from a fixed agentID -> AgentPolicy mapping.
func NewStaticACL(policies map[string]AgentPolicy) *StaticACL {
	if policies == nil {
		policies = make(map[string]AgentPolicy)
	}
	return &StaticACL{policies: policies}
}

// SetPolicy replaces the policy for agentID.
func (a *StaticACL) SetPolicy(agentID string, policy AgentPolicy) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.policies[agentID] = policy
}

// IsToolAllowed reports whether agentID may invoke toolName: deny wins if
// toolName (or a group containing it) appears in Deny; otherwise it must
// appear in Allow (directly or via a group) to be permitted. An agent with
// no configured policy is denied everything.
func (a *StaticACL) IsToolAllowed(agentID, toolName string) bool {
	a.mu.RLock()
	policy, ok := a.policies[agentID]
	a.mu.RUnlock()
	if !ok {
		return false
	}

	if matchesAny(toolName, policy.Deny) {
		return false
	}
	return matchesAny(toolName, policy.Allow)
}

func matchesAny(toolName string, refs []string) bool {
	for _, ref := range refs {
		if ref == toolName {
			return true
		}
		if members, isGroup := ResolveGroup(ref); isGroup {
			for _, m := range members {
				if m == toolName {
					return true
				}
			}
		}
	}
	return false
}
