package policy

import (
	"sort"
	"strings"

	"github.com/relaycore/orchestrator/internal/registry"
)

// TenantPolicy carries the tenant-level tool blocklist for C6.
type TenantPolicy struct {
	BlockedTools []string
}

// RiskPolicy gates destructive operations.
type RiskPolicy struct {
	AllowHighRisk bool
}

// BlockedReason pairs a blocked api_id with the reason it was dropped.
type BlockedReason struct {
	APIID string `json:"api_id"`
	Reason string `json:"reason"`
}

// RuntimeProfile is the output: the set of tools enabled for a
// user's request, and a detailed accounting of everything blocked.
type RuntimeProfile struct {
	EnabledAPIIDs []string `json:"enabled_api_ids"`
	BlockedAPIIDs []string `json:"blocked_api_ids"`
	BlockedReason []BlockedReason `json:"blocked_reason"`
}

var riskyVerbs = []string{"delete", "archive", "remove", "purge"}

func isHighRisk(toolName string) bool {
	lower := strings.ToLower(toolName)
	for _, v := range riskyVerbs {
		if strings.Contains(lower, v) {
			return true
		}
	}
	return false
}

// scopeAliases maps provider-specific scope spellings (e.g. full Google
// OAuth URLs) to the canonical scope name used by tool_definition.required_scopes.
var scopeAliases = map[string]string{
	"https://www.googleapis.com/auth/calendar.readonly": "calendar.read",
	"https://www.googleapis.com/auth/calendar": "calendar.write",
}

func canonicalScope(scope string) string {
	if alias, ok := scopeAliases[scope]; ok {
		return alias
	}
	return scope
}

func canonicalScopeSet(scopes []string) map[string]bool {
	out := make(map[string]bool, len(scopes))
	for _, s := range scopes {
		out[canonicalScope(s)] = true
	}
	return out
}

// BuildRuntimeProfile combines the registry, per-user granted scopes, the
// tenant's blocklist, and the risk policy into an enabled/blocked api_id
// profile
func BuildRuntimeProfile(
	tools []registry.ToolDefinition,
	connectedServices []string,
	grantedScopes map[string][]string,
	tenant TenantPolicy,
	risk RiskPolicy,
) RuntimeProfile {
	connected := make(map[string]bool, len(connectedServices))
	for _, s := range connectedServices {
		connected[strings.ToLower(s)] = true
	}
	blockedTools := make(map[string]bool, len(tenant.BlockedTools))
	for _, t := range tenant.BlockedTools {
		blockedTools[t] = true
	}

	var profile RuntimeProfile
	for _, tool := range tools {
		if !connected[tool.Service] {
			continue // dropped silently: service not connected
		}
		if blockedTools[tool.ToolName] {
			profile.BlockedAPIIDs = append(profile.BlockedAPIIDs, tool.ToolName)
			profile.BlockedReason = append(profile.BlockedReason, BlockedReason{APIID: tool.ToolName, Reason: "tenant_policy_blocked"})
			continue
		}
		granted := canonicalScopeSet(grantedScopes[tool.Service])
		missingScope := false
		for _, req := range tool.RequiredScopes {
			if !granted[canonicalScope(req)] {
				missingScope = true
				break
			}
		}
		if missingScope {
			profile.BlockedAPIIDs = append(profile.BlockedAPIIDs, tool.ToolName)
			profile.BlockedReason = append(profile.BlockedReason, BlockedReason{APIID: tool.ToolName, Reason: "missing_required_scope"})
			continue
		}
		if isHighRisk(tool.ToolName) && !risk.AllowHighRisk {
			profile.BlockedAPIIDs = append(profile.BlockedAPIIDs, tool.ToolName)
			profile.BlockedReason = append(profile.BlockedReason, BlockedReason{APIID: tool.ToolName, Reason: "risk_policy_blocked"})
			continue
		}
		profile.EnabledAPIIDs = append(profile.EnabledAPIIDs, tool.ToolName)
	}

	sort.Strings(profile.EnabledAPIIDs)
	sort.Strings(profile.BlockedAPIIDs)
	return profile
}

// IsEnabled reports whether api_id is among the profile's enabled tools.
func (p RuntimeProfile) IsEnabled(apiID string) bool {
	idx := sort.SearchStrings(p.EnabledAPIIDs, apiID)
	return idx < len(p.EnabledAPIIDs) && p.EnabledAPIIDs[idx] == apiID
}
