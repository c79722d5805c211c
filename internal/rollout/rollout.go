// Package rollout implements the deterministic per-user feature bucketing,
// using a SHA-256 digest so the bucket boundary is stable and not subject
// to FNV's documented avalanche weaknesses on short, similar keys.
package rollout

import (
	"crypto/sha256"
	"fmt"
)

// Settings is one feature's rollout configuration.
type Settings struct {
	Enabled bool
	ShadowMode bool
	Allowlist []string
	TrafficPercent int
	LegacyFallbackEnabled bool
}

// Decision is the outcome of evaluating a user against a feature's Settings.
type Decision struct {
	Serve bool
	Shadow bool
	Reason string
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// bucket hashes user_id+feature_name with SHA-256 and folds the low 16
// bits of the digest into [0, 100).
func bucket(userID, featureName string) int {
	sum := sha256.Sum256([]byte(userID + featureName))
	low16 := uint16(sum[len(sum)-2])<<8 | uint16(sum[len(sum)-1])
	return int(low16) % 100
}

// Evaluate decides whether a user is served a feature, and whether that
// serving happens in shadow mode, by allowlist then traffic-percent
// bucketing.
func Evaluate(userID, featureName string, s Settings) Decision {
	if !s.Enabled {
		return Decision{Serve: false, Shadow: false, Reason: "disabled"}
	}

	excluded := len(s.Allowlist) > 0 && !contains(s.Allowlist, userID)
	if len(s.Allowlist) > 0 && !excluded {
		return Decision{Serve: true, Shadow: false, Reason: "allowlist"}
	}
	if excluded && s.ShadowMode {
		return Decision{Serve: false, Shadow: true, Reason: "allowlist_excluded_shadow"}
	}

	p := bucket(userID, featureName)
	if p < s.TrafficPercent {
		return Decision{Serve: true, Shadow: false, Reason: fmt.Sprintf("rollout_%d", p)}
	}

	if s.TrafficPercent == 0 && !s.LegacyFallbackEnabled {
		return Decision{Serve: true, Shadow: false, Reason: "forced_no_legacy_rollout_0_miss"}
	}
	if s.ShadowMode {
		return Decision{Serve: false, Shadow: true, Reason: fmt.Sprintf("rollout_%d", p)}
	}
	return Decision{Serve: false, Shadow: false, Reason: fmt.Sprintf("rollout_%d", p)}
}
