package ratelimit

import (
	"time"

	"github.com/MrEthical07/goGuard/internal/models"
)

// Merge returns the more restrictive of a and b. A denial beats an allow;
// between denials the later cooldown wins; between allows the one with fewer
// remaining attempts wins. Ties keep a.
func Merge(a, b models.RateLimitDecision) models.RateLimitDecision {
	if a.Allowed != b.Allowed {
		if !a.Allowed {
			return a
		}
		return b
	}
	if !a.Allowed {
		if later(b.CooldownUntil, a.CooldownUntil) {
			return b
		}
		return a
	}
	if b.RemainingAttempts < a.RemainingAttempts {
		return b
	}
	return a
}

// later reports whether x is strictly after y. nil is earlier than any time.
func later(x, y *time.Time) bool {
	switch {
	case x == nil:
		return false
	case y == nil:
		return true
	default:
		return x.After(*y)
	}
}

// MergeAll folds decisions with Merge. ok is false for an empty input.
func MergeAll(decisions []models.RateLimitDecision) (merged models.RateLimitDecision, ok bool) {
	for i, d := range decisions {
		if i == 0 {
			merged = d
			continue
		}
		merged = Merge(merged, d)
	}
	return merged, len(decisions) > 0
}
