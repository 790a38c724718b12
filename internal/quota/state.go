// Package quota maintains the authoritative pool-membership state for every
// provider key. The daemon is the only writer; the router consumes a
// read-only view at selection time.
package quota

import (
	"time"

	"github.com/routecodex/routecodex/internal/domain"
)

// Reason explains why a key is in or out of the pool.
type Reason string

const (
	ReasonOK            Reason = "ok"
	ReasonCooldown      Reason = "cooldown"
	ReasonQuotaDepleted Reason = "quotaDepleted"
	ReasonBlacklist     Reason = "blacklist"
	ReasonProtected     Reason = "protected"

	// ReasonFatal is a legacy import-only state; snapshots carrying it are
	// migrated to cooldown on load.
	ReasonFatal Reason = "fatal"
)

// AutoCooldownMax caps every automatically applied cooldown. Operator
// blacklists are exempt.
const AutoCooldownMax = 3 * time.Hour

// Entry is the per-key quota state. All timestamps are unix milliseconds in
// the persisted form.
type Entry struct {
	ProviderKey           domain.ProviderKey `json:"providerKey"`
	InPool                bool               `json:"inPool"`
	Reason                Reason             `json:"reason"`
	CooldownUntilMs       int64              `json:"cooldownUntil,omitempty"`
	BlacklistUntilMs      int64              `json:"blacklistUntil,omitempty"`
	AuthType              domain.AuthKind    `json:"authType"`
	PriorityTier          int                `json:"priorityTier"`
	TotalTokensUsed       int64              `json:"totalTokensUsed"`
	LastErrorSeries       string             `json:"lastErrorSeries,omitempty"`
	LastErrorCode         string             `json:"lastErrorCode,omitempty"`
	LastErrorAtMs         int64              `json:"lastErrorAtMs,omitempty"`
	ConsecutiveErrorCount int                `json:"consecutiveErrorCount"`
	WindowStartMs         int64              `json:"windowStartMs,omitempty"`

	// VerificationURL is recorded when Google gates the account behind a
	// verification flow; surfaced to the operator via the admin API.
	VerificationURL string `json:"verificationURL,omitempty"`
}

// blacklistActive reports whether an operator blacklist window holds.
func (e *Entry) blacklistActive(now time.Time) bool {
	return e.Reason == ReasonBlacklist && nowMs(now) < e.BlacklistUntilMs
}

// advance moves expired timers back to ok. The untracked-oauth gate
// (cooldown with no deadline) never expires by time.
func (e *Entry) advance(now time.Time) {
	n := nowMs(now)
	switch e.Reason {
	case ReasonCooldown, ReasonQuotaDepleted:
		if e.CooldownUntilMs > 0 && n >= e.CooldownUntilMs {
			e.Reason = ReasonOK
			e.InPool = true
			e.CooldownUntilMs = 0
		}
	case ReasonBlacklist:
		if e.BlacklistUntilMs > 0 && n >= e.BlacklistUntilMs {
			e.Reason = ReasonOK
			e.InPool = true
			e.BlacklistUntilMs = 0
		}
	}
}

// ViewEntry is the router-facing read-only projection of an Entry.
type ViewEntry struct {
	ProviderKey           domain.ProviderKey
	InPool                bool
	Reason                Reason
	CooldownUntilMs       int64
	BlacklistUntilMs      int64
	PriorityTier          int
	ConsecutiveErrorCount int
	LastErrorAtMs         int64
}

// Ready reports whether the key may be selected right now.
func (v ViewEntry) Ready(now time.Time) bool {
	if !v.InPool || v.Reason != ReasonOK {
		return false
	}
	n := nowMs(now)
	return n >= v.CooldownUntilMs && n >= v.BlacklistUntilMs
}

// View is the read-only lookup the router holds. It must be cheap and
// safe for concurrent use.
type View func(key domain.ProviderKey) (ViewEntry, bool)

func nowMs(t time.Time) int64 { return t.UnixMilli() }
