package domain

import "time"

// EventRuntime identifies the request context an event originated from.
type EventRuntime struct {
	RequestID  string `json:"request_id,omitempty"`
	ProviderID string `json:"provider_id,omitempty"`
	RouteName  string `json:"route_name,omitempty"`
	Target     string `json:"target,omitempty"`
}

// ProviderErrorEvent is emitted by the executor or a provider adapter when
// an attempt against a target fails. The quota daemon is its only
// authoritative consumer.
type ProviderErrorEvent struct {
	ProviderKey ProviderKey    `json:"provider_key"`
	Status      int            `json:"status,omitempty"`
	Code        string         `json:"code,omitempty"`
	Kind        ErrorKind      `json:"kind,omitempty"`
	Stage       string         `json:"stage,omitempty"`
	Message     string         `json:"message,omitempty"`
	Recoverable bool           `json:"recoverable"`
	CooldownMs  int64          `json:"cooldown_ms,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	Details     map[string]any `json:"details,omitempty"`
	Runtime     EventRuntime   `json:"runtime"`
}

// ProviderSuccessEvent reports a completed attempt so the daemon can reset
// error series and record token usage.
type ProviderSuccessEvent struct {
	ProviderKey ProviderKey  `json:"provider_key"`
	TokensUsed  int          `json:"tokens_used,omitempty"`
	Timestamp   time.Time    `json:"timestamp"`
	Runtime     EventRuntime `json:"runtime"`
}

// Well-known event codes consumed by the quota daemon.
const (
	CodeQuotaDepleted        = "QUOTA_DEPLETED"
	CodeQuotaRecovery        = "QUOTA_RECOVERY"
	CodeIFlowBlocked         = "IFLOW_AK_BLOCKED"
	CodeVerificationRequired = "VERIFICATION_REQUIRED"
)
