package domain

// AuthKind identifies how a target authenticates against its provider.
type AuthKind string

const (
	AuthAPIKey  AuthKind = "apikey"
	AuthOAuth   AuthKind = "oauth"
	AuthUnknown AuthKind = "unknown"
)

// Target is one routable provider+model endpoint built at config bootstrap
// and reused for the process lifetime.
type Target struct {
	ProviderKey     ProviderKey
	ProviderType    string
	OutboundProfile Protocol
	CompatProfile   string
	RuntimeKey      string
	Endpoint        string
	AuthRef         string
	AuthKind        AuthKind
	DefaultModel    string

	// ProjectID for Cloud Code Assist style providers that scope requests
	// to a project.
	ProjectID string
}

// TierMode selects how targets within one tier are ordered.
type TierMode string

const (
	TierPriority   TierMode = "priority"
	TierWeighted   TierMode = "weighted"
	TierRoundRobin TierMode = "round-robin"
)

// RouteTier is one ordered group of targets within a route. Primary tiers
// are exhausted before any backup tier is considered.
type RouteTier struct {
	ID       string
	Priority int
	Backup   bool
	Mode     TierMode
	Targets  []ProviderKey
}

// RouteDecision is the router's answer for one selection round.
type RouteDecision struct {
	RouteName   string
	PoolID      string
	ProviderKey ProviderKey
	Target      *Target
}
