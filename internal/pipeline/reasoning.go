// Package pipeline orchestrates one request end to end: decode, tool
// filter, classify, execute with failover, and encode the reply in the
// client's protocol.
package pipeline

import (
	"os"

	"github.com/routecodex/routecodex/internal/domain"
)

// ReasoningPolicy decides whether thinking text reaches the client.
type ReasoningPolicy string

const (
	ReasoningAuto     ReasoningPolicy = "auto"
	ReasoningStrip    ReasoningPolicy = "strip"
	ReasoningPreserve ReasoningPolicy = "preserve"
)

// ReasoningPolicyFromEnv reads the RCC_REASONING_POLICY override.
func ReasoningPolicyFromEnv() ReasoningPolicy {
	switch os.Getenv("RCC_REASONING_POLICY") {
	case "strip":
		return ReasoningStrip
	case "preserve":
		return ReasoningPreserve
	default:
		return ReasoningAuto
	}
}

// stripThinking reports whether thinking text must be removed for this
// entry protocol. Auto strips on the chat and messages surfaces, which
// most clients treat as final-answer channels, and preserves on the
// responses surface, which has a native reasoning item type.
func (p ReasoningPolicy) stripThinking(entry domain.Protocol) bool {
	switch p {
	case ReasoningStrip:
		return true
	case ReasoningPreserve:
		return false
	default:
		return entry == domain.ProtocolOpenAIChat || entry == domain.ProtocolAnthropic
	}
}

// applyToResponse removes thinking from choices when the policy says so.
func (p ReasoningPolicy) applyToResponse(entry domain.Protocol, resp *domain.CanonicalResponse) {
	if !p.stripThinking(entry) {
		return
	}
	for i := range resp.Choices {
		resp.Choices[i].Message.Thinking = ""
	}
}

// applyToEvent filters one streaming event; it returns false when the
// event should be dropped entirely.
func (p ReasoningPolicy) applyToEvent(entry domain.Protocol, ev *domain.CanonicalEvent) bool {
	if ev.Type == domain.EventThinkDelta && p.stripThinking(entry) {
		return false
	}
	return true
}
