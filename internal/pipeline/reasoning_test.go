package pipeline

import (
	"testing"

	"github.com/routecodex/routecodex/internal/domain"
)

func TestReasoningPolicyStripThinking(t *testing.T) {
	tests := []struct {
		policy ReasoningPolicy
		entry  domain.Protocol
		strip  bool
	}{
		{ReasoningAuto, domain.ProtocolOpenAIChat, true},
		{ReasoningAuto, domain.ProtocolAnthropic, true},
		{ReasoningAuto, domain.ProtocolResponses, false},
		{ReasoningStrip, domain.ProtocolResponses, true},
		{ReasoningPreserve, domain.ProtocolOpenAIChat, false},
	}
	for _, tt := range tests {
		if got := tt.policy.stripThinking(tt.entry); got != tt.strip {
			t.Errorf("%s/%s: strip = %v, want %v", tt.policy, tt.entry, got, tt.strip)
		}
	}
}

func TestReasoningPolicyAppliesToResponse(t *testing.T) {
	resp := &domain.CanonicalResponse{
		Choices: []domain.Choice{{
			Message: domain.Message{Role: "assistant", Content: "answer", Thinking: "scratchpad"},
		}},
	}
	ReasoningAuto.applyToResponse(domain.ProtocolOpenAIChat, resp)
	if resp.Choices[0].Message.Thinking != "" {
		t.Error("thinking not stripped on the chat surface")
	}
	if resp.Choices[0].Message.Content != "answer" {
		t.Error("content must survive the strip")
	}

	resp.Choices[0].Message.Thinking = "scratchpad"
	ReasoningAuto.applyToResponse(domain.ProtocolResponses, resp)
	if resp.Choices[0].Message.Thinking == "" {
		t.Error("thinking stripped on the responses surface")
	}
}

func TestReasoningPolicyAppliesToEvent(t *testing.T) {
	think := &domain.CanonicalEvent{Type: domain.EventThinkDelta, ThinkDelta: "hm"}
	if ReasoningAuto.applyToEvent(domain.ProtocolOpenAIChat, think) {
		t.Error("think delta must be dropped on the chat surface")
	}
	if !ReasoningAuto.applyToEvent(domain.ProtocolResponses, think) {
		t.Error("think delta must pass on the responses surface")
	}
	content := &domain.CanonicalEvent{Type: domain.EventContentDelta, ContentDelta: "x"}
	if !ReasoningStrip.applyToEvent(domain.ProtocolOpenAIChat, content) {
		t.Error("content deltas must always pass")
	}
}

func TestReasoningPolicyFromEnv(t *testing.T) {
	t.Setenv("RCC_REASONING_POLICY", "preserve")
	if got := ReasoningPolicyFromEnv(); got != ReasoningPreserve {
		t.Errorf("policy = %s, want preserve", got)
	}
	t.Setenv("RCC_REASONING_POLICY", "bogus")
	if got := ReasoningPolicyFromEnv(); got != ReasoningAuto {
		t.Errorf("policy = %s, want auto fallback", got)
	}
}
