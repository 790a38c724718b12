package provider

import (
	"encoding/json"
	"strings"

	"github.com/routecodex/routecodex/internal/domain"
	"github.com/routecodex/routecodex/internal/quota"
)

// upstreamError is the lowest common denominator of provider error bodies:
// OpenAI-style {"error":{...}}, Anthropic's {"type":"error","error":{...}},
// and Google's {"error":{"code":..,"status":..,"details":[..]}} all fit.
type upstreamError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
		Status  string `json:"status"`
		Details []struct {
			Type     string            `json:"@type"`
			Reason   string            `json:"reason"`
			Metadata map[string]string `json:"metadata"`
		} `json:"details"`
	} `json:"error"`
}

// ClassifyHTTPError maps an upstream status and body onto the error
// taxonomy. The result feeds both the failover decision and the quota
// daemon's cooldown choice.
func ClassifyHTTPError(providerType string, status int, body []byte) *domain.GatewayError {
	var ue upstreamError
	_ = json.Unmarshal(body, &ue)
	message := ue.Error.Message
	if message == "" {
		message = strings.TrimSpace(string(body))
		if len(message) > 512 {
			message = message[:512]
		}
	}

	ge := &domain.GatewayError{
		Status:  status,
		Message: message,
		Details: map[string]any{"provider_type": providerType},
	}

	switch {
	case status == 429:
		ge.Kind = domain.KindUpstreamCapacity
		if delay, ok := quotaResetDelay(&ue); ok {
			ge.Kind = domain.KindUpstreamQuota
			ge.Code = domain.CodeQuotaDepleted
			ge.Details["quotaResetDelay"] = delay
			if d, ok := quota.ParseQuotaResetDelay(delay); ok {
				ge.RetryAfter = d
			}
		} else if d, ok := quota.ParseResetAfter(message); ok {
			ge.Kind = domain.KindUpstreamQuota
			ge.Code = domain.CodeQuotaDepleted
			ge.RetryAfter = d
		}

	case status == 434 || strings.Contains(message, "access to the current AK has been blocked"):
		// iFlow blocks the access key outright; no point retrying this key.
		ge.Kind = domain.KindUpstreamAuth
		ge.Code = domain.CodeIFlowBlocked

	case status == 403 && verificationURL(message) != "":
		ge.Kind = domain.KindUpstreamAuth
		ge.Code = domain.CodeVerificationRequired
		ge.Details["verification_url"] = verificationURL(message)

	case status == 401 || status == 402 || status == 403:
		ge.Kind = domain.KindUpstreamAuth

	case status >= 500:
		ge.Kind = domain.KindUpstreamTransient

	default:
		ge.Kind = domain.KindUpstreamTransient
	}
	return ge
}

// quotaResetDelay digs Google's RetryInfo/QuotaFailure metadata out of the
// error details.
func quotaResetDelay(ue *upstreamError) (string, bool) {
	for _, d := range ue.Error.Details {
		if v, ok := d.Metadata["quotaResetDelay"]; ok && v != "" {
			return v, true
		}
	}
	return "", false
}

// verificationURL pulls the account-verification link Google embeds in 403
// bodies when it gates an account.
func verificationURL(message string) string {
	for _, marker := range []string{"https://accounts.google.com", "https://console.cloud.google.com"} {
		if i := strings.Index(message, marker); i >= 0 {
			end := i
			for end < len(message) && !strings.ContainsRune(" \t\n\"'<>)", rune(message[end])) {
				end++
			}
			return message[i:end]
		}
	}
	return ""
}
