package toolfilter

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/routecodex/routecodex/internal/codec"
	"github.com/routecodex/routecodex/internal/domain"
)

// Apply runs the outbound tool filter over a canonical request: arguments
// are coerced to non-empty JSON strings and apply_patch payloads are
// validated pre-send. Tool history is preserved; nothing is deleted.
func Apply(req *domain.CanonicalRequest) error {
	for i := range req.Messages {
		msg := &req.Messages[i]
		for j := range msg.ToolCalls {
			tc := &msg.ToolCalls[j]
			tc.Function.Arguments = codec.CoerceArguments(tc.Function.Arguments)
			if err := ValidateToolCall(tc); err != nil {
				return err
			}
		}
	}
	return nil
}

// extractPatch pulls the patch body out of apply_patch arguments. Accepted
// shapes: {"patch": "..."}, {"input": "..."}, or the bare patch string.
func extractPatch(args string) (string, error) {
	trimmed := strings.TrimSpace(args)
	if strings.HasPrefix(trimmed, "{") {
		var obj map[string]any
		if err := json.Unmarshal([]byte(trimmed), &obj); err != nil {
			return "", fmt.Errorf("arguments are not valid JSON: %w", err)
		}
		for _, key := range []string{"patch", "input"} {
			if v, ok := obj[key]; ok {
				if s, ok := v.(string); ok {
					return s, nil
				}
				return "", fmt.Errorf("%s field is not a string", key)
			}
		}
		return "", fmt.Errorf("arguments missing patch field")
	}
	var s string
	if err := json.Unmarshal([]byte(trimmed), &s); err == nil {
		return s, nil
	}
	return trimmed, nil
}
