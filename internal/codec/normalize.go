package codec

import (
	"encoding/json"
	"regexp"
	"strings"
)

// CoerceArguments normalizes a tool-call arguments value of any JSON shape
// into the canonical JSON-string form. Empty or absent arguments become
// "{}" so downstream schema enforcement never sees an empty string.
func CoerceArguments(v any) string {
	switch a := v.(type) {
	case nil:
		return "{}"
	case string:
		s := strings.TrimSpace(a)
		if s == "" {
			return "{}"
		}
		return s
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return "{}"
		}
		return string(b)
	}
}

// ArgumentsToObject decodes a canonical JSON-string arguments payload into
// an object for targets (Gemini) that forbid top-level arrays. Arrays are
// wrapped as {"items": [...]}; scalars as {"value": ...}; invalid JSON is
// carried as {"raw": "..."} rather than dropped.
func ArgumentsToObject(args string) map[string]any {
	s := strings.TrimSpace(args)
	if s == "" {
		return map[string]any{}
	}
	var decoded any
	if err := json.Unmarshal([]byte(s), &decoded); err != nil {
		return map[string]any{"raw": args}
	}
	switch v := decoded.(type) {
	case map[string]any:
		return v
	case []any:
		return map[string]any{"items": v}
	case nil:
		return map[string]any{}
	default:
		return map[string]any{"value": v}
	}
}

// IsArrayArguments reports whether a JSON-string arguments payload is a
// top-level array.
func IsArrayArguments(args string) bool {
	s := strings.TrimSpace(args)
	return strings.HasPrefix(s, "[")
}

var thinkPattern = regexp.MustCompile(`(?s)<think>(.*?)</think>`)

// ExtractThinking splits <think>...</think> segments out of assistant text.
// It returns the visible text and the concatenated thinking content.
func ExtractThinking(text string) (visible, thinking string) {
	if !strings.Contains(text, "<think>") {
		return text, ""
	}
	matches := thinkPattern.FindAllStringSubmatch(text, -1)
	for _, m := range matches {
		thinking += m[1]
	}
	visible = thinkPattern.ReplaceAllString(text, "")
	visible = strings.TrimLeft(visible, "\n")
	return visible, thinking
}

// EnsureToolsField re-adds an empty tools array to an encoded body when the
// original request carried one; omitempty tags would otherwise drop it.
func EnsureToolsField(body []byte) []byte {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(body, &m); err != nil {
		return body
	}
	if _, ok := m["tools"]; ok {
		return body
	}
	m["tools"] = json.RawMessage("[]")
	out, err := json.Marshal(m)
	if err != nil {
		return body
	}
	return out
}

// HasToolsField reports whether the raw body contains a top-level tools
// key, regardless of its value. Round-tripping preserves an empty tools
// array only when the client sent one.
func HasToolsField(raw []byte) bool {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return false
	}
	_, ok := probe["tools"]
	return ok
}
