package domain

import (
	"encoding/json"
	"strings"
)

// Envelope wraps one inbound request for the lifetime of its processing.
// The front-end builds it at ingress; the conversion pipeline owns it.
type Envelope struct {
	Endpoint       string
	EntryProtocol  Protocol
	TargetProtocol Protocol
	RequestID      string
	Payload        json.RawMessage
	Metadata       EnvelopeMetadata
}

// EnvelopeMetadata carries per-request routing hints and identity.
type EnvelopeMetadata struct {
	Stream      bool
	RouteHint   string
	SessionID   string
	APIKey      string
	ProcessMode string
	UserAgent   string
}

// SanitizeRequestID restricts a request id to [A-Za-z0-9_.-] so it is safe
// as a log correlation id and a snapshot filename component.
func SanitizeRequestID(id string) string {
	var b strings.Builder
	b.Grow(len(id))
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '_' || r == '.' || r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
