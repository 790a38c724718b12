// Package provider holds the upstream adapters. An adapter owns transport
// only: URL layout, auth headers, SSE plumbing, and error classification.
// Payload encoding and decoding belong to the codec layer.
package provider

import (
	"context"
	"net/http"
	"time"

	"github.com/routecodex/routecodex/internal/domain"
)

// Frame is one raw SSE frame off the upstream wire.
type Frame struct {
	Event string
	Data  []byte
}

// StreamResult carries the frame channel plus a terminal error slot the
// reader checks after the channel closes.
type StreamResult struct {
	Frames <-chan Frame
	Err    func() error
}

// Adapter sends already-encoded payloads to one provider family.
type Adapter interface {
	// Complete performs a unary request and returns the raw response body.
	Complete(ctx context.Context, target *domain.Target, body []byte) ([]byte, error)

	// Stream performs a streaming request. Frames arrive on the returned
	// channel; the channel closes on stream end or error.
	Stream(ctx context.Context, target *domain.Target, body []byte) (*StreamResult, error)
}

// Registry resolves an adapter for a target's provider type.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry wires the built-in adapters over a shared HTTP client.
func NewRegistry(client *http.Client) *Registry {
	if client == nil {
		client = &http.Client{Timeout: 0} // streams manage their own deadlines
	}
	openai := &OpenAIAdapter{client: client}
	return &Registry{adapters: map[string]Adapter{
		"openai":      openai,
		"iflow":       openai,
		"glm":         openai,
		"qwen":        openai,
		"lmstudio":    openai,
		"anthropic":   &AnthropicAdapter{client: client},
		"gemini":      &GeminiAdapter{client: client},
		"antigravity": &GeminiAdapter{client: client, cloudCode: true},
		"mock":        &MockAdapter{latency: 5 * time.Millisecond},
	}}
}

// Adapter returns the adapter for a provider type.
func (r *Registry) Adapter(providerType string) (Adapter, error) {
	a, ok := r.adapters[providerType]
	if !ok {
		return nil, domain.NewError(domain.KindInternalConversion,
			"no adapter for provider type %q", providerType)
	}
	return a, nil
}
