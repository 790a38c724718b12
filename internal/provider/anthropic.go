package provider

import (
	"context"
	"net/http"

	"github.com/routecodex/routecodex/internal/domain"
)

const anthropicVersion = "2023-06-01"

// AnthropicAdapter speaks the native /v1/messages wire.
type AnthropicAdapter struct {
	client *http.Client
}

func (a *AnthropicAdapter) headers(target *domain.Target) (http.Header, error) {
	token, _, err := bearerFor(target)
	if err != nil {
		return nil, err
	}
	h := http.Header{}
	h.Set("x-api-key", token)
	h.Set("anthropic-version", anthropicVersion)
	if target.AuthKind == domain.AuthOAuth {
		// OAuth accounts use a bearer instead of the api-key header.
		h.Del("x-api-key")
		h.Set("Authorization", "Bearer "+token)
	}
	return h, nil
}

func (a *AnthropicAdapter) url(target *domain.Target) string {
	return joinURL(target.Endpoint, "/v1/messages")
}

func (a *AnthropicAdapter) Complete(ctx context.Context, target *domain.Target, body []byte) ([]byte, error) {
	h, err := a.headers(target)
	if err != nil {
		return nil, err
	}
	return doJSON(ctx, a.client, target.ProviderType, a.url(target), h, body)
}

func (a *AnthropicAdapter) Stream(ctx context.Context, target *domain.Target, body []byte) (*StreamResult, error) {
	h, err := a.headers(target)
	if err != nil {
		return nil, err
	}
	return doStream(ctx, a.client, target.ProviderType, a.url(target), h, body)
}
