package provider

import (
	"context"
	"net/http"

	"github.com/routecodex/routecodex/internal/domain"
)

// OpenAIAdapter speaks the /chat/completions wire shared by OpenAI, iFlow,
// GLM, Qwen, and LM Studio. Family differences live in the compat profile
// carried on the target, not in separate adapters.
type OpenAIAdapter struct {
	client *http.Client
}

func (a *OpenAIAdapter) headers(target *domain.Target) (http.Header, error) {
	token, _, err := bearerFor(target)
	if err != nil {
		return nil, err
	}
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	switch target.ProviderType {
	case "glm":
		// GLM rejects requests without an explicit client identification.
		h.Set("X-Client-Name", "routecodex")
	case "lmstudio":
		// Local servers commonly ignore auth; the bearer is harmless.
	}
	return h, nil
}

func (a *OpenAIAdapter) url(target *domain.Target) string {
	return joinURL(target.Endpoint, "/chat/completions")
}

func (a *OpenAIAdapter) Complete(ctx context.Context, target *domain.Target, body []byte) ([]byte, error) {
	h, err := a.headers(target)
	if err != nil {
		return nil, err
	}
	return doJSON(ctx, a.client, target.ProviderType, a.url(target), h, body)
}

func (a *OpenAIAdapter) Stream(ctx context.Context, target *domain.Target, body []byte) (*StreamResult, error) {
	h, err := a.headers(target)
	if err != nil {
		return nil, err
	}
	return doStream(ctx, a.client, target.ProviderType, a.url(target), h, body)
}
