package provider

import (
	"context"
	"fmt"
	"net/http"

	"github.com/routecodex/routecodex/internal/domain"
)

// GeminiAdapter speaks generateContent, either against the public
// generativelanguage surface or, with cloudCode set, against the Cloud Code
// Assist internal surface used by antigravity accounts.
type GeminiAdapter struct {
	client    *http.Client
	cloudCode bool
}

func (a *GeminiAdapter) headers(target *domain.Target) (http.Header, error) {
	token, projectID, err := bearerFor(target)
	if err != nil {
		return nil, err
	}
	h := http.Header{}
	if target.AuthKind == domain.AuthOAuth || a.cloudCode {
		h.Set("Authorization", "Bearer "+token)
		if projectID != "" {
			h.Set("X-Goog-User-Project", projectID)
		}
	} else {
		h.Set("x-goog-api-key", token)
	}
	return h, nil
}

func (a *GeminiAdapter) url(target *domain.Target, stream bool) string {
	if a.cloudCode {
		// The cloud code surface carries the model inside the envelope, not
		// the path.
		if stream {
			return joinURL(target.Endpoint, "/v1internal:streamGenerateContent?alt=sse")
		}
		return joinURL(target.Endpoint, "/v1internal:generateContent")
	}
	model := target.ProviderKey.Model()
	if model == "" {
		model = target.DefaultModel
	}
	verb := "generateContent"
	suffix := ""
	if stream {
		verb = "streamGenerateContent"
		suffix = "?alt=sse"
	}
	return joinURL(target.Endpoint, fmt.Sprintf("/v1beta/models/%s:%s%s", model, verb, suffix))
}

func (a *GeminiAdapter) Complete(ctx context.Context, target *domain.Target, body []byte) ([]byte, error) {
	h, err := a.headers(target)
	if err != nil {
		return nil, err
	}
	return doJSON(ctx, a.client, target.ProviderType, a.url(target, false), h, body)
}

func (a *GeminiAdapter) Stream(ctx context.Context, target *domain.Target, body []byte) (*StreamResult, error) {
	h, err := a.headers(target)
	if err != nil {
		return nil, err
	}
	return doStream(ctx, a.client, target.ProviderType, a.url(target, true), h, body)
}
