package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/routecodex/routecodex/internal/pipeline"
	"github.com/routecodex/routecodex/internal/quota"
)

func TestAdminDisableAndRecover(t *testing.T) {
	s := newTestServer(t, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/admin/providers/mock.local.test-model/disable",
		strings.NewReader(`{"mode":"blacklist","duration_ms":3600000}`))
	s.Router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("disable status = %d, body = %s", rec.Code, rec.Body.String())
	}

	// The disabled key is now out of the selection pool; the only route has
	// no targets left.
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/v1/chat/completions",
		strings.NewReader(`{"model":"test-model","messages":[{"role":"user","content":"ping"}]}`))
	s.Router.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 with the pool empty", rec.Code)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/admin/providers/mock.local.test-model/recover", nil)
	s.Router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("recover status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/v1/chat/completions",
		strings.NewReader(`{"model":"test-model","messages":[{"role":"user","content":"ping"}]}`))
	s.Router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status after recover = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestAdminDisableValidation(t *testing.T) {
	s := newTestServer(t, nil)

	tests := []struct {
		name string
		path string
		body string
	}{
		{"bad mode", "/admin/providers/mock.local.test-model/disable", `{"mode":"nuke","duration_ms":1000}`},
		{"zero duration", "/admin/providers/mock.local.test-model/disable", `{"mode":"cooldown","duration_ms":0}`},
		{"malformed key", "/admin/providers/notakey/disable", `{"mode":"cooldown","duration_ms":1000}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, tt.path, strings.NewReader(tt.body))
			s.Router.ServeHTTP(rec, req)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestAdminProvidersListing(t *testing.T) {
	s := newTestServer(t, nil)
	s.quota.DisableProvider("mock.local.test-model", "cooldown", time.Minute)

	rec := httptest.NewRecorder()
	s.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/providers", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Providers []quota.Entry `json:"providers"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("body: %v", err)
	}
	if len(body.Providers) != 1 || body.Providers[0].Reason != quota.ReasonCooldown {
		t.Errorf("providers = %+v", body.Providers)
	}
}

type staticInteractions []pipeline.Interaction

func (s staticInteractions) Recent(_ context.Context, limit int) ([]pipeline.Interaction, error) {
	if limit < len(s) {
		return s[:limit], nil
	}
	return s, nil
}

func TestAdminInteractionsListing(t *testing.T) {
	s := newTestServer(t, nil)
	s.interactions = staticInteractions{
		{RequestID: "req-1", Endpoint: "/v1/chat/completions", ProviderKey: "mock.local.test-model"},
		{RequestID: "req-2", Endpoint: "/v1/messages"},
	}

	rec := httptest.NewRecorder()
	s.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/interactions?limit=1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Interactions []pipeline.Interaction `json:"interactions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("body: %v", err)
	}
	if len(body.Interactions) != 1 || body.Interactions[0].RequestID != "req-1" {
		t.Errorf("interactions = %+v", body.Interactions)
	}

	rec = httptest.NewRecorder()
	s.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/interactions?limit=0", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("limit=0 status = %d, want 400", rec.Code)
	}
}

func TestAdminInteractionsWithoutStore(t *testing.T) {
	s := newTestServer(t, nil)
	rec := httptest.NewRecorder()
	s.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/interactions", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"interactions":[]`) {
		t.Errorf("body = %s, want empty list", rec.Body.String())
	}
}

func TestAdminRoutesListing(t *testing.T) {
	s := newTestServer(t, nil)
	rec := httptest.NewRecorder()
	s.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/routes", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Routes map[string]json.RawMessage `json:"routes"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("body: %v", err)
	}
	if _, ok := body.Routes["default"]; !ok {
		t.Errorf("routes = %v, want default present", body.Routes)
	}
}
