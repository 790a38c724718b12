package server

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/routecodex/routecodex/internal/domain"
	"github.com/routecodex/routecodex/internal/pipeline"
)

// adminDisableRequest is the operator disable payload. Durations are
// milliseconds; mode is "cooldown" or "blacklist".
type adminDisableRequest struct {
	Mode       string `json:"mode"`
	DurationMs int64  `json:"duration_ms"`
}

// handleAdminProviders reports the quota daemon's full per-key state.
func (s *Server) handleAdminProviders(w http.ResponseWriter, r *http.Request) {
	entries := s.quota.Entries()
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ProviderKey < entries[j].ProviderKey
	})
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"providers": entries})
}

// handleAdminRoutes reports the resolved route table.
func (s *Server) handleAdminRoutes(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"routes": s.router.Routes()})
}

func (s *Server) handleAdminDisable(w http.ResponseWriter, r *http.Request) {
	key, ok := adminKey(w, r)
	if !ok {
		return
	}
	var req adminDisableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "invalid disable body")
		return
	}
	if req.Mode != "cooldown" && req.Mode != "blacklist" {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "mode must be cooldown or blacklist")
		return
	}
	if req.DurationMs <= 0 {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "duration_ms must be positive")
		return
	}
	s.quota.DisableProvider(key, req.Mode, time.Duration(req.DurationMs)*time.Millisecond)
	s.logger.Info("provider disabled by operator",
		"provider_key", key.String(), "mode", req.Mode, "duration_ms", req.DurationMs)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAdminRecover(w http.ResponseWriter, r *http.Request) {
	key, ok := adminKey(w, r)
	if !ok {
		return
	}
	s.quota.RecoverProvider(key)
	s.logger.Info("provider recovered by operator", "provider_key", key.String())
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAdminReset(w http.ResponseWriter, r *http.Request) {
	key, ok := adminKey(w, r)
	if !ok {
		return
	}
	s.quota.ResetProvider(key)
	s.logger.Info("provider state reset by operator", "provider_key", key.String())
	w.WriteHeader(http.StatusNoContent)
}

// handleAdminInteractions serves the recent interaction log from the store.
func (s *Server) handleAdminInteractions(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			writeJSONError(w, http.StatusBadRequest, "invalid_request", "limit must be 1..500")
			return
		}
		limit = n
	}
	recs := []pipeline.Interaction{}
	if s.interactions != nil {
		got, err := s.interactions.Recent(r.Context(), limit)
		if err != nil {
			s.logger.Error("interaction query failed", "error", err.Error())
			writeJSONError(w, http.StatusInternalServerError, "internal_error", "interaction query failed")
			return
		}
		if got != nil {
			recs = got
		}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"interactions": recs})
}

func adminKey(w http.ResponseWriter, r *http.Request) (domain.ProviderKey, bool) {
	raw := chi.URLParam(r, "key")
	key, err := domain.ParseProviderKey(raw)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return "", false
	}
	return key, true
}
