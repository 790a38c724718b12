package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/routecodex/routecodex/internal/api/responses"
	"github.com/routecodex/routecodex/internal/domain"
)

// maxBodyBytes bounds inbound request bodies; long-context requests are
// large but not unbounded.
const maxBodyBytes = 64 * 1024 * 1024

// streamProbe peeks at the one field every entry protocol shares.
type streamProbe struct {
	Stream bool `json:"stream"`
}

func (s *Server) readEnvelope(r *http.Request, endpoint string, entry domain.Protocol) (*domain.Envelope, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, domain.WrapError(domain.KindProtocol, err, "read request body")
	}
	var probe streamProbe
	_ = json.Unmarshal(body, &probe)

	// x-routecodex-route is the legacy spelling of the hint header.
	routeHint := r.Header.Get("x-route-hint")
	if routeHint == "" {
		routeHint = r.Header.Get("x-routecodex-route")
	}

	return &domain.Envelope{
		Endpoint:      endpoint,
		EntryProtocol: entry,
		RequestID:     domain.SanitizeRequestID(RequestID(r.Context())),
		Payload:       body,
		Metadata: domain.EnvelopeMetadata{
			Stream:    probe.Stream,
			RouteHint: routeHint,
			SessionID: r.Header.Get("x-session-id"),
			UserAgent: r.Header.Get("User-Agent"),
		},
	}, nil
}

// handleCompletion serves all three entry surfaces; the entry protocol is
// bound at route registration.
func (s *Server) handleCompletion(endpoint string, entry domain.Protocol) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		env, err := s.readEnvelope(r, endpoint, entry)
		if err != nil {
			AddError(r.Context(), err)
			writeGatewayError(w, entry, err)
			return
		}
		s.serveEnvelope(w, r, env)
	}
}

func (s *Server) serveEnvelope(w http.ResponseWriter, r *http.Request, env *domain.Envelope) {
	AddLogField(r.Context(), "entry_protocol", string(env.EntryProtocol))

	if env.Metadata.Stream {
		s.serveStream(w, r, env)
		return
	}

	ctx := r.Context()
	if s.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.requestTimeout)
		defer cancel()
	}

	body, err := s.pipeline.HandleUnary(ctx, env)
	if err != nil {
		AddError(r.Context(), err)
		writeGatewayError(w, env.EntryProtocol, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}

func (s *Server) serveStream(w http.ResponseWriter, r *http.Request, env *domain.Envelope) {
	session, err := s.pipeline.HandleStream(r.Context(), env)
	if err != nil {
		AddError(r.Context(), err)
		writeGatewayError(w, env.EntryProtocol, err)
		return
	}

	sse, ok := newSSEWriter(w)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "streaming_unsupported", "connection does not support streaming")
		return
	}
	for frame := range session.Frames {
		if err := sse.WriteFrame(frame); err != nil {
			// Client went away; the pipeline observes ctx cancellation.
			return
		}
	}
	if err := session.Err(); err != nil {
		AddError(r.Context(), err)
	}
}

// handleSubmitToolOutputs continues a Responses conversation. The outputs
// are rewrapped as function_call_output input items and pushed through the
// same pipeline as a fresh responses request.
func (s *Server) handleSubmitToolOutputs(w http.ResponseWriter, r *http.Request) {
	responseID := chi.URLParam(r, "id")
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeGatewayError(w, domain.ProtocolResponses, domain.WrapError(domain.KindProtocol, err, "read request body"))
		return
	}
	var sto responses.SubmitToolOutputsRequest
	if err := json.Unmarshal(body, &sto); err != nil {
		writeGatewayError(w, domain.ProtocolResponses,
			domain.WrapError(domain.KindProtocol, err, "invalid submit_tool_outputs body"))
		return
	}
	if len(sto.ToolOutputs) == 0 {
		writeGatewayError(w, domain.ProtocolResponses,
			domain.NewError(domain.KindProtocol, "tool_outputs must not be empty"))
		return
	}

	req := responses.Request{
		PreviousResponseID: responseID,
		Stream:             sto.Stream,
	}
	for _, out := range sto.ToolOutputs {
		req.Input = append(req.Input, responses.InputItem{
			Type:   "function_call_output",
			CallID: out.ToolCallID,
			Output: out.Output,
		})
	}
	payload, err := json.Marshal(req)
	if err != nil {
		writeGatewayError(w, domain.ProtocolResponses,
			domain.WrapError(domain.KindInternalConversion, err, "rebuild responses request"))
		return
	}

	env := &domain.Envelope{
		Endpoint:      "/v1/responses/submit_tool_outputs",
		EntryProtocol: domain.ProtocolResponses,
		RequestID:     domain.SanitizeRequestID(RequestID(r.Context())),
		Payload:       payload,
		Metadata: domain.EnvelopeMetadata{
			Stream:    sto.Stream,
			SessionID: r.Header.Get("x-session-id"),
			UserAgent: r.Header.Get("User-Agent"),
		},
	}
	s.serveEnvelope(w, r, env)
}

// handleModels lists every distinct model reachable through the route
// table, in OpenAI list format.
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	seen := make(map[string]bool)
	list := domain.ModelList{Object: "list"}
	for key := range s.router.Targets() {
		model := key.Model()
		if model == "" || seen[model] {
			continue
		}
		seen[model] = true
		list.Data = append(list.Data, domain.Model{
			ID:      model,
			Object:  "model",
			OwnedBy: key.Provider(),
		})
	}
	sort.Slice(list.Data, func(i, j int) bool { return list.Data[i].ID < list.Data[j].ID })

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(list)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status": "healthy",
		"uptime": time.Since(s.started).String(),
	})
}

// handleShutdown terminates the process on request. Caller identity headers
// are logged for audit before the stop is acknowledged.
func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	s.logger.Info("shutdown requested",
		"caller_pid", r.Header.Get("x-routecodex-stop-caller-pid"),
		"caller_name", r.Header.Get("x-routecodex-stop-caller-name"),
		"remote_addr", r.RemoteAddr,
	)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "stopping"})
	if s.shutdown != nil {
		go s.shutdown()
	}
}
