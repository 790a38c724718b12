// Package geminigen implements the provider-side codec for the Gemini
// generateContent protocol, including the Cloud Code Assist envelope used
// by antigravity targets. Gemini is never an entry protocol.
package geminigen

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/routecodex/routecodex/internal/api/gemini"
	"github.com/routecodex/routecodex/internal/codec"
	"github.com/routecodex/routecodex/internal/domain"
)

// Codec converts Gemini bodies to and from canonical form.
type Codec struct{}

// New creates the gemini codec.
func New() *Codec { return &Codec{} }

func (c *Codec) Protocol() domain.Protocol { return domain.ProtocolGemini }

// DecodeRequest is unsupported: no client speaks Gemini to this gateway.
func (c *Codec) DecodeRequest(data []byte, cctx *codec.Context) (*domain.CanonicalRequest, error) {
	return nil, fmt.Errorf("gemini is not an entry protocol")
}

// EncodeResponse is unsupported for the same reason.
func (c *Codec) EncodeResponse(resp *domain.CanonicalResponse, cctx *codec.Context) ([]byte, error) {
	return nil, fmt.Errorf("gemini is not an entry protocol")
}

// EncodeStreamFrame is unsupported for the same reason.
func (c *Codec) EncodeStreamFrame(ev *domain.CanonicalEvent, meta *codec.StreamMeta, cctx *codec.Context) ([]codec.Frame, error) {
	return nil, fmt.Errorf("gemini is not an entry protocol")
}

// StreamTerminator is unsupported for the same reason.
func (c *Codec) StreamTerminator(meta *codec.StreamMeta, cctx *codec.Context) []codec.Frame {
	return nil
}

// EncodeErrorFrame is unsupported for the same reason.
func (c *Codec) EncodeErrorFrame(err error, meta *codec.StreamMeta, cctx *codec.Context) []codec.Frame {
	return nil
}

// EncodeRequest converts canonical to a Gemini request. When the context
// carries a project id the body is wrapped into the Cloud Code Assist
// envelope; generation fields never appear at the top level.
func (c *Codec) EncodeRequest(req *domain.CanonicalRequest, cctx *codec.Context) ([]byte, error) {
	inner := &gemini.GenerateContentRequest{}

	if req.System != "" {
		inner.SystemInstruction = &gemini.Content{
			Parts: []gemini.Part{{Text: req.System}},
		}
	}

	// functionResponse.name must be the function's name; tool messages only
	// carry the call id, so resolve it against the calls in the history.
	callNames := make(map[string]string)
	for _, m := range req.Messages {
		for _, tc := range m.ToolCalls {
			callNames[tc.ID] = tc.Function.Name
		}
	}

	for _, m := range req.Messages {
		switch {
		case m.Role == "tool":
			name := callNames[m.ToolCallID]
			if name == "" {
				name = m.ToolCallID
			}
			inner.Contents = append(inner.Contents, gemini.Content{
				Role: "user",
				Parts: []gemini.Part{{
					FunctionResponse: &gemini.FunctionResponse{
						Name:     name,
						Response: map[string]any{"result": m.Content},
					},
				}},
			})
		case len(m.ToolCalls) > 0:
			content := gemini.Content{Role: "model"}
			for _, tc := range m.ToolCalls {
				content.Parts = append(content.Parts, gemini.Part{
					FunctionCall: &gemini.FunctionCall{
						Name: tc.Function.Name,
						Args: codec.ArgumentsToObject(tc.Function.Arguments),
					},
				})
			}
			inner.Contents = append(inner.Contents, content)
		default:
			role := "user"
			if m.Role == "assistant" {
				role = "model"
			}
			inner.Contents = append(inner.Contents, gemini.Content{
				Role:  role,
				Parts: []gemini.Part{{Text: m.Content}},
			})
		}
	}

	if len(req.Tools) > 0 {
		tool := gemini.Tool{}
		for _, t := range req.Tools {
			tool.FunctionDeclarations = append(tool.FunctionDeclarations, gemini.FunctionDeclaration{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				Parameters:  t.Function.Parameters,
			})
		}
		inner.Tools = []gemini.Tool{tool}
	}

	if req.Temperature > 0 || req.TopP > 0 || req.MaxTokens > 0 || len(req.Stop) > 0 {
		gc := &gemini.GenerationConfig{
			MaxOutputTokens: req.MaxTokens,
			StopSequences:   req.Stop,
		}
		if req.Temperature > 0 {
			t := req.Temperature
			gc.Temperature = &t
		}
		if req.TopP > 0 {
			tp := req.TopP
			gc.TopP = &tp
		}
		inner.GenerationConfig = gc
	}

	model := req.Model
	if cctx != nil && cctx.TargetModel != "" {
		model = cctx.TargetModel
	}

	if cctx != nil && cctx.ProjectID != "" {
		envelope := &gemini.CloudCodeEnvelope{
			Project:     cctx.ProjectID,
			RequestID:   cctx.RequestID,
			Request:     inner,
			Model:       model,
			UserAgent:   cctx.UserAgent,
			RequestType: "GenerateContent",
		}
		body, err := json.Marshal(envelope)
		if err != nil {
			return nil, fmt.Errorf("encode cloud code envelope: %w", err)
		}
		if err := gemini.ValidateEnvelope(body); err != nil {
			return nil, err
		}
		return body, nil
	}
	return json.Marshal(inner)
}

// DecodeResponse converts a Gemini response (raw or cloud-code wrapped) to
// canonical.
func (c *Codec) DecodeResponse(data []byte, cctx *codec.Context) (*domain.CanonicalResponse, error) {
	apiResp, err := unwrapResponse(data)
	if err != nil {
		return nil, err
	}
	msg := domain.Message{Role: "assistant"}
	finish := "stop"
	for _, cand := range apiResp.Candidates {
		for _, part := range cand.Content.Parts {
			if part.Text != "" {
				visible, thinking := codec.ExtractThinking(part.Text)
				msg.Content += visible
				msg.Thinking += thinking
			}
			if part.FunctionCall != nil {
				args, err := json.Marshal(part.FunctionCall.Args)
				if err != nil {
					args = []byte("{}")
				}
				msg.ToolCalls = append(msg.ToolCalls, domain.ToolCall{
					ID:   "call_" + uuid.NewString(),
					Type: "function",
					Function: domain.ToolCallFunction{
						Name:      part.FunctionCall.Name,
						Arguments: string(args),
					},
				})
			}
		}
		if cand.FinishReason != "" {
			finish = finishReasonToCanonical(cand.FinishReason)
		}
		break
	}
	if len(msg.ToolCalls) > 0 {
		msg.Content = ""
		finish = "tool_calls"
	}
	resp := &domain.CanonicalResponse{
		ID:            "gen-" + uuid.NewString(),
		Model:         apiResp.ModelVersion,
		ProviderModel: apiResp.ModelVersion,
		Choices: []domain.Choice{{
			Index:        0,
			Message:      msg,
			FinishReason: finish,
		}},
	}
	if apiResp.UsageMetadata != nil {
		resp.Usage = domain.Usage{
			PromptTokens:     apiResp.UsageMetadata.PromptTokenCount,
			CompletionTokens: apiResp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      apiResp.UsageMetadata.TotalTokenCount,
		}
	}
	return resp, nil
}

// DecodeStreamFrame converts one Gemini streaming frame into canonical
// events. Frames share the unary response shape.
func (c *Codec) DecodeStreamFrame(event string, data []byte, cctx *codec.Context) ([]domain.CanonicalEvent, error) {
	apiResp, err := unwrapResponse(data)
	if err != nil {
		return nil, err
	}
	var events []domain.CanonicalEvent
	for _, cand := range apiResp.Candidates {
		for _, part := range cand.Content.Parts {
			if part.Text != "" {
				events = append(events, domain.CanonicalEvent{
					Type:         domain.EventContentDelta,
					ContentDelta: part.Text,
				})
			}
			if part.FunctionCall != nil {
				args, err := json.Marshal(part.FunctionCall.Args)
				if err != nil {
					args = []byte("{}")
				}
				events = append(events, domain.CanonicalEvent{
					Type: domain.EventToolCall,
					ToolCall: &domain.ToolCallChunk{
						ID:        "call_" + uuid.NewString(),
						Name:      part.FunctionCall.Name,
						Arguments: string(args),
					},
				})
			}
		}
		if cand.FinishReason != "" {
			events = append(events, domain.CanonicalEvent{
				Type:         domain.EventMessageStop,
				FinishReason: finishReasonToCanonical(cand.FinishReason),
			})
		}
		break
	}
	if apiResp.UsageMetadata != nil {
		events = append(events, domain.CanonicalEvent{
			Type: domain.EventUsage,
			Usage: &domain.Usage{
				PromptTokens:     apiResp.UsageMetadata.PromptTokenCount,
				CompletionTokens: apiResp.UsageMetadata.CandidatesTokenCount,
				TotalTokens:      apiResp.UsageMetadata.TotalTokenCount,
			},
		})
	}
	return events, nil
}

// unwrapResponse accepts both the raw generateContent response and the
// cloud-code {"response": {...}} wrapper.
func unwrapResponse(data []byte) (*gemini.GenerateContentResponse, error) {
	var wrapper struct {
		Response json.RawMessage `json:"response"`
	}
	if err := json.Unmarshal(data, &wrapper); err == nil && len(wrapper.Response) > 0 {
		data = wrapper.Response
	}
	var apiResp gemini.GenerateContentResponse
	if err := json.Unmarshal(data, &apiResp); err != nil {
		return nil, fmt.Errorf("decode gemini response: %w", err)
	}
	return &apiResp, nil
}

func finishReasonToCanonical(reason string) string {
	switch reason {
	case "STOP":
		return "stop"
	case "MAX_TOKENS":
		return "length"
	case "SAFETY", "RECITATION":
		return "content_filter"
	default:
		return "stop"
	}
}

var _ codec.Codec = (*Codec)(nil)
