// Package responsesapi implements the codec for the OpenAI Responses
// protocol, on both the client and provider sides.
package responsesapi

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/routecodex/routecodex/internal/api/responses"
	"github.com/routecodex/routecodex/internal/codec"
	"github.com/routecodex/routecodex/internal/domain"
)

// Codec converts Responses API bodies to and from canonical form.
type Codec struct{}

// New creates the openai-responses codec.
func New() *Codec { return &Codec{} }

func (c *Codec) Protocol() domain.Protocol { return domain.ProtocolResponses }

// DecodeRequest converts a client Responses request to canonical.
func (c *Codec) DecodeRequest(data []byte, cctx *codec.Context) (*domain.CanonicalRequest, error) {
	var apiReq responses.Request
	if err := json.Unmarshal(data, &apiReq); err != nil {
		return nil, fmt.Errorf("decode responses request: %w", err)
	}
	apiReq.ToolsPresent = codec.HasToolsField(data)

	req := &domain.CanonicalRequest{
		Model:              apiReq.Model,
		Stream:             apiReq.Stream,
		MaxTokens:          apiReq.MaxOutputTokens,
		Instructions:       apiReq.Instructions,
		System:             apiReq.Instructions,
		ToolChoice:         apiReq.ToolChoice,
		PreviousResponseID: apiReq.PreviousResponseID,
		ToolsFieldPresent:  apiReq.ToolsPresent,
	}
	if apiReq.Temperature != nil {
		req.Temperature = *apiReq.Temperature
	}
	if apiReq.TopP != nil {
		req.TopP = *apiReq.TopP
	}

	for _, item := range apiReq.Input {
		switch item.Type {
		case "", "message":
			role := item.Role
			if role == "" {
				role = "user"
			}
			req.Messages = append(req.Messages, domain.Message{
				Role:    role,
				Content: item.Content.Text(),
			})
		case "function_call":
			req.Messages = append(req.Messages, domain.Message{
				Role: "assistant",
				ToolCalls: []domain.ToolCall{{
					ID:   firstNonEmpty(item.CallID, item.ID),
					Type: "function",
					Function: domain.ToolCallFunction{
						Name:      item.Name,
						Arguments: codec.CoerceArguments(item.Arguments),
					},
				}},
			})
		case "function_call_output":
			req.Messages = append(req.Messages, domain.Message{
				Role:       "tool",
				ToolCallID: firstNonEmpty(item.CallID, item.ID),
				Content:    item.Output,
			})
		default:
			return nil, fmt.Errorf("unsupported input item type %q", item.Type)
		}
	}

	for _, t := range apiReq.Tools {
		if t.Type != "" && t.Type != "function" {
			continue
		}
		req.Tools = append(req.Tools, domain.ToolDefinition{
			Type: "function",
			Function: domain.FunctionDef{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return req, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// EncodeRequest converts canonical to a provider-bound Responses body.
func (c *Codec) EncodeRequest(req *domain.CanonicalRequest, cctx *codec.Context) ([]byte, error) {
	apiReq := &responses.Request{
		Model:              req.Model,
		Stream:             req.Stream,
		MaxOutputTokens:    req.MaxTokens,
		Instructions:       firstNonEmpty(req.Instructions, req.System),
		ToolChoice:         req.ToolChoice,
		PreviousResponseID: req.PreviousResponseID,
	}
	if cctx != nil && cctx.TargetModel != "" {
		apiReq.Model = cctx.TargetModel
	}
	if req.Temperature > 0 {
		t := req.Temperature
		apiReq.Temperature = &t
	}
	if req.TopP > 0 {
		tp := req.TopP
		apiReq.TopP = &tp
	}

	for _, m := range req.Messages {
		switch {
		case m.Role == "tool":
			apiReq.Input = append(apiReq.Input, responses.InputItem{
				Type:   "function_call_output",
				CallID: m.ToolCallID,
				Output: m.Content,
			})
		case len(m.ToolCalls) > 0:
			for _, tc := range m.ToolCalls {
				apiReq.Input = append(apiReq.Input, responses.InputItem{
					Type:      "function_call",
					CallID:    tc.ID,
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				})
			}
		default:
			contentType := "input_text"
			if m.Role == "assistant" {
				contentType = "output_text"
			}
			apiReq.Input = append(apiReq.Input, responses.InputItem{
				Type:    "message",
				Role:    m.Role,
				Content: responses.ContentList{{Type: contentType, Text: m.Content}},
			})
		}
	}
	for _, out := range req.ToolOutputs {
		apiReq.Input = append(apiReq.Input, responses.InputItem{
			Type:   "function_call_output",
			CallID: out.ToolCallID,
			Output: out.Output,
		})
	}

	for _, t := range req.Tools {
		apiReq.Tools = append(apiReq.Tools, responses.Tool{
			Type:        "function",
			Name:        t.Function.Name,
			Description: t.Function.Description,
			Parameters:  t.Function.Parameters,
		})
	}
	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("encode responses request: %w", err)
	}
	if req.ToolsFieldPresent && len(req.Tools) == 0 {
		body = codec.EnsureToolsField(body)
	}
	return body, nil
}

// DecodeResponse converts a provider Responses body to canonical.
func (c *Codec) DecodeResponse(data []byte, cctx *codec.Context) (*domain.CanonicalResponse, error) {
	var apiResp responses.Response
	if err := json.Unmarshal(data, &apiResp); err != nil {
		return nil, fmt.Errorf("decode responses response: %w", err)
	}
	msg := domain.Message{Role: "assistant"}
	finish := "stop"
	for _, item := range apiResp.Output {
		switch item.Type {
		case "message":
			msg.Content += item.Content.Text()
		case "reasoning":
			for _, part := range item.Summary {
				msg.Thinking += part.Text
			}
		case "function_call":
			msg.ToolCalls = append(msg.ToolCalls, domain.ToolCall{
				ID:   firstNonEmpty(item.CallID, item.ID),
				Type: "function",
				Function: domain.ToolCallFunction{
					Name:      item.Name,
					Arguments: codec.CoerceArguments(item.Arguments),
				},
			})
		}
	}
	if apiResp.RequiredAction != nil && apiResp.RequiredAction.SubmitToolOutputs != nil {
		for _, tc := range apiResp.RequiredAction.SubmitToolOutputs.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, domain.ToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: domain.ToolCallFunction{
					Name:      tc.Function.Name,
					Arguments: codec.CoerceArguments(tc.Function.Arguments),
				},
			})
		}
	}
	if len(msg.ToolCalls) > 0 {
		msg.Content = ""
		finish = "tool_calls"
	}
	resp := &domain.CanonicalResponse{
		ID:            apiResp.ID,
		Model:         apiResp.Model,
		ProviderModel: apiResp.Model,
		Created:       apiResp.CreatedAt,
		Choices: []domain.Choice{{
			Index:        0,
			Message:      msg,
			FinishReason: finish,
		}},
	}
	if apiResp.Usage != nil {
		resp.Usage = domain.Usage{
			PromptTokens:     apiResp.Usage.InputTokens,
			CompletionTokens: apiResp.Usage.OutputTokens,
			TotalTokens:      apiResp.Usage.TotalTokens,
		}
	}
	return resp, nil
}

// EncodeResponse converts canonical to a client-bound Responses body. Tool
// calls surface both as function_call output items and as a
// required_action tool loop.
func (c *Codec) EncodeResponse(resp *domain.CanonicalResponse, cctx *codec.Context) ([]byte, error) {
	apiResp := &responses.Response{
		ID:        resp.ID,
		Object:    "response",
		CreatedAt: resp.Created,
		Status:    "completed",
		Model:     resp.Model,
		Usage: &responses.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
	}
	if cctx != nil && cctx.ClientModel != "" {
		apiResp.Model = cctx.ClientModel
	}
	if !strings.HasPrefix(apiResp.ID, "resp_") && apiResp.ID != "" {
		apiResp.ID = "resp_" + apiResp.ID
	}
	if len(resp.Choices) == 0 {
		return json.Marshal(apiResp)
	}
	ch := resp.Choices[0]
	if ch.Message.Thinking != "" {
		apiResp.Output = append(apiResp.Output, responses.OutputItem{
			Type:    "reasoning",
			Summary: []responses.ContentPart{{Type: "summary_text", Text: ch.Message.Thinking}},
		})
	}
	if ch.Message.Content != "" {
		apiResp.Output = append(apiResp.Output, responses.OutputItem{
			Type:    "message",
			Role:    "assistant",
			Status:  "completed",
			Content: responses.ContentList{{Type: "output_text", Text: ch.Message.Content}},
		})
	}
	if len(ch.Message.ToolCalls) > 0 {
		apiResp.Status = "requires_action"
		action := &responses.RequiredAction{
			Type:              "submit_tool_outputs",
			SubmitToolOutputs: &responses.SubmitToolOutputs{},
		}
		for _, tc := range ch.Message.ToolCalls {
			apiResp.Output = append(apiResp.Output, responses.OutputItem{
				Type:      "function_call",
				CallID:    tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
				Status:    "completed",
			})
			pending := responses.PendingToolCall{ID: tc.ID, Type: "function"}
			pending.Function.Name = tc.Function.Name
			pending.Function.Arguments = tc.Function.Arguments
			action.SubmitToolOutputs.ToolCalls = append(action.SubmitToolOutputs.ToolCalls, pending)
		}
		apiResp.RequiredAction = action
	}
	return json.Marshal(apiResp)
}

// DecodeStreamFrame converts one provider Responses SSE frame into
// canonical events.
func (c *Codec) DecodeStreamFrame(event string, data []byte, cctx *codec.Context) ([]domain.CanonicalEvent, error) {
	var frame responses.StreamEvent
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("decode responses frame: %w", err)
	}
	if event == "" {
		event = frame.Event
	}
	switch event {
	case responses.EventResponseCreated:
		ev := domain.CanonicalEvent{Type: domain.EventMessageStart, Role: "assistant"}
		if frame.Response != nil {
			ev.ResponseID = frame.Response.ID
			ev.Model = frame.Response.Model
		}
		return []domain.CanonicalEvent{ev}, nil
	case responses.EventOutputTextDelta:
		return []domain.CanonicalEvent{{Type: domain.EventContentDelta, ContentDelta: frame.Delta}}, nil
	case responses.EventResponseCompleted:
		out := []domain.CanonicalEvent{}
		if frame.Response != nil && frame.Response.Usage != nil {
			out = append(out, domain.CanonicalEvent{
				Type: domain.EventUsage,
				Usage: &domain.Usage{
					PromptTokens:     frame.Response.Usage.InputTokens,
					CompletionTokens: frame.Response.Usage.OutputTokens,
					TotalTokens:      frame.Response.Usage.TotalTokens,
				},
			})
		}
		out = append(out, domain.CanonicalEvent{Type: domain.EventMessageStop, FinishReason: "stop"})
		return out, nil
	case responses.EventResponseFailed:
		msg := "response failed"
		if frame.Response != nil && frame.Response.Error != nil {
			msg = frame.Response.Error.Message
		}
		return []domain.CanonicalEvent{{
			Type: domain.EventError,
			Err:  domain.NewError(domain.KindUpstreamTransient, "%s", msg),
		}}, nil
	}
	return nil, nil
}

// EncodeStreamFrame converts one canonical event into client Responses SSE
// frames.
func (c *Codec) EncodeStreamFrame(ev *domain.CanonicalEvent, meta *codec.StreamMeta, cctx *codec.Context) ([]codec.Frame, error) {
	emit := func(event string, payload any) ([]codec.Frame, error) {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		return []codec.Frame{{Event: event, Data: data}}, nil
	}
	switch ev.Type {
	case domain.EventMessageStart:
		cctx.MessageStarted = true
		return emit(responses.EventResponseCreated, responses.StreamEvent{
			Event: responses.EventResponseCreated,
			Response: &responses.Response{
				ID:        meta.ID,
				Object:    "response",
				CreatedAt: meta.Created,
				Status:    "in_progress",
				Model:     meta.Model,
			},
		})
	case domain.EventContentDelta:
		return emit(responses.EventOutputTextDelta, responses.StreamEvent{
			Event: responses.EventOutputTextDelta,
			Delta: ev.ContentDelta,
		})
	case domain.EventThinkDelta:
		// Responses preserves reasoning by default; surfaced as a delta on
		// a reasoning item.
		return emit(responses.EventOutputTextDelta, responses.StreamEvent{
			Event: responses.EventOutputTextDelta,
			Delta: ev.ThinkDelta,
		})
	case domain.EventToolCall:
		item := responses.OutputItem{
			Type:      "function_call",
			CallID:    ev.ToolCall.ID,
			Name:      ev.ToolCall.Name,
			Arguments: ev.ToolCall.Arguments,
		}
		payload := map[string]any{
			"type":         responses.EventOutputItemAdded,
			"output_index": ev.ToolCall.Index,
			"item":         item,
		}
		return emit(responses.EventOutputItemAdded, payload)
	case domain.EventMessageStop:
		cctx.StreamCompleted = true
		return emit(responses.EventResponseCompleted, responses.StreamEvent{
			Event: responses.EventResponseCompleted,
			Response: &responses.Response{
				ID:        meta.ID,
				Object:    "response",
				CreatedAt: meta.Created,
				Status:    "completed",
				Model:     meta.Model,
			},
		})
	}
	return nil, nil
}

// StreamTerminator completes the stream if no message_stop arrived, then
// ends with the OpenAI-compatible [DONE] sentinel.
func (c *Codec) StreamTerminator(meta *codec.StreamMeta, cctx *codec.Context) []codec.Frame {
	var frames []codec.Frame
	if !cctx.StreamCompleted {
		data, err := json.Marshal(responses.StreamEvent{
			Event: responses.EventResponseCompleted,
			Response: &responses.Response{
				ID:        meta.ID,
				Object:    "response",
				CreatedAt: meta.Created,
				Status:    "completed",
				Model:     meta.Model,
			},
		})
		if err == nil {
			frames = append(frames, codec.Frame{Event: responses.EventResponseCompleted, Data: data})
		}
	}
	frames = append(frames, codec.Frame{Data: []byte("[DONE]")})
	return frames
}

// EncodeErrorFrame closes a broken stream with response.failed and the
// [DONE] sentinel.
func (c *Codec) EncodeErrorFrame(err error, meta *codec.StreamMeta, cctx *codec.Context) []codec.Frame {
	ge := domain.AsGatewayError(err)
	cctx.StreamCompleted = true
	data, merr := json.Marshal(responses.StreamEvent{
		Event: responses.EventResponseFailed,
		Response: &responses.Response{
			ID:        meta.ID,
			Object:    "response",
			CreatedAt: meta.Created,
			Status:    "failed",
			Model:     meta.Model,
			Error:     &responses.ErrorDetail{Code: string(ge.Kind), Message: ge.Message},
		},
	})
	if merr != nil {
		return []codec.Frame{{Data: []byte("[DONE]")}}
	}
	return []codec.Frame{
		{Event: responses.EventResponseFailed, Data: data},
		{Data: []byte("[DONE]")},
	}
}

var _ codec.Codec = (*Codec)(nil)
