// Package openaichat implements the codec for the OpenAI Chat Completions
// protocol, on both the client and provider sides.
package openaichat

import (
	"encoding/json"
	"fmt"

	"github.com/routecodex/routecodex/internal/api/openai"
	"github.com/routecodex/routecodex/internal/codec"
	"github.com/routecodex/routecodex/internal/domain"
)

// Codec converts OpenAI Chat bodies to and from canonical form.
type Codec struct{}

// New creates the openai-chat codec.
func New() *Codec { return &Codec{} }

func (c *Codec) Protocol() domain.Protocol { return domain.ProtocolOpenAIChat }

// DecodeRequest converts a client Chat Completions request to canonical.
func (c *Codec) DecodeRequest(data []byte, cctx *codec.Context) (*domain.CanonicalRequest, error) {
	var apiReq openai.ChatCompletionRequest
	if err := json.Unmarshal(data, &apiReq); err != nil {
		return nil, fmt.Errorf("decode chat request: %w", err)
	}
	apiReq.ToolsPresent = codec.HasToolsField(data)
	return requestToCanonical(&apiReq), nil
}

// EncodeRequest converts canonical to a provider-bound Chat Completions
// body.
func (c *Codec) EncodeRequest(req *domain.CanonicalRequest, cctx *codec.Context) ([]byte, error) {
	apiReq := canonicalToRequest(req)
	if cctx != nil && cctx.TargetModel != "" {
		apiReq.Model = cctx.TargetModel
	}
	if req.Stream {
		apiReq.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	}
	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("encode chat request: %w", err)
	}
	if req.ToolsFieldPresent && len(req.Tools) == 0 {
		body = codec.EnsureToolsField(body)
	}
	return body, nil
}

// DecodeResponse converts a provider Chat Completions response to
// canonical.
func (c *Codec) DecodeResponse(data []byte, cctx *codec.Context) (*domain.CanonicalResponse, error) {
	var apiResp openai.ChatCompletionResponse
	if err := json.Unmarshal(data, &apiResp); err != nil {
		return nil, fmt.Errorf("decode chat response: %w", err)
	}
	resp := &domain.CanonicalResponse{
		ID:            apiResp.ID,
		Model:         apiResp.Model,
		ProviderModel: apiResp.Model,
		Created:       apiResp.Created,
		Usage: domain.Usage{
			PromptTokens:     apiResp.Usage.PromptTokens,
			CompletionTokens: apiResp.Usage.CompletionTokens,
			TotalTokens:      apiResp.Usage.TotalTokens,
		},
	}
	for _, ch := range apiResp.Choices {
		msg := domain.Message{Role: ch.Message.Role}
		if ch.Message.Content != nil {
			visible, thinking := codec.ExtractThinking(*ch.Message.Content)
			msg.Content = visible
			msg.Thinking = thinking
		}
		if ch.Message.ReasoningContent != "" {
			msg.Thinking += ch.Message.ReasoningContent
		}
		for _, tc := range ch.Message.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, domain.ToolCall{
				ID:   tc.ID,
				Type: tc.Type,
				Function: domain.ToolCallFunction{
					Name:      tc.Function.Name,
					Arguments: codec.CoerceArguments(tc.Function.Arguments),
				},
			})
		}
		if len(msg.ToolCalls) > 0 {
			msg.Content = ""
		}
		resp.Choices = append(resp.Choices, domain.Choice{
			Index:        ch.Index,
			Message:      msg,
			FinishReason: ch.FinishReason,
		})
	}
	return resp, nil
}

// EncodeResponse converts canonical to a client-bound Chat Completions
// response.
func (c *Codec) EncodeResponse(resp *domain.CanonicalResponse, cctx *codec.Context) ([]byte, error) {
	apiResp := &openai.ChatCompletionResponse{
		ID:      resp.ID,
		Object:  "chat.completion",
		Created: resp.Created,
		Model:   resp.Model,
		Usage: openai.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	if cctx != nil && cctx.ClientModel != "" {
		apiResp.Model = cctx.ClientModel
	}
	for _, ch := range resp.Choices {
		msg := openai.Message{
			Role:             ch.Message.Role,
			ReasoningContent: ch.Message.Thinking,
		}
		if len(ch.Message.ToolCalls) > 0 {
			// Assistant tool-call messages carry content:null, not "".
			for _, tc := range ch.Message.ToolCalls {
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: tc.Type,
					Function: openai.FunctionCall{
						Name:      tc.Function.Name,
						Arguments: tc.Function.Arguments,
					},
				})
			}
		} else {
			content := ch.Message.Content
			msg.Content = &content
		}
		apiResp.Choices = append(apiResp.Choices, openai.Choice{
			Index:        ch.Index,
			Message:      msg,
			FinishReason: ch.FinishReason,
		})
	}
	return json.Marshal(apiResp)
}

// DecodeStreamFrame converts one provider SSE data payload into canonical
// events.
func (c *Codec) DecodeStreamFrame(event string, data []byte, cctx *codec.Context) ([]domain.CanonicalEvent, error) {
	var chunk openai.ChatCompletionChunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		return nil, fmt.Errorf("decode chat chunk: %w", err)
	}
	var events []domain.CanonicalEvent
	if len(chunk.Choices) > 0 {
		choice := chunk.Choices[0]
		if choice.Delta.Role != "" {
			events = append(events, domain.CanonicalEvent{
				Type:       domain.EventMessageStart,
				Role:       choice.Delta.Role,
				ResponseID: chunk.ID,
				Model:      chunk.Model,
			})
		}
		if choice.Delta.Content != "" {
			events = append(events, domain.CanonicalEvent{
				Type:         domain.EventContentDelta,
				ContentDelta: choice.Delta.Content,
			})
		}
		if choice.Delta.ReasoningContent != "" {
			events = append(events, domain.CanonicalEvent{
				Type:       domain.EventThinkDelta,
				ThinkDelta: choice.Delta.ReasoningContent,
			})
		}
		for _, tc := range choice.Delta.ToolCalls {
			ev := domain.CanonicalEvent{
				Type:     domain.EventToolCall,
				ToolCall: &domain.ToolCallChunk{Index: tc.Index, ID: tc.ID},
			}
			if tc.Function != nil {
				ev.ToolCall.Name = tc.Function.Name
				ev.ToolCall.Arguments = tc.Function.Arguments
			}
			events = append(events, ev)
		}
		if choice.FinishReason != "" {
			events = append(events, domain.CanonicalEvent{
				Type:         domain.EventMessageStop,
				FinishReason: choice.FinishReason,
			})
		}
	}
	if chunk.Usage != nil {
		events = append(events, domain.CanonicalEvent{
			Type: domain.EventUsage,
			Usage: &domain.Usage{
				PromptTokens:     chunk.Usage.PromptTokens,
				CompletionTokens: chunk.Usage.CompletionTokens,
				TotalTokens:      chunk.Usage.TotalTokens,
			},
		})
	}
	return events, nil
}

// EncodeStreamFrame converts one canonical event into client SSE frames.
func (c *Codec) EncodeStreamFrame(ev *domain.CanonicalEvent, meta *codec.StreamMeta, cctx *codec.Context) ([]codec.Frame, error) {
	chunk := &openai.ChatCompletionChunk{
		Object:  "chat.completion.chunk",
		Choices: []openai.ChunkChoice{{Index: 0}},
	}
	if meta != nil {
		chunk.ID = meta.ID
		chunk.Model = meta.Model
		chunk.Created = meta.Created
	}
	switch ev.Type {
	case domain.EventMessageStart:
		chunk.Choices[0].Delta.Role = ev.Role
	case domain.EventContentDelta:
		chunk.Choices[0].Delta.Content = ev.ContentDelta
	case domain.EventThinkDelta:
		chunk.Choices[0].Delta.ReasoningContent = ev.ThinkDelta
	case domain.EventToolCall:
		chunk.Choices[0].Delta.ToolCalls = []openai.ToolCallChunk{{
			Index: ev.ToolCall.Index,
			ID:    ev.ToolCall.ID,
			Type:  "function",
			Function: &openai.FunctionCallChunk{
				Name:      ev.ToolCall.Name,
				Arguments: ev.ToolCall.Arguments,
			},
		}}
	case domain.EventMessageStop:
		chunk.Choices[0].FinishReason = ev.FinishReason
	case domain.EventUsage:
		chunk.Choices = nil
		chunk.Usage = &openai.Usage{
			PromptTokens:     ev.Usage.PromptTokens,
			CompletionTokens: ev.Usage.CompletionTokens,
			TotalTokens:      ev.Usage.TotalTokens,
		}
	default:
		return nil, nil
	}
	data, err := json.Marshal(chunk)
	if err != nil {
		return nil, fmt.Errorf("encode chat chunk: %w", err)
	}
	return []codec.Frame{{Data: data}}, nil
}

// StreamTerminator emits the OpenAI-compatible [DONE] sentinel.
func (c *Codec) StreamTerminator(meta *codec.StreamMeta, cctx *codec.Context) []codec.Frame {
	return []codec.Frame{{Data: []byte("[DONE]")}}
}

// EncodeErrorFrame closes a broken stream with the OpenAI error payload and
// the [DONE] sentinel, so clients can tell failure from truncation.
func (c *Codec) EncodeErrorFrame(err error, meta *codec.StreamMeta, cctx *codec.Context) []codec.Frame {
	ge := domain.AsGatewayError(err)
	code := ge.Code
	if code == "" {
		code = string(ge.Kind)
	}
	data, merr := json.Marshal(map[string]any{
		"error": map[string]any{
			"message": ge.Message,
			"type":    string(ge.Kind),
			"code":    code,
		},
	})
	if merr != nil {
		return []codec.Frame{{Data: []byte("[DONE]")}}
	}
	return []codec.Frame{{Data: data}, {Data: []byte("[DONE]")}}
}

func requestToCanonical(apiReq *openai.ChatCompletionRequest) *domain.CanonicalRequest {
	req := &domain.CanonicalRequest{
		Model:             apiReq.Model,
		Stream:            apiReq.Stream,
		Stop:              apiReq.Stop,
		ToolChoice:        apiReq.ToolChoice,
		ToolsFieldPresent: apiReq.ToolsPresent,
	}
	if apiReq.MaxCompletionTokens > 0 {
		req.MaxTokens = apiReq.MaxCompletionTokens
	} else {
		req.MaxTokens = apiReq.MaxTokens
	}
	if apiReq.Temperature != nil {
		req.Temperature = *apiReq.Temperature
	}
	if apiReq.TopP != nil {
		req.TopP = *apiReq.TopP
	}
	for _, m := range apiReq.Messages {
		if m.Role == "system" {
			if m.Content != nil {
				if req.System != "" {
					req.System += "\n"
				}
				req.System += *m.Content
			}
			continue
		}
		msg := domain.Message{
			Role:       m.Role,
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
		}
		if m.Content != nil {
			msg.Content = *m.Content
		}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, domain.ToolCall{
				ID:   tc.ID,
				Type: tc.Type,
				Function: domain.ToolCallFunction{
					Name:      tc.Function.Name,
					Arguments: codec.CoerceArguments(tc.Function.Arguments),
				},
			})
		}
		if len(msg.ToolCalls) > 0 {
			msg.Content = ""
		}
		req.Messages = append(req.Messages, msg)
	}
	for _, t := range apiReq.Tools {
		req.Tools = append(req.Tools, domain.ToolDefinition{
			Type: t.Type,
			Function: domain.FunctionDef{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				Parameters:  t.Function.Parameters,
			},
		})
	}
	return req
}

func canonicalToRequest(req *domain.CanonicalRequest) *openai.ChatCompletionRequest {
	apiReq := &openai.ChatCompletionRequest{
		Model:      req.Model,
		Stream:     req.Stream,
		Stop:       req.Stop,
		ToolChoice: req.ToolChoice,
	}
	if req.MaxTokens > 0 {
		apiReq.MaxTokens = req.MaxTokens
	}
	if req.Temperature > 0 {
		t := req.Temperature
		apiReq.Temperature = &t
	}
	if req.TopP > 0 {
		tp := req.TopP
		apiReq.TopP = &tp
	}
	if req.System != "" {
		sys := req.System
		apiReq.Messages = append(apiReq.Messages, openai.Message{Role: "system", Content: &sys})
	}
	for _, m := range req.Messages {
		msg := openai.Message{
			Role:       m.Role,
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
		}
		if len(m.ToolCalls) > 0 {
			for _, tc := range m.ToolCalls {
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: tc.Type,
					Function: openai.FunctionCall{
						Name:      tc.Function.Name,
						Arguments: tc.Function.Arguments,
					},
				})
			}
		} else {
			content := m.Content
			msg.Content = &content
		}
		apiReq.Messages = append(apiReq.Messages, msg)
	}
	for _, t := range req.Tools {
		apiReq.Tools = append(apiReq.Tools, openai.Tool{
			Type: t.Type,
			Function: openai.FunctionTool{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				Parameters:  t.Function.Parameters,
			},
		})
	}
	return apiReq
}

var _ codec.Codec = (*Codec)(nil)
