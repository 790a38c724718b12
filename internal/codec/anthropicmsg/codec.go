// Package anthropicmsg implements the codec for the Anthropic Messages
// protocol, on both the client and provider sides.
package anthropicmsg

import (
	"encoding/json"
	"fmt"

	"github.com/routecodex/routecodex/internal/api/anthropic"
	"github.com/routecodex/routecodex/internal/codec"
	"github.com/routecodex/routecodex/internal/domain"
)

const defaultMaxTokens = 4096

// Codec converts Anthropic Messages bodies to and from canonical form.
type Codec struct{}

// New creates the anthropic-messages codec.
func New() *Codec { return &Codec{} }

func (c *Codec) Protocol() domain.Protocol { return domain.ProtocolAnthropic }

// DecodeRequest converts a client Messages request to canonical.
func (c *Codec) DecodeRequest(data []byte, cctx *codec.Context) (*domain.CanonicalRequest, error) {
	var apiReq anthropic.MessagesRequest
	if err := json.Unmarshal(data, &apiReq); err != nil {
		return nil, fmt.Errorf("decode messages request: %w", err)
	}
	apiReq.ToolsPresent = codec.HasToolsField(data)

	req := &domain.CanonicalRequest{
		Model:             apiReq.Model,
		Stream:            apiReq.Stream,
		MaxTokens:         apiReq.MaxTokens,
		System:            apiReq.System.Text(),
		Stop:              apiReq.StopSequences,
		ToolsFieldPresent: apiReq.ToolsPresent,
	}
	if apiReq.Temperature != nil {
		req.Temperature = *apiReq.Temperature
	}
	if apiReq.TopP != nil {
		req.TopP = *apiReq.TopP
	}
	if apiReq.ToolChoice != nil {
		req.ToolChoice = map[string]any{"type": apiReq.ToolChoice.Type, "name": apiReq.ToolChoice.Name}
	}

	for i, m := range apiReq.Messages {
		msgs, err := decodeMessage(m)
		if err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}
		req.Messages = append(req.Messages, msgs...)
	}

	for _, t := range apiReq.Tools {
		req.Tools = append(req.Tools, domain.ToolDefinition{
			Type: "function",
			Function: domain.FunctionDef{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		})
	}
	return req, nil
}

// decodeMessage flattens one Anthropic message. tool_result blocks split
// into separate role=tool canonical messages so tool history survives.
func decodeMessage(m anthropic.Message) ([]domain.Message, error) {
	var out []domain.Message
	msg := domain.Message{Role: m.Role}
	for _, part := range m.Content {
		switch part.Type {
		case "", "text", "input_text", "output_text":
			msg.Content += part.Text
		case "thinking":
			msg.Thinking += part.Thinking
		case "tool_use":
			msg.ToolCalls = append(msg.ToolCalls, domain.ToolCall{
				ID:   part.ID,
				Type: "function",
				Function: domain.ToolCallFunction{
					Name:      part.Name,
					Arguments: codec.CoerceArguments(part.Input),
				},
			})
		case "tool_result":
			out = append(out, domain.Message{
				Role:       "tool",
				ToolCallID: part.ToolUseID,
				Content:    toolResultText(part.Content),
			})
		default:
			return nil, fmt.Errorf("unsupported content block type %q", part.Type)
		}
	}
	if len(msg.ToolCalls) > 0 {
		msg.Content = ""
	}
	if msg.Content != "" || len(msg.ToolCalls) > 0 || msg.Thinking != "" {
		out = append(out, msg)
	}
	return out, nil
}

func toolResultText(v any) string {
	switch c := v.(type) {
	case nil:
		return ""
	case string:
		return c
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// EncodeRequest converts canonical to a provider-bound Messages body.
func (c *Codec) EncodeRequest(req *domain.CanonicalRequest, cctx *codec.Context) ([]byte, error) {
	apiReq := &anthropic.MessagesRequest{
		Model:         req.Model,
		Stream:        req.Stream,
		MaxTokens:     req.MaxTokens,
		StopSequences: req.Stop,
	}
	if cctx != nil && cctx.TargetModel != "" {
		apiReq.Model = cctx.TargetModel
	}
	if apiReq.MaxTokens <= 0 {
		apiReq.MaxTokens = defaultMaxTokens
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
		apiReq.System = anthropic.SystemMessages{{Type: "text", Text: req.System}}
	}

	for _, m := range req.Messages {
		switch {
		case m.Role == "tool":
			apiReq.Messages = append(apiReq.Messages, anthropic.Message{
				Role: "user",
				Content: anthropic.ContentBlock{{
					Type:      "tool_result",
					ToolUseID: m.ToolCallID,
					Content:   m.Content,
				}},
			})
		case len(m.ToolCalls) > 0:
			var blocks anthropic.ContentBlock
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, anthropic.ContentPart{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Function.Name,
					Input: decodeInput(tc.Function.Arguments),
				})
			}
			apiReq.Messages = append(apiReq.Messages, anthropic.Message{Role: "assistant", Content: blocks})
		default:
			apiReq.Messages = append(apiReq.Messages, anthropic.Message{
				Role:    m.Role,
				Content: anthropic.ContentBlock{{Type: "text", Text: m.Content}},
			})
		}
	}

	for _, t := range req.Tools {
		apiReq.Tools = append(apiReq.Tools, anthropic.Tool{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			InputSchema: t.Function.Parameters,
		})
	}
	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("encode messages request: %w", err)
	}
	if req.ToolsFieldPresent && len(req.Tools) == 0 {
		body = codec.EnsureToolsField(body)
	}
	return body, nil
}

// decodeInput turns a canonical JSON-string arguments payload into the
// decoded value Anthropic expects. Arrays stay arrays here; only Gemini
// needs the items wrap.
func decodeInput(args string) any {
	var v any
	if err := json.Unmarshal([]byte(args), &v); err != nil {
		return map[string]any{"raw": args}
	}
	if v == nil {
		return map[string]any{}
	}
	return v
}

// DecodeResponse converts a provider Messages response to canonical.
func (c *Codec) DecodeResponse(data []byte, cctx *codec.Context) (*domain.CanonicalResponse, error) {
	var apiResp anthropic.MessagesResponse
	if err := json.Unmarshal(data, &apiResp); err != nil {
		return nil, fmt.Errorf("decode messages response: %w", err)
	}
	msg := domain.Message{Role: "assistant"}
	for _, part := range apiResp.Content {
		switch part.Type {
		case "text":
			visible, thinking := codec.ExtractThinking(part.Text)
			msg.Content += visible
			msg.Thinking += thinking
		case "thinking":
			msg.Thinking += part.Thinking
		case "tool_use":
			msg.ToolCalls = append(msg.ToolCalls, domain.ToolCall{
				ID:   part.ID,
				Type: "function",
				Function: domain.ToolCallFunction{
					Name:      part.Name,
					Arguments: codec.CoerceArguments(part.Input),
				},
			})
		}
	}
	if len(msg.ToolCalls) > 0 {
		msg.Content = ""
	}
	return &domain.CanonicalResponse{
		ID:            apiResp.ID,
		Model:         apiResp.Model,
		ProviderModel: apiResp.Model,
		Choices: []domain.Choice{{
			Index:        0,
			Message:      msg,
			FinishReason: stopReasonToFinish(apiResp.StopReason),
		}},
		Usage: domain.Usage{
			PromptTokens:     apiResp.Usage.InputTokens,
			CompletionTokens: apiResp.Usage.OutputTokens,
			TotalTokens:      apiResp.Usage.InputTokens + apiResp.Usage.OutputTokens,
		},
	}, nil
}

// EncodeResponse converts canonical to a client-bound Messages response.
func (c *Codec) EncodeResponse(resp *domain.CanonicalResponse, cctx *codec.Context) ([]byte, error) {
	apiResp := &anthropic.MessagesResponse{
		ID:    resp.ID,
		Type:  "message",
		Role:  "assistant",
		Model: resp.Model,
		Usage: anthropic.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}
	if cctx != nil && cctx.ClientModel != "" {
		apiResp.Model = cctx.ClientModel
	}
	if len(resp.Choices) > 0 {
		ch := resp.Choices[0]
		apiResp.StopReason = finishToStopReason(ch.FinishReason)
		if ch.Message.Thinking != "" {
			apiResp.Content = append(apiResp.Content, anthropic.ContentPart{
				Type:     "thinking",
				Thinking: ch.Message.Thinking,
			})
		}
		if ch.Message.Content != "" || len(ch.Message.ToolCalls) == 0 {
			apiResp.Content = append(apiResp.Content, anthropic.ContentPart{
				Type: "text",
				Text: ch.Message.Content,
			})
		}
		for _, tc := range ch.Message.ToolCalls {
			apiResp.Content = append(apiResp.Content, anthropic.ContentPart{
				Type:  "tool_use",
				ID:    tc.ID,
				Name:  tc.Function.Name,
				Input: decodeInput(tc.Function.Arguments),
			})
		}
	}
	return json.Marshal(apiResp)
}

func stopReasonToFinish(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "tool_use":
		return "tool_calls"
	case "max_tokens":
		return "length"
	default:
		return reason
	}
}

func finishToStopReason(reason string) string {
	switch reason {
	case "stop", "":
		return "end_turn"
	case "tool_calls":
		return "tool_use"
	case "length":
		return "max_tokens"
	default:
		return reason
	}
}

// DecodeStreamFrame converts one provider SSE frame into canonical events.
// The SSE event name disambiguates the payload shape.
func (c *Codec) DecodeStreamFrame(event string, data []byte, cctx *codec.Context) ([]domain.CanonicalEvent, error) {
	if event == "" {
		var probe struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &probe); err != nil {
			return nil, fmt.Errorf("decode stream frame type: %w", err)
		}
		event = probe.Type
	}
	switch event {
	case "message_start":
		var ev anthropic.MessageStartEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode message_start: %w", err)
		}
		return []domain.CanonicalEvent{{
			Type:       domain.EventMessageStart,
			Role:       ev.Message.Role,
			ResponseID: ev.Message.ID,
			Model:      ev.Message.Model,
			Usage:      &domain.Usage{PromptTokens: ev.Message.Usage.InputTokens},
		}}, nil
	case "content_block_start":
		var ev anthropic.ContentBlockStartEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode content_block_start: %w", err)
		}
		if ev.ContentBlock.Type == "tool_use" {
			return []domain.CanonicalEvent{{
				Type: domain.EventToolCall,
				ToolCall: &domain.ToolCallChunk{
					Index: ev.Index,
					ID:    ev.ContentBlock.ID,
					Name:  ev.ContentBlock.Name,
				},
			}}, nil
		}
		return nil, nil
	case "content_block_delta":
		var ev anthropic.ContentBlockDeltaEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode content_block_delta: %w", err)
		}
		switch ev.Delta.Type {
		case "text_delta":
			return []domain.CanonicalEvent{{Type: domain.EventContentDelta, ContentDelta: ev.Delta.Text}}, nil
		case "thinking_delta":
			return []domain.CanonicalEvent{{Type: domain.EventThinkDelta, ThinkDelta: ev.Delta.Thinking}}, nil
		case "input_json_delta":
			return []domain.CanonicalEvent{{
				Type:     domain.EventToolCall,
				ToolCall: &domain.ToolCallChunk{Index: ev.Index, Arguments: ev.Delta.PartialJSON},
			}}, nil
		}
		return nil, nil
	case "message_delta":
		var ev anthropic.MessageDeltaEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode message_delta: %w", err)
		}
		out := []domain.CanonicalEvent{}
		if ev.Usage != nil {
			out = append(out, domain.CanonicalEvent{
				Type:  domain.EventUsage,
				Usage: &domain.Usage{CompletionTokens: ev.Usage.OutputTokens},
			})
		}
		if ev.Delta.StopReason != "" {
			out = append(out, domain.CanonicalEvent{
				Type:         domain.EventMessageStop,
				FinishReason: stopReasonToFinish(ev.Delta.StopReason),
			})
		}
		return out, nil
	case "message_stop", "content_block_stop", "ping":
		return nil, nil
	}
	return nil, nil
}

// EncodeStreamFrame converts one canonical event into client SSE frames,
// opening and closing content blocks as the Anthropic protocol requires.
func (c *Codec) EncodeStreamFrame(ev *domain.CanonicalEvent, meta *codec.StreamMeta, cctx *codec.Context) ([]codec.Frame, error) {
	var frames []codec.Frame
	emit := func(event string, payload any) error {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		frames = append(frames, codec.Frame{Event: event, Data: data})
		return nil
	}

	ensureStarted := func() error {
		if cctx.MessageStarted {
			return nil
		}
		cctx.MessageStarted = true
		start := map[string]any{
			"type": "message_start",
			"message": map[string]any{
				"id":    meta.ID,
				"type":  "message",
				"role":  "assistant",
				"model": meta.Model,
				"usage": map[string]int{"input_tokens": 0, "output_tokens": 0},
			},
		}
		return emit("message_start", start)
	}

	closeTextBlock := func() error {
		if !cctx.TextBlockOpen {
			return nil
		}
		cctx.TextBlockOpen = false
		idx := cctx.NextBlockIndex - 1
		return emit("content_block_stop", map[string]any{"type": "content_block_stop", "index": idx})
	}

	switch ev.Type {
	case domain.EventMessageStart:
		if err := ensureStarted(); err != nil {
			return nil, err
		}
	case domain.EventContentDelta, domain.EventThinkDelta:
		if err := ensureStarted(); err != nil {
			return nil, err
		}
		if !cctx.TextBlockOpen {
			cctx.TextBlockOpen = true
			blockType := "text"
			if ev.Type == domain.EventThinkDelta {
				blockType = "thinking"
			}
			if err := emit("content_block_start", map[string]any{
				"type":          "content_block_start",
				"index":         cctx.NextBlockIndex,
				"content_block": map[string]any{"type": blockType, "text": ""},
			}); err != nil {
				return nil, err
			}
			cctx.NextBlockIndex++
		}
		idx := cctx.NextBlockIndex - 1
		delta := map[string]any{"type": "text_delta", "text": ev.ContentDelta}
		if ev.Type == domain.EventThinkDelta {
			delta = map[string]any{"type": "thinking_delta", "thinking": ev.ThinkDelta}
		}
		if err := emit("content_block_delta", map[string]any{
			"type":  "content_block_delta",
			"index": idx,
			"delta": delta,
		}); err != nil {
			return nil, err
		}
	case domain.EventToolCall:
		if err := ensureStarted(); err != nil {
			return nil, err
		}
		if err := closeTextBlock(); err != nil {
			return nil, err
		}
		if ev.ToolCall.ID != "" || ev.ToolCall.Name != "" {
			if cctx.ToolBlockOpen {
				idx := cctx.NextBlockIndex - 1
				if err := emit("content_block_stop", map[string]any{"type": "content_block_stop", "index": idx}); err != nil {
					return nil, err
				}
			}
			cctx.ToolBlockOpen = true
			if err := emit("content_block_start", map[string]any{
				"type":  "content_block_start",
				"index": cctx.NextBlockIndex,
				"content_block": map[string]any{
					"type":  "tool_use",
					"id":    ev.ToolCall.ID,
					"name":  ev.ToolCall.Name,
					"input": map[string]any{},
				},
			}); err != nil {
				return nil, err
			}
			cctx.NextBlockIndex++
		}
		if ev.ToolCall.Arguments != "" {
			idx := cctx.NextBlockIndex - 1
			if err := emit("content_block_delta", map[string]any{
				"type":  "content_block_delta",
				"index": idx,
				"delta": map[string]any{"type": "input_json_delta", "partial_json": ev.ToolCall.Arguments},
			}); err != nil {
				return nil, err
			}
		}
	case domain.EventMessageStop:
		if err := closeTextBlock(); err != nil {
			return nil, err
		}
		if cctx.ToolBlockOpen {
			cctx.ToolBlockOpen = false
			idx := cctx.NextBlockIndex - 1
			if err := emit("content_block_stop", map[string]any{"type": "content_block_stop", "index": idx}); err != nil {
				return nil, err
			}
		}
		if err := emit("message_delta", map[string]any{
			"type":  "message_delta",
			"delta": map[string]any{"stop_reason": finishToStopReason(ev.FinishReason)},
		}); err != nil {
			return nil, err
		}
	case domain.EventUsage:
		if err := emit("message_delta", map[string]any{
			"type":  "message_delta",
			"delta": map[string]any{},
			"usage": map[string]int{"output_tokens": ev.Usage.CompletionTokens},
		}); err != nil {
			return nil, err
		}
	}
	return frames, nil
}

// StreamTerminator closes the Anthropic stream with message_stop.
func (c *Codec) StreamTerminator(meta *codec.StreamMeta, cctx *codec.Context) []codec.Frame {
	return []codec.Frame{{Event: "message_stop", Data: []byte(`{"type":"message_stop"}`)}}
}

// EncodeErrorFrame closes a broken stream with Anthropic's error event.
func (c *Codec) EncodeErrorFrame(err error, meta *codec.StreamMeta, cctx *codec.Context) []codec.Frame {
	ge := domain.AsGatewayError(err)
	data, merr := json.Marshal(map[string]any{
		"type": "error",
		"error": map[string]any{
			"type":    string(ge.Kind),
			"message": ge.Message,
		},
	})
	if merr != nil {
		return nil
	}
	return []codec.Frame{{Event: "error", Data: data}}
}

var _ codec.Codec = (*Codec)(nil)
