package responsesapi

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/routecodex/routecodex/internal/codec"
	"github.com/routecodex/routecodex/internal/domain"
)

func TestDecodeRequestInputItems(t *testing.T) {
	c := New()
	body := []byte(`{
		"model": "gpt-test",
		"instructions": "be terse",
		"input": [
			{"type": "message", "role": "user", "content": [{"type": "input_text", "text": "what is 2+2"}]},
			{"type": "function_call", "call_id": "call_1", "name": "calc", "arguments": "{\"expr\":\"2+2\"}"},
			{"type": "function_call_output", "call_id": "call_1", "output": "4"}
		]
	}`)
	req, err := c.DecodeRequest(body, &codec.Context{})
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	if req.Instructions != "be terse" || req.System != "be terse" {
		t.Errorf("instructions = %q / system = %q", req.Instructions, req.System)
	}
	if len(req.Messages) != 3 {
		t.Fatalf("got %d messages, want 3", len(req.Messages))
	}
	if req.Messages[0].Role != "user" || req.Messages[0].Content != "what is 2+2" {
		t.Errorf("message 0 = %+v", req.Messages[0])
	}
	if len(req.Messages[1].ToolCalls) != 1 || req.Messages[1].ToolCalls[0].ID != "call_1" {
		t.Errorf("message 1 = %+v", req.Messages[1])
	}
	if req.Messages[2].Role != "tool" || req.Messages[2].ToolCallID != "call_1" || req.Messages[2].Content != "4" {
		t.Errorf("message 2 = %+v", req.Messages[2])
	}
}

func TestDecodeRequestStringInput(t *testing.T) {
	c := New()
	// Content may be a bare string instead of a part list.
	body := []byte(`{"model":"gpt-test","input":[{"role":"user","content":"plain text"}]}`)
	req, err := c.DecodeRequest(body, &codec.Context{})
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	if len(req.Messages) != 1 || req.Messages[0].Content != "plain text" {
		t.Fatalf("messages = %+v", req.Messages)
	}
}

func TestDecodeRequestRejectsUnknownItem(t *testing.T) {
	c := New()
	body := []byte(`{"model":"m","input":[{"type":"image_generation_call"}]}`)
	if _, err := c.DecodeRequest(body, &codec.Context{}); err == nil {
		t.Error("expected error for unsupported input item type")
	}
}

func TestEncodeResponseToolCallsRequireAction(t *testing.T) {
	c := New()
	resp := &domain.CanonicalResponse{
		ID:    "abc123",
		Model: "m",
		Choices: []domain.Choice{{
			Message: domain.Message{
				Role: "assistant",
				ToolCalls: []domain.ToolCall{{
					ID:       "call_9",
					Type:     "function",
					Function: domain.ToolCallFunction{Name: "lookup", Arguments: `{"q":"x"}`},
				}},
			},
			FinishReason: "tool_calls",
		}},
	}
	body, err := c.EncodeResponse(resp, &codec.Context{ClientModel: "client-m"})
	if err != nil {
		t.Fatalf("EncodeResponse: %v", err)
	}
	var m struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Model  string `json:"model"`
		Output []struct {
			Type   string `json:"type"`
			CallID string `json:"call_id"`
		} `json:"output"`
		RequiredAction *struct {
			Type              string `json:"type"`
			SubmitToolOutputs struct {
				ToolCalls []struct {
					ID string `json:"id"`
				} `json:"tool_calls"`
			} `json:"submit_tool_outputs"`
		} `json:"required_action"`
	}
	if err := json.Unmarshal(body, &m); err != nil {
		t.Fatalf("body invalid: %v", err)
	}
	if !strings.HasPrefix(m.ID, "resp_") {
		t.Errorf("id = %q, want resp_ prefix", m.ID)
	}
	if m.Status != "requires_action" {
		t.Errorf("status = %q, want requires_action", m.Status)
	}
	if m.Model != "client-m" {
		t.Errorf("model = %q, want client model", m.Model)
	}
	if m.RequiredAction == nil || m.RequiredAction.Type != "submit_tool_outputs" {
		t.Fatalf("required_action = %+v", m.RequiredAction)
	}
	if len(m.RequiredAction.SubmitToolOutputs.ToolCalls) != 1 ||
		m.RequiredAction.SubmitToolOutputs.ToolCalls[0].ID != "call_9" {
		t.Errorf("pending tool calls = %+v", m.RequiredAction.SubmitToolOutputs.ToolCalls)
	}
	foundCall := false
	for _, item := range m.Output {
		if item.Type == "function_call" && item.CallID == "call_9" {
			foundCall = true
		}
	}
	if !foundCall {
		t.Error("function_call output item missing")
	}
}

func TestEncodeResponsePreservesThinking(t *testing.T) {
	c := New()
	resp := &domain.CanonicalResponse{
		ID: "resp_1",
		Choices: []domain.Choice{{
			Message: domain.Message{
				Role:     "assistant",
				Content:  "the answer",
				Thinking: "intermediate reasoning",
			},
			FinishReason: "stop",
		}},
	}
	body, err := c.EncodeResponse(resp, &codec.Context{})
	if err != nil {
		t.Fatalf("EncodeResponse: %v", err)
	}
	var m struct {
		Output []struct {
			Type string `json:"type"`
		} `json:"output"`
	}
	if err := json.Unmarshal(body, &m); err != nil {
		t.Fatalf("body invalid: %v", err)
	}
	if len(m.Output) != 2 || m.Output[0].Type != "reasoning" || m.Output[1].Type != "message" {
		t.Errorf("output = %+v, want reasoning then message", m.Output)
	}
}

func TestDecodeResponseRequiredAction(t *testing.T) {
	c := New()
	body := []byte(`{
		"id": "resp_7",
		"object": "response",
		"status": "requires_action",
		"model": "m",
		"required_action": {
			"type": "submit_tool_outputs",
			"submit_tool_outputs": {
				"tool_calls": [{"id": "call_2", "type": "function", "function": {"name": "f", "arguments": "{}"}}]
			}
		}
	}`)
	resp, err := c.DecodeResponse(body, &codec.Context{})
	if err != nil {
		t.Fatalf("DecodeResponse: %v", err)
	}
	msg := resp.Choices[0].Message
	if len(msg.ToolCalls) != 1 || msg.ToolCalls[0].ID != "call_2" {
		t.Fatalf("tool calls = %+v", msg.ToolCalls)
	}
	if resp.Choices[0].FinishReason != "tool_calls" {
		t.Errorf("finish = %q", resp.Choices[0].FinishReason)
	}
}

func TestStreamFrameLifecycle(t *testing.T) {
	c := New()
	cctx := &codec.Context{}
	meta := &codec.StreamMeta{ID: "resp_1", Model: "m"}

	frames, err := c.EncodeStreamFrame(&domain.CanonicalEvent{
		Type: domain.EventMessageStart, Role: "assistant",
	}, meta, cctx)
	if err != nil {
		t.Fatalf("EncodeStreamFrame: %v", err)
	}
	if len(frames) != 1 || frames[0].Event != "response.created" {
		t.Fatalf("start frames = %+v", frames)
	}

	frames, err = c.EncodeStreamFrame(&domain.CanonicalEvent{
		Type: domain.EventContentDelta, ContentDelta: "hi",
	}, meta, cctx)
	if err != nil {
		t.Fatalf("EncodeStreamFrame: %v", err)
	}
	if len(frames) != 1 || frames[0].Event != "response.output_text.delta" {
		t.Fatalf("delta frames = %+v", frames)
	}

	frames, err = c.EncodeStreamFrame(&domain.CanonicalEvent{
		Type: domain.EventMessageStop, FinishReason: "stop",
	}, meta, cctx)
	if err != nil {
		t.Fatalf("EncodeStreamFrame: %v", err)
	}
	if len(frames) != 1 || frames[0].Event != "response.completed" {
		t.Fatalf("stop frames = %+v", frames)
	}

	// After a completed event the terminator only emits [DONE].
	term := c.StreamTerminator(meta, cctx)
	if len(term) != 1 || string(term[0].Data) != "[DONE]" {
		t.Fatalf("terminator = %+v", term)
	}
}

func TestStreamTerminatorCompletesUnfinishedStream(t *testing.T) {
	c := New()
	term := c.StreamTerminator(&codec.StreamMeta{ID: "resp_1"}, &codec.Context{})
	if len(term) != 2 || term[0].Event != "response.completed" || string(term[1].Data) != "[DONE]" {
		t.Fatalf("terminator = %+v", term)
	}
}

func TestDecodeStreamFrame(t *testing.T) {
	c := New()

	evs, err := c.DecodeStreamFrame("response.output_text.delta",
		[]byte(`{"type":"response.output_text.delta","delta":"chunk"}`), &codec.Context{})
	if err != nil {
		t.Fatalf("DecodeStreamFrame: %v", err)
	}
	if len(evs) != 1 || evs[0].Type != domain.EventContentDelta || evs[0].ContentDelta != "chunk" {
		t.Fatalf("events = %+v", evs)
	}

	evs, err = c.DecodeStreamFrame("response.completed",
		[]byte(`{"type":"response.completed","response":{"id":"resp_1","usage":{"input_tokens":3,"output_tokens":2,"total_tokens":5}}}`),
		&codec.Context{})
	if err != nil {
		t.Fatalf("DecodeStreamFrame: %v", err)
	}
	if len(evs) != 2 || evs[0].Type != domain.EventUsage || evs[1].Type != domain.EventMessageStop {
		t.Fatalf("events = %+v", evs)
	}
	if evs[0].Usage.TotalTokens != 5 {
		t.Errorf("usage = %+v", evs[0].Usage)
	}
}
