package anthropicmsg

import (
	"encoding/json"
	"testing"

	"github.com/routecodex/routecodex/internal/codec"
	"github.com/routecodex/routecodex/internal/domain"
)

func TestDecodeRequestSplitsToolResults(t *testing.T) {
	c := New()
	body := []byte(`{
		"model": "claude-sonnet",
		"max_tokens": 1024,
		"system": "be helpful",
		"messages": [
			{"role": "user", "content": [
				{"type": "tool_result", "tool_use_id": "toolu_1", "content": "42"},
				{"type": "text", "text": "thanks"}
			]}
		]
	}`)
	req, err := c.DecodeRequest(body, &codec.Context{})
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	if req.System != "be helpful" {
		t.Errorf("system = %q", req.System)
	}
	if len(req.Messages) != 2 {
		t.Fatalf("got %d messages, want 2 (tool + user)", len(req.Messages))
	}
	if req.Messages[0].Role != "tool" || req.Messages[0].ToolCallID != "toolu_1" {
		t.Errorf("first message = %+v, want role=tool tool_call_id=toolu_1", req.Messages[0])
	}
	if req.Messages[1].Content != "thanks" {
		t.Errorf("second message content = %q", req.Messages[1].Content)
	}
}

func TestDecodeRequestStringContent(t *testing.T) {
	c := New()
	body := []byte(`{"model":"claude","max_tokens":10,"messages":[{"role":"user","content":"plain"}]}`)
	req, err := c.DecodeRequest(body, &codec.Context{})
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	if len(req.Messages) != 1 || req.Messages[0].Content != "plain" {
		t.Fatalf("messages = %+v", req.Messages)
	}
}

func TestEncodeRequestDefaultsMaxTokens(t *testing.T) {
	c := New()
	req := &domain.CanonicalRequest{
		Model:    "claude",
		Messages: []domain.Message{{Role: "user", Content: "hi"}},
	}
	body, err := c.EncodeRequest(req, &codec.Context{})
	if err != nil {
		t.Fatalf("EncodeRequest: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(body, &m); err != nil {
		t.Fatalf("body invalid: %v", err)
	}
	if m["max_tokens"].(float64) != defaultMaxTokens {
		t.Errorf("max_tokens = %v, want %d", m["max_tokens"], defaultMaxTokens)
	}
}

func TestEncodeRequestKeepsArrayArguments(t *testing.T) {
	c := New()
	req := &domain.CanonicalRequest{
		Model:     "claude",
		MaxTokens: 100,
		Messages: []domain.Message{{
			Role: "assistant",
			ToolCalls: []domain.ToolCall{{
				ID:   "toolu_2",
				Type: "function",
				Function: domain.ToolCallFunction{
					Name:      "batch",
					Arguments: `[{"op":"a"},{"op":"b"}]`,
				},
			}},
		}},
	}
	body, err := c.EncodeRequest(req, &codec.Context{})
	if err != nil {
		t.Fatalf("EncodeRequest: %v", err)
	}
	var m struct {
		Messages []struct {
			Content []struct {
				Type  string `json:"type"`
				Input any    `json:"input"`
			} `json:"content"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(body, &m); err != nil {
		t.Fatalf("body invalid: %v", err)
	}
	input := m.Messages[0].Content[0].Input
	if _, ok := input.([]any); !ok {
		t.Errorf("tool_use input = %T, want array preserved", input)
	}
}

func TestStopReasonMapping(t *testing.T) {
	tests := []struct {
		stop   string
		finish string
	}{
		{"end_turn", "stop"},
		{"stop_sequence", "stop"},
		{"tool_use", "tool_calls"},
		{"max_tokens", "length"},
	}
	for _, tt := range tests {
		if got := stopReasonToFinish(tt.stop); got != tt.finish {
			t.Errorf("stopReasonToFinish(%q) = %q, want %q", tt.stop, got, tt.finish)
		}
	}
	if got := finishToStopReason("stop"); got != "end_turn" {
		t.Errorf("finishToStopReason(stop) = %q, want end_turn", got)
	}
	if got := finishToStopReason(""); got != "end_turn" {
		t.Errorf("finishToStopReason(empty) = %q, want end_turn", got)
	}
}

func TestDecodeStreamFrameProbesType(t *testing.T) {
	c := New()
	// No SSE event name; the data type field disambiguates.
	events, err := c.DecodeStreamFrame("", []byte(`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"hi"}}`), &codec.Context{})
	if err != nil {
		t.Fatalf("DecodeStreamFrame: %v", err)
	}
	if len(events) != 1 || events[0].Type != domain.EventContentDelta || events[0].ContentDelta != "hi" {
		t.Fatalf("events = %+v", events)
	}
}

func TestEncodeStreamFrameBlockLifecycle(t *testing.T) {
	c := New()
	cctx := &codec.Context{}
	meta := &codec.StreamMeta{ID: "msg_1", Model: "claude"}

	frames, err := c.EncodeStreamFrame(&domain.CanonicalEvent{
		Type:         domain.EventContentDelta,
		ContentDelta: "hello",
	}, meta, cctx)
	if err != nil {
		t.Fatalf("EncodeStreamFrame: %v", err)
	}
	// First content delta opens the message and a text block.
	wantEvents := []string{"message_start", "content_block_start", "content_block_delta"}
	if len(frames) != len(wantEvents) {
		t.Fatalf("got %d frames, want %d", len(frames), len(wantEvents))
	}
	for i, want := range wantEvents {
		if frames[i].Event != want {
			t.Errorf("frame %d event = %q, want %q", i, frames[i].Event, want)
		}
	}

	// Second delta reuses the open block.
	frames, err = c.EncodeStreamFrame(&domain.CanonicalEvent{
		Type:         domain.EventContentDelta,
		ContentDelta: " world",
	}, meta, cctx)
	if err != nil {
		t.Fatalf("EncodeStreamFrame: %v", err)
	}
	if len(frames) != 1 || frames[0].Event != "content_block_delta" {
		t.Fatalf("second delta frames = %+v", frames)
	}

	// Stop closes the block and emits message_delta.
	frames, err = c.EncodeStreamFrame(&domain.CanonicalEvent{
		Type:         domain.EventMessageStop,
		FinishReason: "stop",
	}, meta, cctx)
	if err != nil {
		t.Fatalf("EncodeStreamFrame: %v", err)
	}
	if len(frames) != 2 || frames[0].Event != "content_block_stop" || frames[1].Event != "message_delta" {
		t.Fatalf("stop frames = %+v", frames)
	}
}
