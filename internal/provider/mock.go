package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/routecodex/routecodex/internal/api/openai"
	"github.com/routecodex/routecodex/internal/domain"
)

// MockAdapter answers locally without any network. It speaks the openai
// chat wire, so mock targets configure outbound_profile openai-chat. Useful
// for smoke tests and for exercising the full pipeline offline.
type MockAdapter struct {
	latency time.Duration
}

func (a *MockAdapter) reply(body []byte) (string, string, error) {
	var req openai.ChatCompletionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return "", "", domain.WrapError(domain.KindProtocol, err, "mock adapter: decode request")
	}
	last := ""
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" && req.Messages[i].Content != nil {
			last = *req.Messages[i].Content
			break
		}
	}
	return req.Model, fmt.Sprintf("mock response to: %s", last), nil
}

func (a *MockAdapter) Complete(ctx context.Context, target *domain.Target, body []byte) ([]byte, error) {
	model, text, err := a.reply(body)
	if err != nil {
		return nil, err
	}
	select {
	case <-time.After(a.latency):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	resp := openai.ChatCompletionResponse{
		ID:      "chatcmpl-" + uuid.NewString(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []openai.Choice{{
			Index:        0,
			Message:      openai.Message{Role: "assistant", Content: &text},
			FinishReason: "stop",
		}},
		Usage: openai.Usage{PromptTokens: 10, CompletionTokens: 8, TotalTokens: 18},
	}
	return json.Marshal(resp)
}

func (a *MockAdapter) Stream(ctx context.Context, target *domain.Target, body []byte) (*StreamResult, error) {
	model, text, err := a.reply(body)
	if err != nil {
		return nil, err
	}
	id := "chatcmpl-" + uuid.NewString()
	created := time.Now().Unix()

	frames := make(chan Frame, 8)
	go func() {
		defer close(frames)
		emit := func(delta openai.ChunkDelta, finish string) bool {
			chunk := openai.ChatCompletionChunk{
				ID:      id,
				Object:  "chat.completion.chunk",
				Created: created,
				Model:   model,
				Choices: []openai.ChunkChoice{{Delta: delta}},
			}
			chunk.Choices[0].FinishReason = finish
			data, err := json.Marshal(chunk)
			if err != nil {
				return false
			}
			select {
			case frames <- Frame{Data: data}:
				return true
			case <-ctx.Done():
				return false
			}
		}
		role := "assistant"
		if !emit(openai.ChunkDelta{Role: role}, "") {
			return
		}
		half := len(text) / 2
		for _, part := range []string{text[:half], text[half:]} {
			select {
			case <-time.After(a.latency):
			case <-ctx.Done():
				return
			}
			if !emit(openai.ChunkDelta{Content: part}, "") {
				return
			}
		}
		emit(openai.ChunkDelta{}, "stop")
	}()

	return &StreamResult{Frames: frames, Err: func() error { return nil }}, nil
}
