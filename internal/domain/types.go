package domain

import "encoding/json"

// Protocol identifies a client or provider wire format.
type Protocol string

const (
	ProtocolOpenAIChat Protocol = "openai-chat"
	ProtocolResponses  Protocol = "openai-responses"
	ProtocolAnthropic  Protocol = "anthropic-messages"
	ProtocolGemini     Protocol = "gemini"
)

// Message is a protocol-neutral chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`

	// ToolCalls for assistant messages that invoke tools. When present,
	// Content is the empty string and HasContent reports false.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID for role=tool messages carrying a tool result.
	ToolCallID string `json:"tool_call_id,omitempty"`

	// Thinking carries reasoning text extracted from <think> blocks or
	// reasoning_content fields. Exposure to the client is a pipeline
	// policy, not a codec concern.
	Thinking string `json:"thinking,omitempty"`
}

// HasContent reports whether the message carries text content. Assistant
// messages with tool calls deliberately have none.
func (m *Message) HasContent() bool {
	return m.Content != "" && len(m.ToolCalls) == 0
}

// ToolCall is an assistant-issued tool invocation. Arguments are always a
// JSON string at the canonical level; array payloads are wrapped into
// {"items":[...]} only at the outbound stage for targets that forbid
// top-level arrays.
type ToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function ToolCallFunction `json:"function"`
}

// ToolCallFunction holds the function name and its JSON-string arguments.
type ToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolDefinition describes a tool the model may call.
type ToolDefinition struct {
	Type     string      `json:"type"`
	Function FunctionDef `json:"function"`
}

// FunctionDef is the function signature inside a tool definition.
type FunctionDef struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parameters  any    `json:"parameters,omitempty"`
}

// ToolOutput is a client-submitted result for an earlier tool call
// (Responses submit_tool_outputs loop).
type ToolOutput struct {
	ToolCallID string `json:"tool_call_id"`
	Output     string `json:"output"`
}

// CanonicalRequest is the protocol-neutral request shared by every codec.
type CanonicalRequest struct {
	Model       string            `json:"model"`
	Messages    []Message         `json:"messages"`
	System      string            `json:"system,omitempty"`
	Stream      bool              `json:"stream"`
	MaxTokens   int               `json:"max_tokens,omitempty"`
	Temperature float32           `json:"temperature,omitempty"`
	TopP        float32           `json:"top_p,omitempty"`
	Stop        []string          `json:"stop,omitempty"`
	Tools       []ToolDefinition  `json:"tools,omitempty"`
	ToolChoice  any               `json:"tool_choice,omitempty"`
	ToolOutputs []ToolOutput      `json:"tool_outputs,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`

	// ToolsFieldPresent records whether the client sent a tools field at
	// all, including an empty array. Round-tripping preserves an empty
	// tools array only when this is set.
	ToolsFieldPresent bool `json:"-"`

	// PreviousResponseID continues a Responses conversation.
	PreviousResponseID string `json:"previous_response_id,omitempty"`

	// Instructions override the system prompt (Responses API).
	Instructions string `json:"instructions,omitempty"`
}

// Usage is token accounting reported by a provider.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Choice is a single completion alternative.
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// CanonicalResponse is the protocol-neutral completed response.
type CanonicalResponse struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Created int64    `json:"created"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`

	// ProviderModel is the model the upstream actually served, kept for
	// accounting even when Model is rewritten for the client.
	ProviderModel string `json:"-"`
}

// StreamEventType identifies a canonical streaming event.
type StreamEventType string

const (
	EventContentDelta StreamEventType = "content_delta"
	EventThinkDelta   StreamEventType = "think_delta"
	EventToolCall     StreamEventType = "tool_call"
	EventUsage        StreamEventType = "usage"
	EventMessageStart StreamEventType = "message_start"
	EventMessageStop  StreamEventType = "message_stop"
	EventError        StreamEventType = "error"
)

// ToolCallChunk is a partial tool call carried by a streaming event.
type ToolCallChunk struct {
	Index     int    `json:"index"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// CanonicalEvent is one frame of a canonical response stream.
type CanonicalEvent struct {
	Type         StreamEventType
	Role         string
	ContentDelta string
	ThinkDelta   string
	ToolCall     *ToolCallChunk
	Usage        *Usage
	FinishReason string
	ResponseID   string
	Model        string
	Err          error

	// Raw keeps the provider frame for debugging snapshots.
	Raw json.RawMessage
}

// Model is one entry of a model listing.
type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object,omitempty"`
	OwnedBy string `json:"owned_by,omitempty"`
	Created int64  `json:"created,omitempty"`
}

// ModelList is the model listing response shape.
type ModelList struct {
	Object string  `json:"object"`
	Data   []Model `json:"data"`
}
