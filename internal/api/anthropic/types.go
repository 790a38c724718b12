// Package anthropic holds the Anthropic Messages wire types shared by the
// messages codecs and the anthropic provider adapter.
package anthropic

import "encoding/json"

// MessagesRequest is an Anthropic Messages API request body.
type MessagesRequest struct {
	Model         string         `json:"model"`
	Messages      []Message      `json:"messages"`
	MaxTokens     int            `json:"max_tokens"`
	System        SystemMessages `json:"system,omitempty"`
	Temperature   *float32       `json:"temperature,omitempty"`
	TopP          *float32       `json:"top_p,omitempty"`
	Stream        bool           `json:"stream,omitempty"`
	StopSequences []string       `json:"stop_sequences,omitempty"`
	Tools         []Tool         `json:"tools,omitempty"`
	ToolChoice    *ToolChoice    `json:"tool_choice,omitempty"`

	// ToolsPresent is set during decoding when the tools key appeared in
	// the raw body, even as an empty array.
	ToolsPresent bool `json:"-"`
}

// Message is one conversation turn.
type Message struct {
	Role    string       `json:"role"`
	Content ContentBlock `json:"content"`
}

// ContentBlock accepts both the string shortcut and the block-array form.
type ContentBlock []ContentPart

func (c *ContentBlock) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*c = ContentBlock{{Type: "text", Text: str}}
		return nil
	}
	var parts []ContentPart
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	*c = parts
	return nil
}

func (c ContentBlock) MarshalJSON() ([]byte, error) {
	return json.Marshal([]ContentPart(c))
}

// Text concatenates the text-like parts (text, input_text, output_text).
func (c ContentBlock) Text() string {
	var out string
	for _, p := range c {
		switch p.Type {
		case "", "text", "input_text", "output_text":
			out += p.Text
		}
	}
	return out
}

// ContentPart is one block inside a message's content array.
type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`

	// tool_use blocks
	ID    string `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	Input any    `json:"input,omitempty"`

	// tool_result blocks
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   any    `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`

	// thinking blocks
	Thinking string `json:"thinking,omitempty"`
}

// SystemMessages accepts both the string form and the block-array form.
type SystemMessages []SystemBlock

func (s *SystemMessages) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*s = SystemMessages{{Type: "text", Text: str}}
		return nil
	}
	var blocks []SystemBlock
	if err := json.Unmarshal(data, &blocks); err != nil {
		return err
	}
	*s = blocks
	return nil
}

// Text concatenates all system blocks.
func (s SystemMessages) Text() string {
	var out string
	for _, b := range s {
		out += b.Text
	}
	return out
}

// SystemBlock is one system prompt block.
type SystemBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Tool is an Anthropic tool definition (input_schema, not parameters).
type Tool struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	InputSchema any    `json:"input_schema,omitempty"`
}

// ToolChoice selects tool-use behavior.
type ToolChoice struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

// MessagesResponse is a completed Messages API response.
type MessagesResponse struct {
	ID           string        `json:"id"`
	Type         string        `json:"type"`
	Role         string        `json:"role"`
	Model        string        `json:"model"`
	Content      []ContentPart `json:"content"`
	StopReason   string        `json:"stop_reason,omitempty"`
	StopSequence string        `json:"stop_sequence,omitempty"`
	Usage        Usage         `json:"usage"`
}

// Usage is Anthropic token accounting.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Streaming event payloads. The SSE event name selects which of these a
// frame decodes into.
type (
	MessageStartEvent struct {
		Type    string `json:"type"`
		Message struct {
			ID    string `json:"id"`
			Role  string `json:"role"`
			Model string `json:"model"`
			Usage Usage  `json:"usage"`
		} `json:"message"`
	}

	ContentBlockStartEvent struct {
		Type         string      `json:"type"`
		Index        int         `json:"index"`
		ContentBlock ContentPart `json:"content_block"`
	}

	ContentBlockDeltaEvent struct {
		Type  string `json:"type"`
		Index int    `json:"index"`
		Delta struct {
			Type        string `json:"type"`
			Text        string `json:"text,omitempty"`
			PartialJSON string `json:"partial_json,omitempty"`
			Thinking    string `json:"thinking,omitempty"`
		} `json:"delta"`
	}

	ContentBlockStopEvent struct {
		Type  string `json:"type"`
		Index int    `json:"index"`
	}

	MessageDeltaEvent struct {
		Type  string `json:"type"`
		Delta struct {
			StopReason   string `json:"stop_reason,omitempty"`
			StopSequence string `json:"stop_sequence,omitempty"`
		} `json:"delta"`
		Usage *Usage `json:"usage,omitempty"`
	}

	MessageStopEvent struct {
		Type string `json:"type"`
	}
)

// ErrorResponse is the Anthropic error envelope.
type ErrorResponse struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// ParseErrorResponse decodes an error body; nil when it does not match.
func ParseErrorResponse(body []byte) *ErrorResponse {
	var er ErrorResponse
	if err := json.Unmarshal(body, &er); err != nil || er.Error.Message == "" {
		return nil
	}
	return &er
}
