// Package responses holds the OpenAI Responses API wire types shared by the
// responses codecs, the responses frontdoor, and openai-responses providers.
package responses

import "encoding/json"

// Request is an OpenAI Responses API request body.
type Request struct {
	Model              string    `json:"model"`
	Input              InputList `json:"input,omitempty"`
	Instructions       string    `json:"instructions,omitempty"`
	MaxOutputTokens    int       `json:"max_output_tokens,omitempty"`
	Temperature        *float32  `json:"temperature,omitempty"`
	TopP               *float32  `json:"top_p,omitempty"`
	Stream             bool      `json:"stream,omitempty"`
	Tools              []Tool    `json:"tools,omitempty"`
	ToolChoice         any       `json:"tool_choice,omitempty"`
	PreviousResponseID string    `json:"previous_response_id,omitempty"`

	// ToolsPresent is set during decoding when the tools key appeared in
	// the raw body, even as an empty array.
	ToolsPresent bool `json:"-"`
}

// InputList accepts both the plain-string shortcut and the item-array form.
type InputList []InputItem

func (l *InputList) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*l = InputList{{Type: "message", Role: "user", Content: ContentList{{Type: "input_text", Text: str}}}}
		return nil
	}
	var items []InputItem
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	*l = items
	return nil
}

// InputItem is one item of Responses input: a message, a function call, or
// a function call output.
type InputItem struct {
	Type    string      `json:"type,omitempty"`
	Role    string      `json:"role,omitempty"`
	Content ContentList `json:"content,omitempty"`

	// function_call items
	ID        string `json:"id,omitempty"`
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`

	// function_call_output items
	Output string `json:"output,omitempty"`
}

// ContentList accepts both a string and an array of content parts.
type ContentList []ContentPart

func (c *ContentList) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*c = ContentList{{Type: "input_text", Text: str}}
		return nil
	}
	var parts []ContentPart
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	*c = parts
	return nil
}

// Text concatenates the text-like parts.
func (c ContentList) Text() string {
	var out string
	for _, p := range c {
		switch p.Type {
		case "", "text", "input_text", "output_text":
			out += p.Text
		}
	}
	return out
}

// ContentPart is one part of an input or output message.
type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Tool is a Responses tool definition; function tools carry name and
// parameters at the top level rather than nested.
type Tool struct {
	Type        string `json:"type"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Parameters  any    `json:"parameters,omitempty"`
}

// Response is a Responses API response body.
type Response struct {
	ID             string          `json:"id"`
	Object         string          `json:"object"`
	CreatedAt      int64           `json:"created_at"`
	Status         string          `json:"status"`
	Model          string          `json:"model"`
	Output         []OutputItem    `json:"output,omitempty"`
	RequiredAction *RequiredAction `json:"required_action,omitempty"`
	Usage          *Usage          `json:"usage,omitempty"`
	Error          *ErrorDetail    `json:"error,omitempty"`
}

// OutputItem is one output entry: an assistant message, a reasoning item,
// or a function call.
type OutputItem struct {
	Type    string      `json:"type"`
	ID      string      `json:"id,omitempty"`
	Role    string      `json:"role,omitempty"`
	Status  string      `json:"status,omitempty"`
	Content ContentList `json:"content,omitempty"`

	// function_call items
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`

	// reasoning items
	Summary []ContentPart `json:"summary,omitempty"`
}

// RequiredAction signals the client must submit tool outputs to continue.
type RequiredAction struct {
	Type              string             `json:"type"`
	SubmitToolOutputs *SubmitToolOutputs `json:"submit_tool_outputs,omitempty"`
}

// SubmitToolOutputs lists the pending tool calls.
type SubmitToolOutputs struct {
	ToolCalls []PendingToolCall `json:"tool_calls"`
}

// PendingToolCall is one tool call awaiting a client-provided output.
type PendingToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

// SubmitToolOutputsRequest is the body of POST /v1/responses/{id}/submit_tool_outputs.
type SubmitToolOutputsRequest struct {
	ToolOutputs []ToolOutput `json:"tool_outputs"`
	Stream      bool         `json:"stream,omitempty"`
}

// ToolOutput is one client-provided tool result.
type ToolOutput struct {
	ToolCallID string `json:"tool_call_id"`
	Output     string `json:"output"`
}

// Usage is Responses token accounting.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// ErrorDetail is the error payload of a failed response.
type ErrorDetail struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// StreamEvent is one Responses SSE frame; Event selects the payload shape.
type StreamEvent struct {
	Event    string    `json:"type"`
	Response *Response `json:"response,omitempty"`

	// delta frames
	ItemID string `json:"item_id,omitempty"`
	Index  int    `json:"output_index,omitempty"`
	Delta  string `json:"delta,omitempty"`
}

// Responses SSE event names.
const (
	EventResponseCreated   = "response.created"
	EventOutputItemAdded   = "response.output_item.added"
	EventOutputTextDelta   = "response.output_text.delta"
	EventOutputItemDone    = "response.output_item.done"
	EventResponseCompleted = "response.completed"
	EventResponseFailed    = "response.failed"
)
