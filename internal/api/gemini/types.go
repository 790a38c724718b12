// Package gemini holds the Gemini generateContent wire types plus the Cloud
// Code Assist envelope used by antigravity targets.
package gemini

import (
	"encoding/json"
	"fmt"
)

// GenerateContentRequest is the inner Gemini request body.
type GenerateContentRequest struct {
	Contents          []Content         `json:"contents"`
	SystemInstruction *Content          `json:"systemInstruction,omitempty"`
	Tools             []Tool            `json:"tools,omitempty"`
	ToolConfig        *ToolConfig       `json:"toolConfig,omitempty"`
	GenerationConfig  *GenerationConfig `json:"generationConfig,omitempty"`
	SafetySettings    []SafetySetting   `json:"safetySettings,omitempty"`
}

// Content is one turn: a role plus ordered parts.
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// Part is one content part; exactly one field is set.
type Part struct {
	Text             string            `json:"text,omitempty"`
	FunctionCall     *FunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *FunctionResponse `json:"functionResponse,omitempty"`
}

// FunctionCall is a Gemini tool invocation; Args is a decoded object, never
// a top-level array.
type FunctionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// FunctionResponse is a tool result fed back to the model.
type FunctionResponse struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response,omitempty"`
}

// Tool wraps function declarations.
type Tool struct {
	FunctionDeclarations []FunctionDeclaration `json:"functionDeclarations,omitempty"`
}

// FunctionDeclaration describes one callable function.
type FunctionDeclaration struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parameters  any    `json:"parameters,omitempty"`
}

// ToolConfig sets function calling mode.
type ToolConfig struct {
	FunctionCallingConfig *FunctionCallingConfig `json:"functionCallingConfig,omitempty"`
}

// FunctionCallingConfig holds the calling mode (AUTO, ANY, NONE).
type FunctionCallingConfig struct {
	Mode string `json:"mode,omitempty"`
}

// GenerationConfig holds sampling parameters.
type GenerationConfig struct {
	Temperature     *float32 `json:"temperature,omitempty"`
	TopP            *float32 `json:"topP,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

// SafetySetting is a per-category safety threshold.
type SafetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

// GenerateContentResponse is the Gemini response body (also the shape of
// each streaming frame).
type GenerateContentResponse struct {
	Candidates    []Candidate    `json:"candidates,omitempty"`
	UsageMetadata *UsageMetadata `json:"usageMetadata,omitempty"`
	ModelVersion  string         `json:"modelVersion,omitempty"`
}

// Candidate is one generated alternative.
type Candidate struct {
	Content      Content `json:"content"`
	FinishReason string  `json:"finishReason,omitempty"`
	Index        int     `json:"index,omitempty"`
}

// UsageMetadata is Gemini token accounting.
type UsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount,omitempty"`
	CandidatesTokenCount int `json:"candidatesTokenCount,omitempty"`
	TotalTokenCount      int `json:"totalTokenCount,omitempty"`
}

// CloudCodeEnvelope is the outbound body for Cloud Code Assist /
// antigravity targets. Generation fields must live under Request, never at
// the top level.
type CloudCodeEnvelope struct {
	Project     string                  `json:"project"`
	RequestID   string                  `json:"requestId"`
	Request     *GenerateContentRequest `json:"request"`
	Model       string                  `json:"model"`
	UserAgent   string                  `json:"userAgent,omitempty"`
	RequestType string                  `json:"requestType,omitempty"`
}

// forbiddenTopLevel are generation keys that must not escape the inner
// request of a CloudCodeEnvelope.
var forbiddenTopLevel = []string{
	"contents", "systemInstruction", "tools", "toolConfig",
	"generationConfig", "safetySettings",
}

// forbiddenInner are transport keys that must not leak into the inner
// request.
var forbiddenInner = []string{"metadata", "action", "web_search", "stream", "sessionId"}

// ValidateEnvelope checks a marshalled CloudCodeEnvelope against the key
// placement rules the upstream schema enforces with 400s.
func ValidateEnvelope(body []byte) error {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(body, &top); err != nil {
		return fmt.Errorf("envelope not an object: %w", err)
	}
	for _, k := range forbiddenTopLevel {
		if _, ok := top[k]; ok {
			return fmt.Errorf("forbidden top-level key %q in cloud code envelope", k)
		}
	}
	inner, ok := top["request"]
	if !ok {
		return fmt.Errorf("cloud code envelope missing request")
	}
	var req map[string]json.RawMessage
	if err := json.Unmarshal(inner, &req); err != nil {
		return fmt.Errorf("inner request not an object: %w", err)
	}
	for _, k := range forbiddenInner {
		if _, ok := req[k]; ok {
			return fmt.Errorf("forbidden inner key %q in cloud code request", k)
		}
	}
	return nil
}

// ErrorResponse is the Google error envelope.
type ErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
		Details []struct {
			Type     string         `json:"@type,omitempty"`
			Metadata map[string]any `json:"metadata,omitempty"`
		} `json:"details,omitempty"`
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
