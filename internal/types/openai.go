package types

import (
	"bytes"
	"encoding/json"
)

// --- Request types ---

// ChatMessage represents an OpenAI chat message. Content is kept raw because
// it is either a plain string or an array of typed content parts.
type ChatMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content,omitempty"`
}

// IsMultipart reports whether the message content is an ordered sequence of
// content parts rather than a plain string.
func (m ChatMessage) IsMultipart() bool {
	trimmed := bytes.TrimSpace(m.Content)
	return len(trimmed) > 0 && trimmed[0] == '['
}

// Parts decodes multipart content. Entries that are not JSON objects are skipped.
func (m ChatMessage) Parts() []ContentPart {
	if !m.IsMultipart() {
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(m.Content, &raw); err != nil {
		return nil
	}
	parts := make([]ContentPart, 0, len(raw))
	for _, item := range raw {
		var part ContentPart
		if err := json.Unmarshal(item, &part); err != nil {
			continue
		}
		parts = append(parts, part)
	}
	return parts
}

// ContentPart represents a part of a multimodal content array.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     *string   `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL holds an image URL reference. Clients send either an object or a
// bare string; both decode into URL.
type ImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

func (u *ImageURL) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		u.URL = s
		return nil
	}
	type plain ImageURL
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*u = ImageURL(p)
	return nil
}

// ChatTool represents a tool in the OpenAI format.
type ChatTool struct {
	Type     string       `json:"type"`
	Function *FunctionDef `json:"function,omitempty"`
}

// FunctionDef defines a function tool.
type FunctionDef struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parameters  any    `json:"parameters,omitempty"`
	Strict      *bool  `json:"strict,omitempty"`
}

// FunctionName returns the declared function name, or "" when the tool has no
// function block.
func (t ChatTool) FunctionName() string {
	if t.Function == nil {
		return ""
	}
	return t.Function.Name
}

// --- Response types ---

// ChatCompletionResponse represents a non-streaming chat completion response.
type ChatCompletionResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
	Usage   *Usage       `json:"usage"`
}

// ChatChoice is a single choice in a non-streaming response.
type ChatChoice struct {
	Index        int             `json:"index"`
	Message      ChatResponseMsg `json:"message"`
	FinishReason *string         `json:"finish_reason"`
}

// ChatResponseMsg is the message in a non-streaming response choice.
type ChatResponseMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage holds token usage statistics.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ErrorResponse wraps an API error.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail holds the error message.
type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
}

// HealthStatus is the body of GET /health.
type HealthStatus struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}
