// Package normalize classifies inbound request bodies and builds the outbound
// upstream payload for each shape.
package normalize

import (
	"encoding/json"
	"maps"
	"strings"

	"github.com/n0madic/go-xaigate/internal/codec"
	"github.com/n0madic/go-xaigate/internal/config"
	"github.com/n0madic/go-xaigate/internal/toolcheck"
	"github.com/n0madic/go-xaigate/internal/types"
)

// Route is the endpoint family a body was submitted to.
type Route string

const (
	RouteChat      Route = "chat"
	RouteResponses Route = "responses"
)

// Kind tags the concrete Payload variant.
type Kind int

const (
	KindChat Kind = iota
	KindVision
	KindResponses
)

func (k Kind) String() string {
	switch k {
	case KindChat:
		return "chat"
	case KindVision:
		return "vision"
	case KindResponses:
		return "responses"
	}
	return "unknown"
}

// Payload is one of *ChatPayload, *VisionPayload or *ResponsesPayload.
type Payload interface {
	Kind() Kind
	// RequestedModel is the model the outbound request will name.
	RequestedModel() string
	// Streaming reports whether the caller asked for an event stream.
	Streaming() bool
}

// Detector classifies request bodies and applies configured defaults and
// tool policy.
type Detector struct {
	Config    *config.ServerConfig
	Validator *toolcheck.Validator
}

// New returns a Detector for cfg.
func New(cfg *config.ServerConfig) *Detector {
	return &Detector{Config: cfg, Validator: toolcheck.New(cfg.Tools)}
}

// Detect classifies body. Rules in order: any message whose content is an
// array makes it vision; otherwise the responses route makes it responses;
// otherwise chat. Client-input problems come back as *codec.APIError.
func (d *Detector) Detect(body []byte, route Route) (Payload, error) {
	fields, err := decodeObject(body)
	if err != nil {
		return nil, err
	}

	var messages []types.ChatMessage
	if raw, ok := present(fields, "messages"); ok {
		if err := json.Unmarshal(raw, &messages); err != nil {
			return nil, codec.BadRequest("invalid_messages", "messages must be an array of message objects")
		}
	}
	for _, m := range messages {
		if m.IsMultipart() {
			return d.vision(fields, messages), nil
		}
	}
	if route == RouteResponses {
		return d.responses(fields)
	}
	return d.chat(fields, messages)
}

// decodeObject parses a JSON object body. Bodies with stray CR/LF inside
// string literals are retried once with those bytes removed.
func decodeObject(body []byte) (map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		cleaned := strings.NewReplacer("\r", "", "\n", "").Replace(string(body))
		if err := json.Unmarshal([]byte(cleaned), &fields); err != nil {
			return nil, codec.BadRequest("invalid_json", "Invalid JSON body")
		}
	}
	if fields == nil {
		return nil, codec.BadRequest("invalid_json", "Request body must be a JSON object")
	}
	return fields, nil
}

// present returns a field unless it is absent or JSON null.
func present(fields map[string]json.RawMessage, key string) (json.RawMessage, bool) {
	raw, ok := fields[key]
	if !ok || strings.TrimSpace(string(raw)) == "null" {
		return nil, false
	}
	return raw, true
}

func stringField(fields map[string]json.RawMessage, key string) string {
	raw, ok := present(fields, key)
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

func boolField(fields map[string]json.RawMessage, key string) bool {
	raw, ok := present(fields, key)
	if !ok {
		return false
	}
	var b bool
	_ = json.Unmarshal(raw, &b)
	return b
}

func marshalRaw(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

// ChatPayload is a plain or tool-augmented chat completion request.
type ChatPayload struct {
	Model      string
	Stream     bool
	Messages   []types.ChatMessage
	Tools      []types.ChatTool
	ToolChoice any

	fields map[string]json.RawMessage
}

func (p *ChatPayload) Kind() Kind             { return KindChat }
func (p *ChatPayload) RequestedModel() string { return p.Model }
func (p *ChatPayload) Streaming() bool        { return p.Stream }

// Body builds the outbound upstream request. Unknown client fields pass
// through untouched; the inbound document is not modified.
func (p *ChatPayload) Body() map[string]json.RawMessage {
	out := maps.Clone(p.fields)
	out["model"] = marshalRaw(p.Model)
	if len(p.Tools) == 0 {
		delete(out, "tools")
		delete(out, "tool_choice")
	}
	return out
}

func (d *Detector) chat(fields map[string]json.RawMessage, messages []types.ChatMessage) (*ChatPayload, error) {
	p := &ChatPayload{
		Model:    stringField(fields, "model"),
		Stream:   boolField(fields, "stream"),
		Messages: messages,
		fields:   fields,
	}
	if p.Model == "" {
		p.Model = d.Config.ChatModel
	}

	if raw, ok := present(fields, "tools"); ok {
		if err := json.Unmarshal(raw, &p.Tools); err != nil {
			return nil, codec.BadRequest("invalid_tools", "tools must be an array of tool objects")
		}
	}
	if len(p.Tools) == 0 {
		return p, nil
	}
	if !d.Config.ToolCallingEnabled {
		return nil, codec.Forbidden("tool_calling_disabled",
			"Tool calling is disabled on this server. Set XAI_TOOL_CALLING_ENABLED=true to enable.")
	}
	if raw, ok := present(fields, "tool_choice"); ok {
		if err := json.Unmarshal(raw, &p.ToolChoice); err != nil {
			return nil, codec.BadRequest("invalid_tool_choice", "tool_choice is not valid JSON")
		}
	}
	if err := d.Validator.ValidateTools(p.Tools); err != nil {
		return nil, toolError(err)
	}
	if err := d.Validator.ValidateToolChoice(p.ToolChoice, p.Tools); err != nil {
		return nil, toolError(err)
	}
	return p, nil
}

func toolError(err error) *codec.APIError {
	apiErr := codec.BadRequest("invalid_tools", "%s", err.Error())
	apiErr.Err = err
	return apiErr
}
