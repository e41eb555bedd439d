package normalize

import (
	"encoding/json"
	"maps"

	"github.com/n0madic/go-xaigate/internal/codec"
	"github.com/n0madic/go-xaigate/internal/types"
)

// nativeToolTypes are executed by the provider rather than the caller.
var nativeToolTypes = map[string]bool{
	"web_search":         true,
	"x_search":           true,
	"code_execution":     true,
	"code_interpreter":   true,
	"file_search":        true,
	"collections_search": true,
	"mcp":                true,
}

// IsNativeTool reports whether a Responses tool type runs on the provider.
func IsNativeTool(toolType string) bool {
	return nativeToolTypes[toolType]
}

// ResponsesPayload is a request for the stateful responses API.
type ResponsesPayload struct {
	Model  string
	Stream bool
	Tools  []types.ResponsesTool
	// Native is true when at least one provider-executed tool was declared.
	Native bool

	fields map[string]json.RawMessage
}

func (p *ResponsesPayload) Kind() Kind             { return KindResponses }
func (p *ResponsesPayload) RequestedModel() string { return p.Model }
func (p *ResponsesPayload) Streaming() bool        { return p.Stream }

// Body builds the outbound request. store defaults to true so follow-up
// retrieve and delete calls can find the response.
func (p *ResponsesPayload) Body() map[string]json.RawMessage {
	out := maps.Clone(p.fields)
	if len(p.Tools) == 0 {
		delete(out, "tools")
		delete(out, "tool_choice")
	}
	if _, ok := present(out, "store"); !ok {
		out["store"] = json.RawMessage("true")
	}
	return out
}

func (d *Detector) responses(fields map[string]json.RawMessage) (*ResponsesPayload, error) {
	p := &ResponsesPayload{
		Model:  stringField(fields, "model"),
		Stream: boolField(fields, "stream"),
		fields: fields,
	}
	if p.Model == "" {
		return nil, codec.BadRequest("missing_model", "Model field is required for Responses API")
	}
	if _, ok := present(fields, "input"); !ok {
		return nil, codec.BadRequest("missing_input", "Input field is required for Responses API (use 'input' instead of 'messages')")
	}

	if raw, ok := present(fields, "tools"); ok {
		if err := json.Unmarshal(raw, &p.Tools); err != nil {
			return nil, codec.BadRequest("invalid_tools", "tools must be an array of tool objects")
		}
	}
	if len(p.Tools) == 0 {
		return p, nil
	}

	var functions []types.ChatTool
	for _, tool := range p.Tools {
		switch {
		case IsNativeTool(tool.Type):
			p.Native = true
		case tool.Type == "function":
			functions = append(functions, tool.AsChatTool())
		}
	}
	if p.Native && !d.Config.NativeToolsEnabled {
		return nil, codec.Forbidden("native_tools_disabled",
			"Native agentic tools are disabled on this server. Set XAI_NATIVE_TOOLS_ENABLED=true to enable.")
	}
	if len(functions) == 0 {
		return p, nil
	}
	if !d.Config.ToolCallingEnabled {
		return nil, codec.Forbidden("tool_calling_disabled",
			"Tool calling is disabled on this server. Set XAI_TOOL_CALLING_ENABLED=true to enable.")
	}
	if err := d.Validator.ValidateTools(functions); err != nil {
		return nil, toolError(err)
	}
	return p, nil
}
