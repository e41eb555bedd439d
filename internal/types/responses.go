package types

// ResponsesTool represents a tool in the Responses API format. Function tools
// carry Name/Description/Parameters flat; OpenAI-style nested function blocks
// are accepted as well.
type ResponsesTool struct {
	Type        string       `json:"type"`
	Name        string       `json:"name,omitempty"`
	Description string       `json:"description,omitempty"`
	Parameters  any          `json:"parameters,omitempty"`
	Function    *FunctionDef `json:"function,omitempty"`
}

// AsChatTool returns the function declaration in chat-tool form so the same
// validator can check both surfaces.
func (t ResponsesTool) AsChatTool() ChatTool {
	if t.Function != nil {
		return ChatTool{Type: t.Type, Function: t.Function}
	}
	return ChatTool{
		Type: t.Type,
		Function: &FunctionDef{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		},
	}
}

