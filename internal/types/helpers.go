package types

import "encoding/json"

// StringPtr returns a pointer to the given string.
func StringPtr(s string) *string {
	return &s
}

// IntFromAny converts a JSON-decoded numeric value to int.
// Handles float64, int, and json.Number (all common from json.Unmarshal).
func IntFromAny(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	case json.Number:
		i, _ := n.Int64()
		return int(i)
	}
	return 0
}

// UsageFromMap reads a chat-style usage object, accepting Responses-style
// input/output token names as a fallback. Returns nil for a nil map.
func UsageFromMap(m map[string]any) *Usage {
	if m == nil {
		return nil
	}
	pt := IntFromAny(m["prompt_tokens"])
	if pt == 0 {
		pt = IntFromAny(m["input_tokens"])
	}
	ct := IntFromAny(m["completion_tokens"])
	if ct == 0 {
		ct = IntFromAny(m["output_tokens"])
	}
	tt := IntFromAny(m["total_tokens"])
	if tt == 0 {
		tt = pt + ct
	}
	return &Usage{PromptTokens: pt, CompletionTokens: ct, TotalTokens: tt}
}
