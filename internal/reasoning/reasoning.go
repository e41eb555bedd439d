// Package reasoning removes provider reasoning traces from streamed chat
// deltas before they reach the caller.
package reasoning

import (
	"strconv"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// traceFields are delta keys that carry internal reasoning text.
var traceFields = []string{"reasoning_content", "reasoning"}

const emptyContentDelta = `{"content":""}`

// StripDelta removes reasoning fields from every choices[].delta of a chat
// completion chunk. A delta left empty by stripping becomes
// {"content":""} so clients that index delta.content never see a missing
// key. Chunks without choices are returned unchanged.
func StripDelta(chunk []byte) ([]byte, error) {
	choices := gjson.GetBytes(chunk, "choices")
	if !choices.IsArray() {
		return chunk, nil
	}

	out := chunk
	var err error
	for i, choice := range choices.Array() {
		delta := choice.Get("delta")
		if !delta.IsObject() {
			continue
		}
		base := "choices." + strconv.Itoa(i) + ".delta"
		stripped := false
		for _, field := range traceFields {
			if !delta.Get(field).Exists() {
				continue
			}
			if out, err = sjson.DeleteBytes(out, base+"."+field); err != nil {
				return nil, err
			}
			stripped = true
		}
		if stripped && len(gjson.GetBytes(out, base).Map()) == 0 {
			if out, err = sjson.SetRawBytes(out, base, []byte(emptyContentDelta)); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}
