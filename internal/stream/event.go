package stream

import "encoding/json"

// Event represents a single SSE event from the upstream. Type is the SSE
// event name, or the payload's "type" field when no name was sent.
type Event struct {
	Type string
	Raw  json.RawMessage
}
