package stream

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"strings"
)

// Reader reads SSE events from an io.Reader. Heartbeat comments, empty
// events and payloads that are not valid JSON are skipped; the [DONE]
// marker ends the stream.
type Reader struct {
	scanner *bufio.Scanner
}

// NewReader creates a new SSE reader.
func NewReader(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 256*1024), 4*1024*1024)
	return &Reader{scanner: scanner}
}

// Next returns the next SSE event. Returns nil, io.EOF when done.
func (r *Reader) Next() (*Event, error) {
	var (
		name string
		data []string
	)
	for {
		line, ok := r.readLine()
		if !ok {
			if err := r.scanner.Err(); err != nil {
				return nil, err
			}
			// A final event without its blank-line terminator still counts.
			if evt, _ := r.dispatch(name, data); evt != nil {
				return evt, nil
			}
			return nil, io.EOF
		}

		if line == "" {
			evt, done := r.dispatch(name, data)
			if done {
				return nil, io.EOF
			}
			name, data = "", data[:0]
			if evt != nil {
				return evt, nil
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			name = strings.TrimSpace(value)
		case "data":
			data = append(data, value)
		}
	}
}

func (r *Reader) readLine() (string, bool) {
	if !r.scanner.Scan() {
		return "", false
	}
	return strings.TrimRight(r.scanner.Text(), "\r"), true
}

// dispatch turns accumulated data lines into an Event. done reports the
// end-of-stream marker.
func (r *Reader) dispatch(name string, data []string) (evt *Event, done bool) {
	if len(data) == 0 {
		return nil, false
	}
	payload := strings.TrimSpace(strings.Join(data, "\n"))
	if payload == "" {
		return nil, false
	}
	if payload == "[DONE]" {
		return nil, true
	}
	raw := []byte(payload)
	if !json.Valid(raw) {
		return nil, false
	}
	if name == "" {
		var probe struct {
			Type string `json:"type"`
		}
		if bytes.HasPrefix(raw, []byte("{")) {
			_ = json.Unmarshal(raw, &probe)
		}
		name = probe.Type
	}
	return &Event{Type: name, Raw: json.RawMessage(raw)}, false
}
