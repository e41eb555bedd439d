package stream

import (
	"errors"
	"io"
	"strings"
	"testing"
)

type failingReader struct {
	data []byte
	err  error
}

func (f *failingReader) Read(p []byte) (int, error) {
	if len(f.data) == 0 {
		return 0, f.err
	}
	n := copy(p, f.data)
	f.data = f.data[n:]
	return n, nil
}

func TestReader(t *testing.T) {
	stream := `data: {"id":"c1","choices":[{"delta":{"content":"Hello"}}]}

data: {"choices":[{"delta":{"content":" world"}}]}

event: response.completed
data: {"response":{"id":"resp_123"}}

data: [DONE]

data: {"after":"done"}

`
	reader := NewReader(strings.NewReader(stream))

	evt, err := reader.Next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(evt.Raw) != `{"id":"c1","choices":[{"delta":{"content":"Hello"}}]}` {
		t.Errorf("unexpected raw payload: %s", evt.Raw)
	}

	if _, err = reader.Next(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	evt, err = reader.Next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if evt.Type != "response.completed" {
		t.Errorf("expected event name response.completed, got %q", evt.Type)
	}

	if _, err = reader.Next(); err != io.EOF {
		t.Errorf("expected io.EOF at [DONE], got %v", err)
	}
}

func TestReaderSkipsHeartbeatsAndGarbage(t *testing.T) {
	stream := ": ping\n\n" +
		"data:\n\n" +
		"data: not-json\n\n" +
		"retry: 1000\n\n" +
		"data:{\"type\":\"x\",\"n\":1}\r\n\r\n"
	reader := NewReader(strings.NewReader(stream))

	evt, err := reader.Next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if evt.Type != "x" {
		t.Errorf("type should fall back to payload field, got %q", evt.Type)
	}
	if _, err := reader.Next(); err != io.EOF {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

func TestReaderJoinsMultilineData(t *testing.T) {
	stream := "data: {\"a\":\ndata: 1}\n\n"
	evt, err := NewReader(strings.NewReader(stream)).Next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(evt.Raw) != "{\"a\":\n1}" {
		t.Errorf("unexpected payload %q", evt.Raw)
	}
}

func TestReaderFinalEventWithoutTerminator(t *testing.T) {
	evt, err := NewReader(strings.NewReader(`data: {"last":true}`)).Next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(evt.Raw) != `{"last":true}` {
		t.Errorf("unexpected payload %s", evt.Raw)
	}
}

func TestReaderSurfacesReadErrors(t *testing.T) {
	boom := errors.New("connection reset")
	r := &failingReader{data: []byte("data: {\"ok\":1}\n\n"), err: boom}
	reader := NewReader(r)

	if _, err := reader.Next(); err != nil {
		t.Fatalf("first event: unexpected error %v", err)
	}
	if _, err := reader.Next(); !errors.Is(err, boom) {
		t.Fatalf("expected read error, got %v", err)
	}
}
