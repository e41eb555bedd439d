package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/n0madic/go-xaigate/internal/codec"
	"github.com/n0madic/go-xaigate/internal/stream"
)

// Stream is a lazy sequence of upstream JSON fragments. The connection is
// opened on the first call to Next. Any fault (open failure, non-2xx status,
// broken body, provider error event) is reported as exactly one sentinel
// fragment {"error":true,"message":...}, after which Next returns false.
type Stream struct {
	client   *Client
	ctx      context.Context
	endpoint string
	body     any

	opened  bool
	done    bool
	resp    *http.Response
	reader  *stream.Reader
	current json.RawMessage
	start   time.Time
	outcome string
}

// Stream prepares a streaming POST to endpoint. Nothing is sent until Next.
func (c *Client) Stream(ctx context.Context, endpoint string, body any) *Stream {
	return &Stream{client: c, ctx: ctx, endpoint: endpoint, body: body}
}

// Next advances to the next fragment.
func (s *Stream) Next() bool {
	if s.done {
		return false
	}
	if !s.opened {
		s.opened = true
		s.start = time.Now()
		if !s.open() {
			return true
		}
	}

	evt, err := s.reader.Next()
	if err != nil {
		if errors.Is(err, io.EOF) {
			s.finish("ok")
			return false
		}
		s.fail("transport_error", transportMessage(s.ctx, err))
		return true
	}
	if msg, ok := providerError(evt); ok {
		s.fail("http_error", msg)
		return true
	}
	s.current = evt.Raw
	return true
}

// Fragment returns the fragment produced by the last successful Next.
func (s *Stream) Fragment() json.RawMessage {
	return s.current
}

// Close releases the upstream connection. It is safe to call more than once.
func (s *Stream) Close() error {
	s.done = true
	if s.resp == nil {
		return nil
	}
	err := s.resp.Body.Close()
	s.resp = nil
	if s.outcome == "" && s.opened {
		s.outcome = "cancelled"
		s.client.Metrics.ObserveUpstream(metricEndpoint(s.endpoint), s.outcome, time.Since(s.start))
	}
	return err
}

func (s *Stream) open() bool {
	resp, err := s.client.send(s.ctx, s.client.stream, http.MethodPost, s.endpoint, s.body, nil, "text/event-stream")
	if err != nil {
		var upErr *Error
		msg := err.Error()
		if errors.As(err, &upErr) {
			msg = upErr.Message
		}
		s.fail("transport_error", msg)
		return false
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		resp.Body.Close()
		s.fail("http_error", errorFromResponse(resp.StatusCode, data).Message)
		return false
	}
	s.resp = resp
	s.reader = stream.NewReader(resp.Body)
	return true
}

func (s *Stream) fail(outcome, message string) {
	s.current = ErrorSentinel(message)
	s.finish(outcome)
}

func (s *Stream) finish(outcome string) {
	if s.outcome == "" {
		s.outcome = outcome
		s.client.Metrics.ObserveUpstream(metricEndpoint(s.endpoint), outcome, time.Since(s.start))
	}
	s.done = true
	if s.resp != nil {
		s.resp.Body.Close()
		s.resp = nil
	}
}

// ErrorSentinel builds the in-band fault fragment.
func ErrorSentinel(message string) json.RawMessage {
	doc, _ := json.Marshal(struct {
		Error   bool   `json:"error"`
		Message string `json:"message"`
	}{Error: true, Message: message})
	return doc
}

// SentinelMessage reports whether frag is an error sentinel and returns its
// message.
func SentinelMessage(frag json.RawMessage) (string, bool) {
	if gjson.GetBytes(frag, "error").Type != gjson.True {
		return "", false
	}
	return gjson.GetBytes(frag, "message").String(), true
}

// providerError detects an error sent by the provider inside the event
// stream: either an event named "error" or a payload carrying an error
// field.
func providerError(evt *stream.Event) (string, bool) {
	if evt.Type == "error" {
		if msg := codec.ExtractUpstreamErrorMessage(evt.Raw); msg != "" {
			return msg, true
		}
		return "upstream stream error", true
	}
	frag := evt.Raw
	errField := gjson.GetBytes(frag, "error")
	if !errField.Exists() || errField.Type == gjson.Null || errField.Type == gjson.False {
		return "", false
	}
	if errField.Type == gjson.True {
		msg := gjson.GetBytes(frag, "message").String()
		if msg == "" {
			msg = "upstream stream error"
		}
		return msg, true
	}
	if msg := codec.ExtractUpstreamErrorMessage(frag); msg != "" {
		return msg, true
	}
	return "upstream stream error", true
}
