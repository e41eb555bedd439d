// Package sse relays upstream event streams to the caller as OpenAI-style
// server-sent events.
package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/n0madic/go-xaigate/internal/codec"
	"github.com/n0madic/go-xaigate/internal/reasoning"
	"github.com/n0madic/go-xaigate/internal/upstream"
)

const doneEvent = "data: [DONE]\n\n"

// Source yields upstream JSON fragments. *upstream.Stream implements it.
type Source interface {
	Next() bool
	Fragment() json.RawMessage
	Close() error
}

// Options controls how fragments are reconciled before emission.
type Options struct {
	// Envelope pins id, created and model for every fragment of the stream.
	Envelope codec.Envelope
	// StripReasoning removes reasoning traces from chat deltas.
	StripReasoning bool
}

// Outcome summarizes how a relay ended.
type Outcome string

const (
	OutcomeDone      Outcome = "done"
	OutcomeError     Outcome = "error"
	OutcomeCancelled Outcome = "cancelled"
)

// Result reports what the relay emitted.
type Result struct {
	Events  int
	Outcome Outcome
	// Message is the upstream fault message when Outcome is OutcomeError.
	Message string
}

// Relay copies src to w as SSE. The first fragment is pulled before any
// header is written, so a fault before the first event is answered as a 502
// error document instead of an event stream. A later sentinel ends the
// stream with one error event and no [DONE]; a normal end emits [DONE].
// When ctx is done the relay stops without writing anything further. src is
// always closed.
func Relay(ctx context.Context, w http.ResponseWriter, src Source, opts Options) Result {
	defer src.Close()

	var res Result
	if ctx.Err() != nil {
		res.Outcome = OutcomeCancelled
		return res
	}
	more := src.Next()
	if more {
		if msg, ok := upstream.SentinelMessage(src.Fragment()); ok {
			if ctx.Err() != nil {
				res.Outcome = OutcomeCancelled
				return res
			}
			codec.WriteError(w, &codec.APIError{
				Status:  http.StatusBadGateway,
				Type:    codec.TypeUpstream,
				Code:    "upstream_error",
				Message: msg,
			})
			res.Outcome = OutcomeError
			res.Message = msg
			return res
		}
	}

	flusher, _ := w.(http.Flusher)
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flush(flusher)

	for ; more; more = src.Next() {
		if ctx.Err() != nil {
			res.Outcome = OutcomeCancelled
			return res
		}
		frag := src.Fragment()

		if msg, ok := upstream.SentinelMessage(frag); ok {
			slog.Warn("stream.upstream_error", "error", msg, "events", res.Events)
			writeEvent(w, flusher, streamErrorBody(msg))
			res.Outcome = OutcomeError
			res.Message = msg
			return res
		}

		out := reconcile(frag, opts)
		if err := writeEvent(w, flusher, out); err != nil {
			slog.Debug("stream.client_gone", "error", err, "events", res.Events)
			res.Outcome = OutcomeCancelled
			return res
		}
		res.Events++
	}

	if ctx.Err() != nil {
		res.Outcome = OutcomeCancelled
		return res
	}
	if _, err := io.WriteString(w, doneEvent); err == nil {
		flush(flusher)
	}
	res.Outcome = OutcomeDone
	return res
}

// reconcile applies the shared hydration step and, for chat, reasoning
// stripping. Fragments that are not JSON objects pass through unchanged.
func reconcile(frag []byte, opts Options) []byte {
	out, err := codec.Hydrate(frag, opts.Envelope)
	if err != nil {
		return frag
	}
	if opts.StripReasoning {
		if stripped, err := reasoning.StripDelta(out); err == nil {
			out = stripped
		}
	}
	return out
}

func streamErrorBody(msg string) []byte {
	body, _ := json.Marshal(codec.ErrorBody(&codec.APIError{
		Type:    codec.TypeUpstream,
		Code:    "stream_error",
		Message: msg,
	}))
	return body
}

func writeEvent(w io.Writer, flusher http.Flusher, data []byte) error {
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	flush(flusher)
	return nil
}

func flush(f http.Flusher) {
	if f != nil {
		f.Flush()
	}
}
