package sse

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/n0madic/go-xaigate/internal/codec"
	"github.com/n0madic/go-xaigate/internal/upstream"
)

type sliceSource struct {
	frags  []string
	pos    int
	closed bool
	// onNext runs before each fragment is returned.
	onNext func(i int)
}

func (s *sliceSource) Next() bool {
	if s.pos >= len(s.frags) {
		return false
	}
	if s.onNext != nil {
		s.onNext(s.pos)
	}
	s.pos++
	return true
}

func (s *sliceSource) Fragment() json.RawMessage { return json.RawMessage(s.frags[s.pos-1]) }

func (s *sliceSource) Close() error {
	s.closed = true
	return nil
}

// events splits an SSE body into its data payloads.
func events(body string) []string {
	var out []string
	for _, block := range strings.Split(body, "\n\n") {
		if data, ok := strings.CutPrefix(block, "data: "); ok {
			out = append(out, data)
		}
	}
	return out
}

func TestRelayChatStream(t *testing.T) {
	src := &sliceSource{frags: []string{
		`{"choices":[{"index":0,"delta":{"role":"assistant","reasoning_content":"hmm"}}]}`,
		`{"choices":[{"index":0,"delta":{"reasoning_content":"still thinking"}}]}`,
		`{"choices":[{"index":0,"delta":{"content":"Hel"}}]}`,
		`{"choices":[{"index":0,"delta":{"content":"lo"}}]}`,
		`{"id":"upstream-id","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
	}}
	rec := httptest.NewRecorder()
	env := codec.NewEnvelope(codec.FamilyChatChunk, "grok-3-mini-beta")

	res := Relay(context.Background(), rec, src, Options{Envelope: env, StripReasoning: true})

	assert.Equal(t, OutcomeDone, res.Outcome)
	assert.Equal(t, 5, res.Events)
	assert.True(t, src.closed)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasSuffix(rec.Body.String(), "data: [DONE]\n\n"))

	evts := events(rec.Body.String())
	require.Len(t, evts, 6)
	assert.Equal(t, "[DONE]", evts[5])

	var text strings.Builder
	for i, e := range evts[:5] {
		doc := gjson.Parse(e)
		assert.Equal(t, "chat.completion.chunk", doc.Get("object").String(), i)
		assert.Equal(t, "grok-3-mini-beta", doc.Get("model").String(), i)
		assert.False(t, doc.Get("choices.0.delta.reasoning_content").Exists(), i)
		text.WriteString(doc.Get("choices.0.delta.content").String())
	}
	assert.Equal(t, "Hello", text.String())

	assert.Equal(t, env.ID, gjson.Get(evts[0], "id").String())
	assert.Equal(t, env.ID, gjson.Get(evts[3], "id").String())
	assert.Equal(t, "upstream-id", gjson.Get(evts[4], "id").String(), "present ids are never replaced")
	assert.True(t, gjson.Get(evts[1], "choices.0.delta.content").Exists(), "stripped delta keeps a content key")
}

func TestRelayResponsesStreamKeepsReasoning(t *testing.T) {
	src := &sliceSource{frags: []string{`{"type":"response.output_text.delta","delta":"x","reasoning":"kept"}`}}
	rec := httptest.NewRecorder()

	Relay(context.Background(), rec, src, Options{Envelope: codec.NewEnvelope(codec.FamilyResponseChunk, "grok-4")})

	evts := events(rec.Body.String())
	require.Len(t, evts, 2)
	doc := gjson.Parse(evts[0])
	assert.Equal(t, "response.chunk", doc.Get("object").String())
	assert.True(t, strings.HasPrefix(doc.Get("id").String(), "resp-"))
	assert.Equal(t, "kept", doc.Get("reasoning").String())
}

func TestRelaySentinelEndsWithoutDone(t *testing.T) {
	src := &sliceSource{frags: []string{
		`{"choices":[{"index":0,"delta":{"content":"par"}}]}`,
		string(upstream.ErrorSentinel("connection reset")),
		`{"choices":[{"index":0,"delta":{"content":"never"}}]}`,
	}}
	rec := httptest.NewRecorder()

	res := Relay(context.Background(), rec, src, Options{Envelope: codec.NewEnvelope(codec.FamilyChatChunk, "m")})

	assert.Equal(t, OutcomeError, res.Outcome)
	assert.Equal(t, "connection reset", res.Message)
	assert.True(t, src.closed)
	assert.NotContains(t, rec.Body.String(), "[DONE]")
	assert.NotContains(t, rec.Body.String(), "never")

	evts := events(rec.Body.String())
	require.Len(t, evts, 2)
	assert.JSONEq(t, `{"error":{"message":"connection reset","type":"upstream_error","code":"stream_error"}}`, evts[1])
}

func TestRelayOpenFailureIsBadGateway(t *testing.T) {
	src := &sliceSource{frags: []string{string(upstream.ErrorSentinel("slow down"))}}
	rec := httptest.NewRecorder()

	res := Relay(context.Background(), rec, src, Options{Envelope: codec.NewEnvelope(codec.FamilyChatChunk, "m")})

	assert.Equal(t, OutcomeError, res.Outcome)
	assert.Equal(t, 0, res.Events)
	assert.True(t, src.closed)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"error":{"message":"slow down","type":"upstream_error","code":"upstream_error"}}`, rec.Body.String())
}

func TestRelayStopsWhenCallerGoes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	src := &sliceSource{frags: []string{
		`{"choices":[{"index":0,"delta":{"content":"a"}}]}`,
		`{"choices":[{"index":0,"delta":{"content":"b"}}]}`,
		`{"choices":[{"index":0,"delta":{"content":"c"}}]}`,
	}}
	src.onNext = func(i int) {
		if i == 1 {
			cancel()
		}
	}
	rec := httptest.NewRecorder()

	res := Relay(ctx, rec, src, Options{Envelope: codec.NewEnvelope(codec.FamilyChatChunk, "m")})

	assert.Equal(t, OutcomeCancelled, res.Outcome)
	assert.True(t, src.closed)
	assert.Less(t, src.pos, 3, "relay stopped pulling fragments")
	assert.NotContains(t, rec.Body.String(), "[DONE]")
}

func TestRelayPassesThroughNonObjects(t *testing.T) {
	src := &sliceSource{frags: []string{`[1,2,3]`}}
	rec := httptest.NewRecorder()
	Relay(context.Background(), rec, src, Options{Envelope: codec.NewEnvelope(codec.FamilyChatChunk, "m")})
	assert.Equal(t, []string{`[1,2,3]`, `[DONE]`}, events(rec.Body.String()))
}

func TestRelayEmptyStreamStillTerminates(t *testing.T) {
	rec := httptest.NewRecorder()
	res := Relay(context.Background(), rec, &sliceSource{}, Options{})
	assert.Equal(t, OutcomeDone, res.Outcome)
	assert.Equal(t, "data: [DONE]\n\n", rec.Body.String())
}
