// Package pipeline runs each gateway operation: detect and translate the
// inbound body, make one upstream call, and reconcile or relay the answer.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/n0madic/go-xaigate/internal/codec"
	"github.com/n0madic/go-xaigate/internal/config"
	"github.com/n0madic/go-xaigate/internal/metrics"
	"github.com/n0madic/go-xaigate/internal/normalize"
	"github.com/n0madic/go-xaigate/internal/sse"
	"github.com/n0madic/go-xaigate/internal/toolcheck"
	"github.com/n0madic/go-xaigate/internal/upstream"
)

// Upstream endpoints, relative to the configured API base.
const (
	endpointChat      = "chat/completions"
	endpointResponses = "responses"
	endpointImages    = "images/generations"
)

// FallbackHeader marks a streaming request that was answered as one JSON
// document because its shape cannot be streamed.
const (
	FallbackHeader = "X-Stream-Fallback"
	fallbackVision = "vision-unsupported"
)

// Pipeline orchestrates request processing through the
// detect → translate → upstream → reconcile/relay flow.
type Pipeline struct {
	Config   *config.ServerConfig
	Detector *normalize.Detector
	Upstream *upstream.Client
	Metrics  *metrics.Collector
}

// New wires a pipeline around an upstream client.
func New(cfg *config.ServerConfig, up *upstream.Client, m *metrics.Collector) *Pipeline {
	return &Pipeline{
		Config:   cfg,
		Detector: normalize.New(cfg),
		Upstream: up,
		Metrics:  m,
	}
}

// Execute handles a chat completion or responses creation body.
func (p *Pipeline) Execute(ctx context.Context, w http.ResponseWriter, body []byte, route normalize.Route) {
	payload, err := p.Detector.Detect(body, route)
	if err != nil {
		p.reject(w, err)
		return
	}

	if p.Config.Verbose {
		slog.Info(string(route)+".request",
			"kind", payload.Kind().String(),
			"model", payload.RequestedModel(),
			"stream", payload.Streaming(),
		)
	}

	switch pl := payload.(type) {
	case *normalize.ChatPayload:
		if pl.Stream {
			p.relay(ctx, w, endpointChat, pl.Body(), sse.Options{
				Envelope:       codec.NewEnvelope(codec.FamilyChatChunk, pl.Model),
				StripReasoning: true,
			})
			return
		}
		p.unary(ctx, w, endpointChat, pl.Body(), codec.Envelope{Family: codec.FamilyChat, Model: pl.Model})

	case *normalize.VisionPayload:
		p.visionChat(ctx, w, pl)

	case *normalize.ResponsesPayload:
		if pl.Stream {
			p.relay(ctx, w, endpointResponses, pl.Body(), sse.Options{
				Envelope: codec.NewEnvelope(codec.FamilyResponseChunk, pl.Model),
			})
			return
		}
		p.unary(ctx, w, endpointResponses, pl.Body(), codec.Envelope{Family: codec.FamilyResponse, Model: pl.Model})
	}
}

// visionChat answers a vision-shaped chat request. Streaming is not
// supported for this shape, so a streaming request silently falls back to
// one unary call and is flagged with FallbackHeader.
func (p *Pipeline) visionChat(ctx context.Context, w http.ResponseWriter, pl *normalize.VisionPayload) {
	if pl.Stream {
		slog.Info("stream.fallback", "reason", fallbackVision, "model", pl.Model)
		p.Metrics.StreamFallback()
		w.Header().Set(FallbackHeader, fallbackVision)
	}

	doc, err := p.Upstream.Call(ctx, http.MethodPost, endpointChat, pl.Body(), nil)
	if err != nil {
		codec.WriteError(w, upstreamError(err, ""))
		return
	}
	resp, err := codec.ChatFromVision(doc, pl.Model)
	if err != nil {
		codec.WriteError(w, malformedUpstream(err))
		return
	}
	codec.WriteJSON(w, http.StatusOK, resp)
}

// AnalyzeImage handles the dedicated vision endpoint.
func (p *Pipeline) AnalyzeImage(ctx context.Context, w http.ResponseWriter, body []byte) {
	pl, err := p.Detector.VisionAnalyze(body)
	if err != nil {
		p.reject(w, err)
		return
	}
	doc, err := p.Upstream.Call(ctx, http.MethodPost, endpointChat, pl.Body(), nil)
	if err != nil {
		codec.WriteError(w, upstreamError(err, ""))
		return
	}
	res, err := codec.VisionResult(doc, pl.Model)
	if err != nil {
		codec.WriteError(w, malformedUpstream(err))
		return
	}
	codec.WriteJSON(w, http.StatusOK, res)
}

// GenerateImage handles image generation.
func (p *Pipeline) GenerateImage(ctx context.Context, w http.ResponseWriter, body []byte) {
	pl, err := p.Detector.ImageGeneration(body)
	if err != nil {
		p.reject(w, err)
		return
	}
	p.unary(ctx, w, endpointImages, pl.Body(), codec.Envelope{Family: codec.FamilyImage, Model: pl.Request.Model})
}

// RetrieveResponse fetches a stored response by id.
func (p *Pipeline) RetrieveResponse(ctx context.Context, w http.ResponseWriter, id string) {
	doc, err := p.Upstream.Call(ctx, http.MethodGet, endpointResponses+"/"+url.PathEscape(id), nil, nil)
	if err != nil {
		codec.WriteError(w, upstreamError(err, id))
		return
	}
	out, err := codec.Hydrate(doc, codec.Envelope{Family: codec.FamilyResponse, ID: id})
	if err != nil {
		codec.WriteError(w, malformedUpstream(err))
		return
	}
	codec.WriteRawJSON(w, http.StatusOK, out)
}

// DeleteResponse removes a stored response. The provider may answer with
// an empty body; the caller always gets a response.deleted document.
func (p *Pipeline) DeleteResponse(ctx context.Context, w http.ResponseWriter, id string) {
	doc, err := p.Upstream.Call(ctx, http.MethodDelete, endpointResponses+"/"+url.PathEscape(id), nil, nil)
	if err != nil {
		codec.WriteError(w, upstreamError(err, id))
		return
	}
	codec.WriteRawJSON(w, http.StatusOK, deletedDocument(doc, id))
}

func deletedDocument(doc []byte, id string) []byte {
	if !gjson.ValidBytes(doc) || !gjson.ParseBytes(doc).IsObject() {
		doc = []byte(`{}`)
	}
	for _, field := range []struct {
		path  string
		value any
	}{
		{"id", id},
		{"object", "response.deleted"},
		{"deleted", true},
	} {
		if gjson.GetBytes(doc, field.path).Exists() {
			continue
		}
		if next, err := sjson.SetBytes(doc, field.path, field.value); err == nil {
			doc = next
		}
	}
	return doc
}

func (p *Pipeline) unary(ctx context.Context, w http.ResponseWriter, endpoint string, body any, env codec.Envelope) {
	doc, err := p.Upstream.Call(ctx, http.MethodPost, endpoint, body, nil)
	if err != nil {
		codec.WriteError(w, upstreamError(err, ""))
		return
	}
	out, err := codec.Hydrate(doc, env)
	if err != nil {
		codec.WriteError(w, malformedUpstream(err))
		return
	}
	codec.WriteRawJSON(w, http.StatusOK, out)
}

func (p *Pipeline) relay(ctx context.Context, w http.ResponseWriter, endpoint string, body any, opts sse.Options) {
	src := p.Upstream.Stream(ctx, endpoint, body)
	res := sse.Relay(ctx, w, src, opts)
	if p.Config.Verbose {
		slog.Info("stream.finished", "endpoint", endpoint, "outcome", string(res.Outcome), "events", res.Events)
	}
}

// reject writes a detection failure, counting tool rule violations.
func (p *Pipeline) reject(w http.ResponseWriter, err error) {
	var ve *toolcheck.ValidationError
	if errors.As(err, &ve) {
		p.Metrics.ToolRejected(ve.Rule)
	}
	codec.WriteError(w, err)
}

// upstreamError maps an upstream failure to the outward error. An explicit
// provider 404 on a lookup by id stays a 404; everything else is a 502.
func upstreamError(err error, lookupID string) *codec.APIError {
	var upErr *upstream.Error
	if !errors.As(err, &upErr) {
		return codec.AsAPIError(err)
	}
	if lookupID != "" && upErr.NotFound() {
		return &codec.APIError{
			Status:  http.StatusNotFound,
			Type:    codec.TypeInvalidRequest,
			Code:    "response_not_found",
			Message: "Response not found: " + lookupID,
			Err:     err,
		}
	}
	return &codec.APIError{
		Status:  http.StatusBadGateway,
		Type:    codec.TypeUpstream,
		Code:    "upstream_error",
		Message: upErr.Error(),
		Err:     err,
	}
}

func malformedUpstream(err error) *codec.APIError {
	return &codec.APIError{
		Status:  http.StatusBadGateway,
		Type:    codec.TypeUpstream,
		Code:    "invalid_upstream_response",
		Message: "upstream returned an unexpected document",
		Err:     err,
	}
}
