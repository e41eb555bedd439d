package upstream

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/brotli"
	"golang.org/x/oauth2"

	"github.com/n0madic/go-xaigate/internal/codec"
	"github.com/n0madic/go-xaigate/internal/config"
	"github.com/n0madic/go-xaigate/internal/metrics"
)

const (
	// unaryTimeout bounds a single JSON request/response exchange.
	unaryTimeout = 60 * time.Second
	// streamTimeout bounds the whole life of a streamed answer.
	streamTimeout = 300 * time.Second

	maxErrorBodyBytes = 1 << 20
)

// Error is the uniform upstream fault. StatusCode is 0 for transport
// failures (DNS, connect, timeout, broken body).
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	if e.StatusCode == 0 {
		return "upstream request failed: " + e.Message
	}
	return fmt.Sprintf("upstream returned HTTP %d: %s", e.StatusCode, e.Message)
}

// NotFound reports whether the provider explicitly answered 404.
func (e *Error) NotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// Client issues authenticated calls to the upstream provider. No call is
// ever retried.
type Client struct {
	BaseURL string
	Verbose bool
	Debug   bool
	Metrics *metrics.Collector

	unary  *http.Client
	stream *http.Client
	dumpMu sync.Mutex
}

// NewClient creates an upstream client authenticated with cfg.APIKey.
func NewClient(cfg *config.ServerConfig, m *metrics.Collector) *Client {
	return newClient(cfg, m, http.DefaultTransport)
}

func newClient(cfg *config.ServerConfig, m *metrics.Collector, base http.RoundTripper) *Client {
	transport := &oauth2.Transport{
		Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.APIKey, TokenType: "Bearer"}),
		Base:   base,
	}
	return &Client{
		BaseURL: strings.TrimRight(cfg.APIBase, "/"),
		Verbose: cfg.Verbose,
		Debug:   cfg.Debug,
		Metrics: m,
		unary:   &http.Client{Transport: transport, Timeout: unaryTimeout},
		stream:  &http.Client{Transport: transport, Timeout: streamTimeout},
	}
}

// Call performs one unary request and returns the decoded response body.
// body may be nil, raw JSON bytes, or any JSON-marshalable value.
func (c *Client) Call(ctx context.Context, method, endpoint string, body any, query url.Values) ([]byte, error) {
	start := time.Now()
	label := metricEndpoint(endpoint)
	resp, err := c.send(ctx, c.unary, method, endpoint, body, query, "application/json")
	if err != nil {
		c.Metrics.ObserveUpstream(label, "transport_error", time.Since(start))
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		c.Metrics.ObserveUpstream(label, "transport_error", time.Since(start))
		return nil, &Error{Message: "reading upstream response: " + err.Error()}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.Metrics.ObserveUpstream(label, "http_error", time.Since(start))
		if c.Verbose {
			slog.Warn("upstream.error", "endpoint", endpoint, "status", resp.StatusCode, "body", codec.CompactBodyPreview(data, 512))
		}
		return nil, errorFromResponse(resp.StatusCode, data)
	}
	c.Metrics.ObserveUpstream(label, "ok", time.Since(start))
	return data, nil
}

// idCollections are endpoints whose sub-paths name a single stored object.
var idCollections = []string{"responses"}

// metricEndpoint collapses per-object paths to "<collection>/{id}" so the
// endpoint label stays bounded.
func metricEndpoint(endpoint string) string {
	endpoint = strings.Trim(endpoint, "/")
	for _, collection := range idCollections {
		if rest, ok := strings.CutPrefix(endpoint, collection+"/"); ok && rest != "" {
			return collection + "/{id}"
		}
	}
	return endpoint
}

func (c *Client) send(ctx context.Context, hc *http.Client, method, endpoint string, body any, query url.Values, accept string) (*http.Response, error) {
	payload, err := encodeBody(body)
	if err != nil {
		return nil, &Error{Message: "encoding request body: " + err.Error()}
	}

	target := c.BaseURL + "/" + strings.TrimLeft(endpoint, "/")
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, &Error{Message: err.Error()}
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("Accept-Encoding", "br, gzip")

	if c.Verbose {
		slog.Info("upstream.request", "method", method, "endpoint", endpoint, "bytes", len(payload))
	}
	c.dumpUpstreamRequest(req, payload)

	resp, err := hc.Do(req)
	if err != nil {
		return nil, &Error{Message: transportMessage(ctx, err)}
	}
	if c.Verbose {
		attrs := []any{"endpoint", endpoint, "status", resp.StatusCode}
		if requestID := upstreamRequestID(resp.Header); requestID != "" {
			attrs = append(attrs, "request_id", requestID)
		}
		slog.Info("upstream.response", attrs...)
	}

	if err := decodeContentEncoding(resp); err != nil {
		resp.Body.Close()
		return nil, &Error{Message: err.Error()}
	}
	c.dumpUpstreamResponse(resp)
	return resp, nil
}

func encodeBody(body any) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case json.RawMessage:
		return b, nil
	default:
		return json.Marshal(b)
	}
}

// decodeContentEncoding swaps resp.Body for a decompressing reader when the
// provider compressed the answer.
func decodeContentEncoding(resp *http.Response) error {
	encoding := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding")))
	switch encoding {
	case "", "identity":
		return nil
	case "br":
		resp.Body = readCloser{Reader: brotli.NewReader(resp.Body), closer: resp.Body}
	case "gzip":
		zr, err := gzip.NewReader(resp.Body)
		if err != nil {
			return fmt.Errorf("decoding gzip upstream body: %w", err)
		}
		resp.Body = readCloser{Reader: zr, closer: resp.Body}
	default:
		return fmt.Errorf("unsupported upstream content encoding %q", encoding)
	}
	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	return nil
}

type readCloser struct {
	io.Reader
	closer io.Closer
}

func (r readCloser) Close() error { return r.closer.Close() }

func errorFromResponse(status int, body []byte) *Error {
	if len(body) > maxErrorBodyBytes {
		body = body[:maxErrorBodyBytes]
	}
	msg := codec.ExtractUpstreamErrorMessage(body)
	if msg == "" {
		msg = http.StatusText(status)
	}
	if msg == "" {
		msg = fmt.Sprintf("status %d", status)
	}
	return &Error{StatusCode: status, Message: msg}
}

func transportMessage(ctx context.Context, err error) string {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr.Error()
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return "timed out waiting for upstream"
	}
	return err.Error()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v != "" {
			return v
		}
	}
	return ""
}

func upstreamRequestID(headers http.Header) string {
	if headers == nil {
		return ""
	}
	return firstNonEmpty(
		headers.Get("x-request-id"),
		headers.Get("x-xai-request-id"),
		headers.Get("request-id"),
		headers.Get("cf-ray"),
	)
}
