// Package metrics exposes gateway counters and latency histograms in the
// Prometheus exposition format.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "xaigate"

// LLM latencies range from sub-second to minutes for long streams.
var durationBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120, 300}

// Collector owns a private registry so tests and embedded servers never
// collide on the global one. All methods are safe on a nil receiver.
type Collector struct {
	registry *prometheus.Registry

	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	upstreamDuration *prometheus.HistogramVec
	streamFallbacks  prometheus.Counter
	toolRejections   *prometheus.CounterVec
	rateLimited      prometheus.Counter
}

// New creates a Collector and registers every metric with a fresh registry.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Inbound requests by route pattern and response status",
			},
			[]string{"route", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Inbound request handling time",
				Buckets:   durationBuckets,
			},
			[]string{"route"},
		),
		upstreamDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "upstream_duration_seconds",
				Help:      "Upstream call time by endpoint and outcome",
				Buckets:   durationBuckets,
			},
			[]string{"endpoint", "outcome"},
		),
		streamFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_fallbacks_total",
			Help:      "Streaming requests answered with a single document instead",
		}),
		toolRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tool_rejections_total",
				Help:      "Requests rejected by tool validation, by rule",
			},
			[]string{"rule"},
		),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter",
		}),
	}
	c.registry.MustRegister(
		c.requestsTotal,
		c.requestDuration,
		c.upstreamDuration,
		c.streamFallbacks,
		c.toolRejections,
		c.rateLimited,
	)
	return c
}

// Registry returns the collector's registry.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the registry at /metrics.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}

// ObserveRequest records one finished inbound request.
func (c *Collector) ObserveRequest(route string, status int, d time.Duration) {
	if c == nil {
		return
	}
	c.requestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
	c.requestDuration.WithLabelValues(route).Observe(d.Seconds())
}

// ObserveUpstream records one upstream call. outcome is "ok", "http_error"
// or "transport_error".
func (c *Collector) ObserveUpstream(endpoint, outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.upstreamDuration.WithLabelValues(endpoint, outcome).Observe(d.Seconds())
}

func (c *Collector) StreamFallback() {
	if c == nil {
		return
	}
	c.streamFallbacks.Inc()
}

func (c *Collector) ToolRejected(rule string) {
	if c == nil {
		return
	}
	c.toolRejections.WithLabelValues(rule).Inc()
}

func (c *Collector) RateLimited() {
	if c == nil {
		return
	}
	c.rateLimited.Inc()
}
