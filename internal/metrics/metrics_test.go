package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorRecordsRequestsAndUpstream(t *testing.T) {
	c := New()

	c.ObserveRequest("/v1/chat/completions", 200, 150*time.Millisecond)
	c.ObserveRequest("/v1/chat/completions", 200, 50*time.Millisecond)
	c.ObserveRequest("/v1/chat/completions", 502, time.Second)
	c.ObserveUpstream("/chat/completions", "ok", 2*time.Second)
	c.ToolRejected("function_name")
	c.StreamFallback()
	c.RateLimited()

	assert.Equal(t, 2.0, testutil.ToFloat64(c.requestsTotal.WithLabelValues("/v1/chat/completions", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.requestsTotal.WithLabelValues("/v1/chat/completions", "502")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.toolRejections.WithLabelValues("function_name")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.streamFallbacks))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.rateLimited))
	assert.Equal(t, 1, testutil.CollectAndCount(c.upstreamDuration))
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector
	c.ObserveRequest("/health", 200, time.Millisecond)
	c.ObserveUpstream("/x", "ok", time.Millisecond)
	c.StreamFallback()
	c.ToolRejected("x")
	c.RateLimited()
	assert.Nil(t, c.Registry())

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := New()
	c.StreamFallback()

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.True(t, strings.Contains(string(body), "xaigate_stream_fallbacks_total 1"), string(body))
}
