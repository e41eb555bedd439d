package server

import (
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/n0madic/go-xaigate/internal/auth"
	"github.com/n0madic/go-xaigate/internal/codec"
	"github.com/n0madic/go-xaigate/internal/config"
	"github.com/n0madic/go-xaigate/internal/limits"
	"github.com/n0madic/go-xaigate/internal/metrics"
	"github.com/n0madic/go-xaigate/internal/pipeline"
)

var debugDumpMu sync.Mutex

const (
	requestIDHeader   = "X-Request-ID"
	processTimeHeader = "X-Process-Time"
)

var exposedHeaders = strings.Join([]string{
	requestIDHeader,
	processTimeHeader,
	"X-RateLimit-Limit",
	"X-RateLimit-Remaining",
	"X-RateLimit-Reset",
	"Retry-After",
	pipeline.FallbackHeader,
}, ", ")

// statusWriter records the status code and stamps the processing time on
// the first header write. It keeps http.Flusher reachable for SSE.
type statusWriter struct {
	http.ResponseWriter
	start  time.Time
	status int
}

func (sw *statusWriter) WriteHeader(status int) {
	if sw.status == 0 {
		sw.status = status
		sw.Header().Set(processTimeHeader, strconv.FormatFloat(time.Since(sw.start).Seconds(), 'f', 6, 64))
	}
	sw.ResponseWriter.WriteHeader(status)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	if sw.status == 0 {
		sw.WriteHeader(http.StatusOK)
	}
	return sw.ResponseWriter.Write(b)
}

func (sw *statusWriter) Flush() {
	if f, ok := sw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sw *statusWriter) Unwrap() http.ResponseWriter { return sw.ResponseWriter }

// requestLogger assigns a request id, times the request and records it in
// the metrics under the matched route pattern.
func requestLogger(cfg *config.ServerConfig, m *metrics.Collector, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, reqID)

		sw := &statusWriter{ResponseWriter: w, start: time.Now()}
		next.ServeHTTP(sw, r)
		if sw.status == 0 {
			sw.WriteHeader(http.StatusOK)
		}

		elapsed := time.Since(sw.start)
		m.ObserveRequest(routeLabel(r), sw.status, elapsed)
		if cfg.Verbose {
			slog.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", sw.status,
				"duration_ms", elapsed.Milliseconds(),
				"request_id", reqID,
			)
		}
	})
}

// routeLabel keeps metric cardinality bounded: ids in paths collapse into
// the mux pattern.
func routeLabel(r *http.Request) string {
	switch {
	case r.Pattern != "":
		return r.Pattern
	case r.Method == http.MethodOptions:
		return "preflight"
	default:
		return "unmatched"
	}
}

func corsMiddleware(origins []string, next http.Handler) http.Handler {
	anyOrigin := slices.Contains(origins, "*")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && (anyOrigin || slices.Contains(origins, origin)) {
			reqHeaders := r.Header.Get("Access-Control-Request-Headers")
			if reqHeaders == "" {
				reqHeaders = "Authorization, Content-Type, Accept"
			}
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", reqHeaders)
			h.Set("Access-Control-Expose-Headers", exposedHeaders)
			h.Set("Access-Control-Max-Age", "86400")
			h.Add("Vary", "Origin")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimitMiddleware admits requests through limiter and reports the
// window on every limited response.
func rateLimitMiddleware(limiter limits.Limiter, tokenHeader string, m *metrics.Collector, next http.Handler) http.Handler {
	if limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		key := clientKey(r, tokenHeader)
		decision := limiter.Allow(key, time.Now())
		if decision.Limit > 0 {
			decision.SetHeaders(w.Header())
		}
		if !decision.Allowed {
			m.RateLimited()
			slog.Warn("ratelimit.exceeded", "path", r.URL.Path, "client", clientIP(r), "retry_after", decision.RetryAfter.String())
			codec.WriteError(w, &codec.APIError{
				Status:  http.StatusTooManyRequests,
				Type:    codec.TypeRateLimit,
				Code:    "rate_limit_exceeded",
				Message: "Rate limit exceeded. Try again in " + w.Header().Get("Retry-After") + " seconds.",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientKey identifies the caller as token:ip, or ip when no token is sent.
func clientKey(r *http.Request, tokenHeader string) string {
	ip := clientIP(r)
	token := strings.TrimSpace(r.Header.Get(tokenHeader))
	if strings.EqualFold(tokenHeader, "Authorization") {
		var ok bool
		if token, ok = strings.CutPrefix(token, "Bearer "); !ok {
			token = ""
		}
		token = strings.TrimSpace(token)
	}
	if token == "" {
		return ip
	}
	return token + ":" + ip
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func authMiddleware(gate *auth.Gate, next http.Handler) http.Handler {
	if gate == nil || !gate.Enabled {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if apiErr := gate.Check(r); apiErr != nil {
			if gate.Bearer() && apiErr.Status == http.StatusUnauthorized {
				w.Header().Set("WWW-Authenticate", "Bearer")
			}
			codec.WriteError(w, apiErr)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func debugMiddleware(cfg *config.ServerConfig, next http.Handler) http.Handler {
	if cfg == nil || !cfg.Debug {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dump, err := httputil.DumpRequest(r, true)
		if err != nil {
			slog.Error("request.dump.failed", "method", r.Method, "path", r.URL.Path, "error", err)
		} else {
			slog.Info("request.dump", "method", r.Method, "path", r.URL.Path)
			writeDebugDumpBlock("INBOUND REQUEST", dump)
		}
		next.ServeHTTP(w, r)
	})
}

func writeDebugDumpBlock(title string, data []byte) {
	debugDumpMu.Lock()
	defer debugDumpMu.Unlock()

	header := "===== " + strings.TrimSpace(title) + " BEGIN =====\n"
	footer := "===== " + strings.TrimSpace(title) + " END =====\n"

	os.Stderr.WriteString(header)
	if len(data) > 0 {
		os.Stderr.Write(data)
		if data[len(data)-1] != '\n' {
			os.Stderr.WriteString("\n")
		}
	}
	os.Stderr.WriteString(footer)
}
