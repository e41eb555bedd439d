package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/n0madic/go-xaigate/internal/auth"
	"github.com/n0madic/go-xaigate/internal/codec"
	"github.com/n0madic/go-xaigate/internal/config"
	"github.com/n0madic/go-xaigate/internal/limits"
	"github.com/n0madic/go-xaigate/internal/metrics"
	"github.com/n0madic/go-xaigate/internal/pipeline"
	"github.com/n0madic/go-xaigate/internal/upstream"
)

// maxBodyBytes limits the size of incoming request bodies.
const maxBodyBytes = 10 * 1024 * 1024 // 10 MB

// apiPrefixes are the mount points of the gateway routes. /v1 is the
// OpenAI SDK default base path.
var apiPrefixes = []string{"/api/v1", "/v1"}

// Server is the main HTTP server.
type Server struct {
	Config   *config.ServerConfig
	Pipeline *pipeline.Pipeline
	Metrics  *metrics.Collector
	Limiter  limits.Limiter
	Gate     *auth.Gate

	handler    http.Handler
	httpServer *http.Server
}

// New creates a new server with all routes registered.
func New(cfg *config.ServerConfig) *Server {
	m := metrics.New()
	return NewWithLimiter(cfg, m, limits.NewSlidingWindow(cfg.RateLimit, cfg.RateLimitPeriod))
}

// NewWithLimiter is New with an injected metrics collector and rate limiter.
func NewWithLimiter(cfg *config.ServerConfig, m *metrics.Collector, limiter limits.Limiter) *Server {
	s := &Server{
		Config:   cfg,
		Pipeline: pipeline.New(cfg, upstream.NewClient(cfg, m), m),
		Metrics:  m,
		Limiter:  limiter,
		Gate:     auth.NewGate(cfg),
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", m.Handler())
	mux.HandleFunc("GET /openapi.json", s.handleOpenAPI)

	for _, prefix := range apiPrefixes {
		mux.HandleFunc("POST "+prefix+"/chat/completions", s.handleChatCompletions)
		mux.HandleFunc("POST "+prefix+"/images/generate", s.handleImageGeneration)
		mux.HandleFunc("POST "+prefix+"/images/generations", s.handleImageGeneration)
		mux.HandleFunc("POST "+prefix+"/vision/analyze", s.handleVisionAnalyze)
		mux.HandleFunc("POST "+prefix+"/responses", s.handleResponses)
		mux.HandleFunc("GET "+prefix+"/responses/{id}", s.handleRetrieveResponse)
		mux.HandleFunc("DELETE "+prefix+"/responses/{id}", s.handleDeleteResponse)
	}

	// OPTIONS for CORS preflight
	mux.HandleFunc("OPTIONS /", s.handleOptions)

	s.handler = requestLogger(cfg, m,
		corsMiddleware(cfg.CORSOrigins,
			rateLimitMiddleware(limiter, s.Gate.Header, m,
				authMiddleware(s.Gate,
					debugMiddleware(cfg, mux)))))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 600 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s
}

// Handler returns the full middleware chain.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ListenAndServe starts the server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleOptions(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// --- Helpers ---

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		codec.WriteError(w, codec.BadRequest("invalid_body", "Failed to read request body"))
		return nil, false
	}
	return body, true
}
