// Package auth implements the optional shared-token check in front of the
// gateway routes.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/n0madic/go-xaigate/internal/codec"
	"github.com/n0madic/go-xaigate/internal/config"
)

const bearerPrefix = "Bearer "

// docsPaths are exempt when ExcludeDocs is set.
var docsPaths = map[string]bool{
	"/docs":         true,
	"/redoc":        true,
	"/openapi.json": true,
}

// Gate checks inbound requests against the configured token.
type Gate struct {
	Enabled     bool
	Token       string
	Header      string
	ExcludeDocs bool
}

// NewGate builds a Gate from cfg.
func NewGate(cfg *config.ServerConfig) *Gate {
	header := strings.TrimSpace(cfg.AuthHeader)
	if header == "" {
		header = config.AuthHeaderDefault
	}
	return &Gate{
		Enabled:     cfg.AuthEnabled,
		Token:       strings.TrimSpace(cfg.AuthToken),
		Header:      header,
		ExcludeDocs: cfg.AuthExcludeDocs,
	}
}

// Exempt reports whether path skips the token check.
func (g *Gate) Exempt(path string) bool {
	if path == "/health" {
		return true
	}
	return g.ExcludeDocs && docsPaths[path]
}

// Check returns nil when r may proceed. Failures carry the status and body
// to send back; a missing server token is a deployment error.
func (g *Gate) Check(r *http.Request) *codec.APIError {
	if g == nil || !g.Enabled || r.Method == http.MethodOptions || g.Exempt(r.URL.Path) {
		return nil
	}
	if g.Token == "" {
		return codec.Misconfigured("auth_misconfigured", "Server authentication configuration error")
	}

	var token string
	if strings.EqualFold(g.Header, "Authorization") {
		value := r.Header.Get("Authorization")
		if !strings.HasPrefix(value, bearerPrefix) {
			return unauthorized("missing_authorization", "Missing or invalid Authorization header. Expected format: 'Bearer <token>'")
		}
		token = strings.TrimSpace(strings.TrimPrefix(value, bearerPrefix))
	} else {
		token = strings.TrimSpace(r.Header.Get(g.Header))
		if token == "" {
			return unauthorized("missing_token_header", "Missing "+g.Header+" header. Please provide your API token.")
		}
	}

	if subtle.ConstantTimeCompare([]byte(token), []byte(g.Token)) != 1 {
		return unauthorized("invalid_token", "Invalid API token")
	}
	return nil
}

// Bearer reports whether failures should carry WWW-Authenticate: Bearer.
func (g *Gate) Bearer() bool {
	return strings.EqualFold(g.Header, "Authorization")
}

func unauthorized(code, message string) *codec.APIError {
	return &codec.APIError{
		Status:  http.StatusUnauthorized,
		Type:    codec.TypeAuthentication,
		Code:    code,
		Message: message,
	}
}
