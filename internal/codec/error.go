package codec

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/n0madic/go-xaigate/internal/types"
)

// Error types reported in the outward error body.
const (
	TypeInvalidRequest = "invalid_request_error"
	TypeUpstream       = "upstream_error"
	TypeServer         = "server_error"
	TypePermission     = "permission_error"
	TypeAuthentication = "authentication_error"
	TypeRateLimit      = "rate_limit_error"
)

// APIError is the single outward error shape: an HTTP status plus the
// {message, type, code} body.
type APIError struct {
	Status  int
	Type    string
	Code    string
	Message string
	// Err is the underlying cause, if any.
	Err error
}

func (e *APIError) Error() string { return e.Message }

func (e *APIError) Unwrap() error { return e.Err }

// BadRequest is a client input error.
func BadRequest(code, format string, args ...any) *APIError {
	return &APIError{Status: http.StatusBadRequest, Type: TypeInvalidRequest, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Forbidden reports an operation disabled by configuration.
func Forbidden(code, message string) *APIError {
	return &APIError{Status: http.StatusForbidden, Type: TypePermission, Code: code, Message: message}
}

// Misconfigured reports a deployment mistake.
func Misconfigured(code, message string) *APIError {
	return &APIError{Status: http.StatusInternalServerError, Type: TypeServer, Code: code, Message: message}
}

// AsAPIError converts any error into an APIError, defaulting to a 500.
func AsAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return &APIError{Status: http.StatusInternalServerError, Type: TypeServer, Code: "internal_error", Message: err.Error()}
}

// WriteJSON writes a JSON response.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteRawJSON writes an already-encoded JSON document.
func WriteRawJSON(w http.ResponseWriter, status int, doc []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(doc)
}

// WriteError writes err in the outward error shape. Server-side faults are
// logged at error level, caller mistakes at warn.
func WriteError(w http.ResponseWriter, err error) {
	apiErr := AsAPIError(err)
	if apiErr.Status >= http.StatusInternalServerError {
		slog.Error("request failed", "status", apiErr.Status, "code", apiErr.Code, "error", apiErr.Message)
	} else {
		slog.Warn("request rejected", "status", apiErr.Status, "code", apiErr.Code, "error", apiErr.Message)
	}
	WriteJSON(w, apiErr.Status, ErrorBody(apiErr))
}

// ErrorBody renders the {"error":{...}} document for apiErr.
func ErrorBody(apiErr *APIError) types.ErrorResponse {
	return types.ErrorResponse{Error: types.ErrorDetail{
		Message: apiErr.Message,
		Type:    apiErr.Type,
		Code:    apiErr.Code,
	}}
}

// ExtractUpstreamErrorMessage extracts the error message from an upstream error body.
func ExtractUpstreamErrorMessage(rawBody []byte) string {
	trimmed := strings.TrimSpace(string(rawBody))
	if trimmed == "" {
		return ""
	}
	var errResp types.ErrorResponse
	if err := json.Unmarshal([]byte(trimmed), &errResp); err == nil && strings.TrimSpace(errResp.Error.Message) != "" {
		return strings.TrimSpace(errResp.Error.Message)
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(trimmed), &payload); err != nil {
		return ""
	}
	return extractErrorMessageFromMap(payload)
}

func extractErrorMessageFromMap(payload map[string]any) string {
	if payload == nil {
		return ""
	}
	for _, key := range []string{"message", "detail", "error_description", "title", "reason"} {
		if v, ok := payload[key].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	if nested, ok := payload["error"].(map[string]any); ok {
		if msg := extractErrorMessageFromMap(nested); msg != "" {
			return msg
		}
	}
	if v, ok := payload["error"].(string); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	if list, ok := payload["errors"].([]any); ok {
		for _, item := range list {
			if entry, ok := item.(map[string]any); ok {
				if msg := extractErrorMessageFromMap(entry); msg != "" {
					return msg
				}
			}
			if v, ok := item.(string); ok && strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v)
			}
		}
	}
	return ""
}

// CompactBodyPreview collapses whitespace and truncates a body for log lines.
func CompactBodyPreview(rawBody []byte, maxLen int) string {
	trimmed := strings.TrimSpace(string(rawBody))
	if trimmed == "" {
		return ""
	}
	clean := strings.Join(strings.Fields(trimmed), " ")
	if len(clean) <= maxLen {
		return clean
	}
	return clean[:maxLen] + "..."
}
