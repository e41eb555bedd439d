package server

import (
	"net/http"

	"github.com/n0madic/go-xaigate/internal/codec"
	"github.com/n0madic/go-xaigate/internal/config"
	"github.com/n0madic/go-xaigate/internal/types"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	codec.WriteJSON(w, http.StatusOK, types.HealthStatus{Status: "healthy", Version: config.Version})
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	codec.WriteJSON(w, http.StatusOK, openAPIDocument())
}

type apiOperation struct {
	method  string
	path    string
	summary string
}

var apiOperations = []apiOperation{
	{"post", "/chat/completions", "Create a chat completion (text, tools or vision)"},
	{"post", "/images/generate", "Generate images from a prompt"},
	{"post", "/images/generations", "Generate images from a prompt (OpenAI path)"},
	{"post", "/vision/analyze", "Describe a single image"},
	{"post", "/responses", "Create a model response"},
	{"get", "/responses/{id}", "Retrieve a stored response"},
	{"delete", "/responses/{id}", "Delete a stored response"},
}

// openAPIDocument describes the routes at operation level. Request and
// response schemas follow the OpenAI API and are not repeated here.
func openAPIDocument() map[string]any {
	paths := map[string]any{
		"/health": map[string]any{
			"get": operation("Service health", false),
		},
	}
	for _, prefix := range apiPrefixes {
		for _, op := range apiOperations {
			p := prefix + op.path
			item, _ := paths[p].(map[string]any)
			if item == nil {
				item = map[string]any{}
				paths[p] = item
			}
			entry := operation(op.summary, op.method == "post")
			if op.path == "/responses/{id}" {
				entry["parameters"] = []any{map[string]any{
					"name":     "id",
					"in":       "path",
					"required": true,
					"schema":   map[string]any{"type": "string"},
				}}
			}
			item[op.method] = entry
		}
	}

	return map[string]any{
		"openapi": "3.0.3",
		"info": map[string]any{
			"title":   "xAI Gateway",
			"version": config.Version,
		},
		"paths": paths,
	}
}

func operation(summary string, jsonBody bool) map[string]any {
	op := map[string]any{
		"summary": summary,
		"responses": map[string]any{
			"200": map[string]any{"description": "OK"},
		},
	}
	if jsonBody {
		op["requestBody"] = map[string]any{
			"required": true,
			"content": map[string]any{
				"application/json": map[string]any{"schema": map[string]any{"type": "object"}},
			},
		}
	}
	return op
}
