package server

import (
	"net/http"
	"strings"

	"github.com/n0madic/go-xaigate/internal/codec"
	"github.com/n0madic/go-xaigate/internal/normalize"
)

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	s.Pipeline.Execute(r.Context(), w, body, normalize.RouteChat)
}

func (s *Server) handleResponses(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	s.Pipeline.Execute(r.Context(), w, body, normalize.RouteResponses)
}

func (s *Server) handleImageGeneration(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	s.Pipeline.GenerateImage(r.Context(), w, body)
}

func (s *Server) handleVisionAnalyze(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	s.Pipeline.AnalyzeImage(r.Context(), w, body)
}

func (s *Server) handleRetrieveResponse(w http.ResponseWriter, r *http.Request) {
	id, ok := responseID(w, r)
	if !ok {
		return
	}
	s.Pipeline.RetrieveResponse(r.Context(), w, id)
}

func (s *Server) handleDeleteResponse(w http.ResponseWriter, r *http.Request) {
	id, ok := responseID(w, r)
	if !ok {
		return
	}
	s.Pipeline.DeleteResponse(r.Context(), w, id)
}

func responseID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		codec.WriteError(w, codec.BadRequest("missing_response_id", "Response id is required"))
		return "", false
	}
	return id, true
}
