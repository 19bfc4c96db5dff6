package server

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/jingkaihe/myllm/pkg/logger"
	"github.com/jingkaihe/myllm/pkg/runtime"
	"github.com/jingkaihe/myllm/pkg/types/llm"
	"github.com/jingkaihe/myllm/pkg/version"
)

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []llm.Message `json:"messages"`
	SessionID string        `json:"session_id,omitempty"`
	Stream    bool          `json:"stream,omitempty"`
	Options   *llm.Options  `json:"options,omitempty"`
}

type chatResponse struct {
	Message   llm.Message `json:"message"`
	SessionID string      `json:"session_id"`
	Usage     llm.Usage   `json:"usage"`
}

// handleChat handles POST /api/chat.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeBadRequest(w, r, err.Error())
		return
	}
	if req.Model == "" {
		s.writeBadRequest(w, r, "model is required")
		return
	}
	if err := llm.ValidateMessages(req.Messages); err != nil {
		s.writeBadRequest(w, r, err.Error())
		return
	}
	if err := req.Options.Validate(); err != nil {
		s.writeBadRequest(w, r, err.Error())
		return
	}

	stream, err := s.runtime.Chat(r.Context(), runtime.ChatRequest{
		Model:     req.Model,
		Messages:  req.Messages,
		SessionID: req.SessionID,
		Options:   req.Options,
	})
	if err != nil {
		s.writeErrorResponse(w, r, err)
		return
	}

	if req.Stream {
		s.streamResponse(w, r, stream.Stream, stream.SessionID)
		return
	}

	for range stream.Tokens {
		// drain; the full content arrives with the result
	}
	result, ok := <-stream.Result
	if !ok || result.Err != nil {
		if result.Err != nil {
			s.writeErrorResponse(w, r, result.Err)
		} else {
			s.writeBadRequest(w, r, "request cancelled")
		}
		return
	}

	s.writeJSONResponse(w, chatResponse{
		Message:   llm.Message{Role: llm.RoleAssistant, Content: result.Content},
		SessionID: stream.SessionID,
		Usage:     result.Usage,
	})
}

type generateRequest struct {
	Model   string       `json:"model"`
	Prompt  string       `json:"prompt"`
	Stream  bool         `json:"stream,omitempty"`
	Options *llm.Options `json:"options,omitempty"`
}

type generateResponse struct {
	Text  string    `json:"text"`
	Usage llm.Usage `json:"usage"`
}

// handleGenerate handles POST /api/generate.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeBadRequest(w, r, err.Error())
		return
	}
	if req.Model == "" {
		s.writeBadRequest(w, r, "model is required")
		return
	}
	if req.Prompt == "" {
		s.writeBadRequest(w, r, "prompt is required")
		return
	}
	if err := req.Options.Validate(); err != nil {
		s.writeBadRequest(w, r, err.Error())
		return
	}

	stream, err := s.runtime.Generate(r.Context(), runtime.GenerateRequest{
		Model:   req.Model,
		Prompt:  req.Prompt,
		Options: req.Options,
	})
	if err != nil {
		s.writeErrorResponse(w, r, err)
		return
	}

	if req.Stream {
		s.streamResponse(w, r, *stream, "")
		return
	}

	for range stream.Tokens {
	}
	result, ok := <-stream.Result
	if !ok || result.Err != nil {
		if result.Err != nil {
			s.writeErrorResponse(w, r, result.Err)
		} else {
			s.writeBadRequest(w, r, "request cancelled")
		}
		return
	}

	s.writeJSONResponse(w, generateResponse{Text: result.Content, Usage: result.Usage})
}

// streamResponse frames a token stream as SSE. On a mid-stream failure a
// single terminal event with the error is emitted before closing.
func (s *Server) streamResponse(w http.ResponseWriter, r *http.Request, stream runtime.Stream, sessionID string) {
	sse, err := newSSEWriter(w)
	if err != nil {
		s.writeErrorResponse(w, r, err)
		return
	}

	for token := range stream.Tokens {
		if err := sse.send(sseEvent{Token: token}); err != nil {
			logger.G(r.Context()).WithError(err).Debug("client went away mid-stream")
			return
		}
	}

	result, ok := <-stream.Result
	if !ok {
		return
	}
	if result.Err != nil {
		_ = sse.send(sseEvent{Done: true, Error: result.Err.Error()})
		return
	}

	_ = sse.send(sseEvent{Done: true, SessionID: sessionID, Usage: &result.Usage})
}

type embeddingsRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embeddingsResponse struct {
	Embedding []float32 `json:"embedding"`
	Model     string    `json:"model"`
}

// handleEmbeddings handles POST /api/embeddings.
func (s *Server) handleEmbeddings(w http.ResponseWriter, r *http.Request) {
	var req embeddingsRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeBadRequest(w, r, err.Error())
		return
	}
	if req.Model == "" {
		s.writeBadRequest(w, r, "model is required")
		return
	}
	if req.Input == "" {
		s.writeBadRequest(w, r, "input is required")
		return
	}

	vector, err := s.runtime.Embed(r.Context(), req.Model, req.Input)
	if err != nil {
		s.writeErrorResponse(w, r, err)
		return
	}

	s.writeJSONResponse(w, embeddingsResponse{Embedding: vector, Model: req.Model})
}

// handleListModels handles GET /api/models.
func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	list := s.runtime.Registry().List()
	for i := range list {
		list[i].Loaded = s.runtime.Cache().IsLoaded(list[i].Name)
	}
	s.writeJSONResponse(w, map[string]any{"models": list})
}

// handleGetModel handles GET /api/models/{name}.
func (s *Server) handleGetModel(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	info, err := s.runtime.Registry().Get(name)
	if err != nil {
		s.writeErrorResponse(w, r, err)
		return
	}
	info.Loaded = s.runtime.Cache().IsLoaded(name)
	s.writeJSONResponse(w, info)
}

// handleLoadModel handles POST /api/models/{name}/load.
func (s *Server) handleLoadModel(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	if _, err := s.runtime.Registry().Get(name); err != nil {
		s.writeErrorResponse(w, r, err)
		return
	}
	if err := s.runtime.Cache().Preload(r.Context(), name); err != nil {
		s.writeErrorResponse(w, r, err)
		return
	}

	s.writeJSONResponse(w, map[string]string{
		"status":  "loaded",
		"message": fmt.Sprintf("model %s loaded", name),
	})
}

// handleUnloadModel handles POST /api/models/{name}/unload.
func (s *Server) handleUnloadModel(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	if err := s.runtime.Cache().Unload(r.Context(), name); err != nil {
		s.writeErrorResponse(w, r, err)
		return
	}

	s.writeJSONResponse(w, map[string]string{
		"status":  "unloaded",
		"message": fmt.Sprintf("model %s unloaded", name),
	})
}

// handleHealth handles GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSONResponse(w, map[string]string{"status": "healthy"})
}

// handleRoot handles GET /.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	s.writeJSONResponse(w, map[string]any{
		"name":    "myllm",
		"version": version.Version,
		"models":  len(s.runtime.Registry().List()),
	})
}
