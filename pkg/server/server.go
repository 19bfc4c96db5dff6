// Package server exposes the HTTP API: chat, generate, and embeddings plus
// model management, with SSE streaming for token delivery.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/jingkaihe/myllm/pkg/config"
	"github.com/jingkaihe/myllm/pkg/loader"
	"github.com/jingkaihe/myllm/pkg/logger"
	"github.com/jingkaihe/myllm/pkg/models"
	"github.com/jingkaihe/myllm/pkg/presenter"
	"github.com/jingkaihe/myllm/pkg/prompts"
	"github.com/jingkaihe/myllm/pkg/runtime"
	"github.com/jingkaihe/myllm/pkg/sessions"
)

// Server hosts the HTTP API over a runtime.
type Server struct {
	router  *mux.Router
	runtime *runtime.Runtime
	config  *ServerConfig
	server  *http.Server
}

// ServerConfig holds the listen address configuration.
type ServerConfig struct {
	Host string
	Port int
}

// Validate validates the server configuration.
func (c *ServerConfig) Validate() error {
	if c.Host == "" {
		return errors.New("host cannot be empty")
	}
	if c.Port < 1 || c.Port > 65535 {
		return errors.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	return nil
}

// ConfigFromSettings derives the server config from runtime settings.
func ConfigFromSettings(s *config.Settings) *ServerConfig {
	return &ServerConfig{Host: s.Host, Port: s.Port}
}

// NewServer creates the API server.
func NewServer(cfg *ServerConfig, rt *runtime.Runtime) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid server configuration")
	}

	s := &Server{
		router:  mux.NewRouter(),
		runtime: rt,
		config:  cfg,
	}
	s.setupRoutes()
	return s, nil
}

// setupRoutes configures all the HTTP routes.
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/chat", s.handleChat).Methods("POST")
	api.HandleFunc("/generate", s.handleGenerate).Methods("POST")
	api.HandleFunc("/embeddings", s.handleEmbeddings).Methods("POST")
	api.HandleFunc("/models", s.handleListModels).Methods("GET")
	api.HandleFunc("/models/{name}", s.handleGetModel).Methods("GET")
	api.HandleFunc("/models/{name}/load", s.handleLoadModel).Methods("POST")
	api.HandleFunc("/models/{name}/unload", s.handleUnloadModel).Methods("POST")

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/", s.handleRoot).Methods("GET")

	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.corsMiddleware)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := &responseWriter{ResponseWriter: w, statusCode: 200}
		next.ServeHTTP(rw, r)

		logger.G(r.Context()).WithFields(map[string]any{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      rw.statusCode,
			"duration":    time.Since(start),
			"remote_addr": r.RemoteAddr,
		}).Info("HTTP request")
	})
}

// corsMiddleware adds CORS headers.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code. Flush is
// forwarded so SSE streaming keeps working through the middleware.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Server) writeJSONResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.G(context.TODO()).WithError(err).Error("failed to encode JSON response")
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

// writeErrorResponse maps a domain error onto a status code and writes the
// error body.
func (s *Server) writeErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForError(err)
	if status >= 500 {
		logger.G(r.Context()).WithError(err).Error("request failed")
	} else {
		logger.G(r.Context()).WithError(err).Debug("request rejected")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	response := map[string]any{
		"error":  err.Error(),
		"status": status,
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		logger.G(r.Context()).WithError(err).Error("failed to encode error response")
	}
}

func (s *Server) writeBadRequest(w http.ResponseWriter, r *http.Request, msg string) {
	s.writeErrorResponse(w, r, &badRequestError{msg: msg})
}

type badRequestError struct {
	msg string
}

func (e *badRequestError) Error() string { return e.msg }

func statusForError(err error) int {
	var (
		modelNotFound   *models.NotFoundError
		sessionNotFound *sessions.NotFoundError
		notLoaded       *loader.NotLoadedError
		exceeded        *runtime.ContextExceededError
		unknownFamily   *prompts.UnknownFamilyError
		leak            *prompts.LeakError
		badRequest      *badRequestError
	)
	switch {
	case errors.As(err, &modelNotFound), errors.As(err, &sessionNotFound):
		return http.StatusNotFound
	case errors.As(err, &notLoaded),
		errors.As(err, &exceeded),
		errors.As(err, &unknownFamily),
		errors.As(err, &leak),
		errors.As(err, &badRequest):
		return http.StatusBadRequest
	default:
		// llama.LoadError and llama.InferenceError land here too.
		return http.StatusInternalServerError
	}
}

// decodeJSON decodes a request body rejecting unknown fields.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.Wrap(err, "invalid request body")
	}
	return nil
}

// Start runs the server until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	address := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:    address,
		Handler: s.router,
	}

	presenter.Info(fmt.Sprintf("Starting server on http://%s", address))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.G(ctx).WithError(err).Error("server error")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return s.server.Shutdown(shutdownCtx)
}

// Stop closes the server immediately.
func (s *Server) Stop() error {
	if s.server != nil {
		return s.server.Close()
	}
	return nil
}
