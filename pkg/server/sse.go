package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/pkg/errors"

	"github.com/jingkaihe/myllm/pkg/types/llm"
)

// sseEvent is one server-sent event. Per-token events carry the token with
// done=false; the terminal event carries done=true plus usage, and the
// session id on chat streams.
type sseEvent struct {
	Token     string     `json:"token,omitempty"`
	Done      bool       `json:"done"`
	SessionID string     `json:"session_id,omitempty"`
	Usage     *llm.Usage `json:"usage,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// sseWriter frames events as text/event-stream with a flush per event.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("response writer does not support streaming")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &sseWriter{w: w, flusher: flusher}, nil
}

func (s *sseWriter) send(event sseEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "failed to marshal SSE event")
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return errors.Wrap(err, "failed to write SSE event")
	}
	s.flusher.Flush()
	return nil
}
