package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jingkaihe/myllm/pkg/config"
	"github.com/jingkaihe/myllm/pkg/llama"
	"github.com/jingkaihe/myllm/pkg/llama/llamatest"
	"github.com/jingkaihe/myllm/pkg/loader"
	"github.com/jingkaihe/myllm/pkg/models"
	"github.com/jingkaihe/myllm/pkg/runtime"
	"github.com/jingkaihe/myllm/pkg/sessions"
)

func newTestServer(t *testing.T, completion ...string) *Server {
	t.Helper()
	ctx := context.Background()

	dir := t.TempDir()
	require.NoError(t, models.WriteConfig(dir, models.ModelConfig{
		Name: "test-llama", Family: "llama", ContextSize: 2048,
	}))
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "test-llama", models.WeightsFileName), []byte("weights"), 0o644))

	registry, err := models.NewRegistry(dir)
	require.NoError(t, err)

	store, err := sessions.Open(ctx, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cache := loader.New(2, func(ctx context.Context, name string) (*llama.Engine, error) {
		return llamatest.NewEngine(name, completion...), nil
	})
	t.Cleanup(func() { cache.Close() })

	settings := &config.Settings{
		Host:               "127.0.0.1",
		Port:               8000,
		DefaultContextSize: 4096,
		DefaultTemperature: 0.7,
		DefaultTopP:        0.9,
		DefaultMaxTokens:   256,
	}

	rt := runtime.New(settings, registry, cache, store)
	srv, err := NewServer(ConfigFromSettings(settings), rt)
	require.NoError(t, err)
	return srv
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestChatNonStreaming(t *testing.T) {
	srv := newTestServer(t, "Hello", " there")

	rec := doJSON(t, srv, "POST", "/api/chat", map[string]any{
		"model":    "test-llama",
		"messages": []map[string]string{{"role": "user", "content": "Hi"}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		SessionID string `json:"session_id"`
		Usage     struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "assistant", resp.Message.Role)
	assert.Equal(t, "Hello there", resp.Message.Content)
	assert.NotEmpty(t, resp.SessionID)
	assert.Positive(t, resp.Usage.CompletionTokens)
}

func TestChatStreaming(t *testing.T) {
	srv := newTestServer(t, "Hel", "lo")

	rec := doJSON(t, srv, "POST", "/api/chat", map[string]any{
		"model":    "test-llama",
		"messages": []map[string]string{{"role": "user", "content": "Hi"}},
		"stream":   true,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	var tokens []string
	var terminal map[string]any
	scanner := bufio.NewScanner(rec.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var event map[string]any
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event))
		if done, _ := event["done"].(bool); done {
			terminal = event
			continue
		}
		tokens = append(tokens, event["token"].(string))
	}

	assert.Equal(t, []string{"Hel", "lo"}, tokens)
	require.NotNil(t, terminal, "expected a terminal done event")
	assert.NotEmpty(t, terminal["session_id"])
	assert.Contains(t, terminal, "usage")
}

func TestChatUnknownModelIs404(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, "POST", "/api/chat", map[string]any{
		"model":    "missing",
		"messages": []map[string]string{{"role": "user", "content": "Hi"}},
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChatUnknownSessionIs404(t *testing.T) {
	srv := newTestServer(t, "ok")

	rec := doJSON(t, srv, "POST", "/api/chat", map[string]any{
		"model":      "test-llama",
		"messages":   []map[string]string{{"role": "user", "content": "Hi"}},
		"session_id": "not-a-session",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChatRejectsUnknownFields(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, "POST", "/api/chat", map[string]any{
		"model":    "test-llama",
		"messages": []map[string]string{{"role": "user", "content": "Hi"}},
		"bogus":    true,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatRejectsUnknownOptionFields(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, "POST", "/api/chat", map[string]any{
		"model":    "test-llama",
		"messages": []map[string]string{{"role": "user", "content": "Hi"}},
		"options":  map[string]any{"typical_p": 0.5},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatRejectsBadRole(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, "POST", "/api/chat", map[string]any{
		"model":    "test-llama",
		"messages": []map[string]string{{"role": "tool", "content": "Hi"}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGenerate(t *testing.T) {
	srv := newTestServer(t, "done")

	rec := doJSON(t, srv, "POST", "/api/generate", map[string]any{
		"model":  "test-llama",
		"prompt": "finish this",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp generateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "done", resp.Text)
}

func TestGenerateRequiresPrompt(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, "POST", "/api/generate", map[string]any{"model": "test-llama"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEmbeddings(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, "POST", "/api/embeddings", map[string]any{
		"model": "test-llama",
		"input": "vectorize me",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp embeddingsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "test-llama", resp.Model)
	assert.NotEmpty(t, resp.Embedding)
}

func TestListModels(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, "GET", "/api/models", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Models []models.ModelInfo `json:"models"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Models, 1)
	assert.Equal(t, "test-llama", resp.Models[0].Name)
	assert.False(t, resp.Models[0].Loaded)
}

func TestLoadAndUnloadModel(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, "POST", "/api/models/test-llama/load", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, "GET", "/api/models/test-llama", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var info models.ModelInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.True(t, info.Loaded)

	rec = doJSON(t, srv, "POST", "/api/models/test-llama/unload", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Unloading twice is a client error.
	rec = doJSON(t, srv, "POST", "/api/models/test-llama/unload", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetUnknownModelIs404(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, "GET", "/api/models/ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, "GET", "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
}

func TestRoot(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, "GET", "/", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "myllm", resp["name"])
	assert.EqualValues(t, 1, resp["models"])
}
