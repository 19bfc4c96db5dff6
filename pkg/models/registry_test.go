package models

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func installModel(t *testing.T, dir, name string, cfg ModelConfig, weights string) {
	t.Helper()
	cfg.Name = name
	require.NoError(t, WriteConfig(dir, cfg))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name, WeightsFileName), []byte(weights), 0o644))
}

func TestScanDiscoversModels(t *testing.T) {
	dir := t.TempDir()
	installModel(t, dir, "test-llama", ModelConfig{Family: "llama", ContextSize: 2048}, "weights")
	installModel(t, dir, "test-qwen", ModelConfig{Family: "qwen", ContextSize: 32768}, "more weights")

	r, err := NewRegistry(dir)
	require.NoError(t, err)

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, "test-llama", list[0].Name)
	assert.Equal(t, "test-qwen", list[1].Name)
	assert.Equal(t, int64(len("weights")), list[0].SizeBytes)
	assert.False(t, list[0].Loaded)
}

func TestScanSkipsIncompleteDirectories(t *testing.T) {
	dir := t.TempDir()

	// Config without weights.
	require.NoError(t, WriteConfig(dir, ModelConfig{Name: "no-weights", Family: "llama", ContextSize: 2048}))
	// Weights without config.
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "no-config"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "no-config", WeightsFileName), []byte("w"), 0o644))
	// Stray file at top level.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.txt"), []byte("hi"), 0o644))

	r, err := NewRegistry(dir)
	require.NoError(t, err)
	assert.Empty(t, r.List())
}

func TestScanAcceptsAnyGGUFName(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, WriteConfig(dir, ModelConfig{Name: "custom", Family: "mistral", ContextSize: 8192}))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "custom", "mistral-7b.Q4_K_M.gguf"), []byte("w"), 0o644))

	r, err := NewRegistry(dir)
	require.NoError(t, err)

	path, err := r.WeightsPath("custom")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "custom", "mistral-7b.Q4_K_M.gguf"), path)
}

func TestScanMissingDirectory(t *testing.T) {
	r, err := NewRegistry(filepath.Join(t.TempDir(), "does-not-exist"))
	require.NoError(t, err)
	assert.Empty(t, r.List())
}

func TestGetAndWeightsPath(t *testing.T) {
	dir := t.TempDir()
	installModel(t, dir, "test-llama", ModelConfig{Family: "llama", ContextSize: 2048}, "weights")

	r, err := NewRegistry(dir)
	require.NoError(t, err)

	info, err := r.Get("test-llama")
	require.NoError(t, err)
	assert.Equal(t, "llama", info.Family)
	assert.Equal(t, 2048, info.ContextSize)

	path, err := r.WeightsPath("test-llama")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "test-llama", WeightsFileName), path)
}

func TestGetUnknownModel(t *testing.T) {
	r, err := NewRegistry(t.TempDir())
	require.NoError(t, err)

	_, err = r.Get("nope")
	require.Error(t, err)

	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "nope", notFound.Name)
}

func TestConfigNameDefaultsToDirectory(t *testing.T) {
	dir := t.TempDir()
	modelDir := filepath.Join(dir, "unnamed")
	require.NoError(t, os.MkdirAll(modelDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(modelDir, ConfigFileName),
		[]byte(`{"family":"phi","context_size":2048}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(modelDir, WeightsFileName), []byte("w"), 0o644))

	r, err := NewRegistry(dir)
	require.NoError(t, err)

	cfg, err := r.Config("unnamed")
	require.NoError(t, err)
	assert.Equal(t, "unnamed", cfg.Name)
}

func TestScanPicksUpNewModels(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRegistry(dir)
	require.NoError(t, err)
	assert.Empty(t, r.List())

	installModel(t, dir, "late-arrival", ModelConfig{Family: "mistral", ContextSize: 8192}, "w")
	require.NoError(t, r.Scan())

	_, err = r.Get("late-arrival")
	assert.NoError(t, err)
}

func TestTemplateNameFallsBackToFamily(t *testing.T) {
	assert.Equal(t, "llama3", ModelConfig{Family: "llama", Template: "llama3"}.TemplateName())
	assert.Equal(t, "llama", ModelConfig{Family: "llama"}.TemplateName())
}
