// Package models discovers GGUF models on disk and serves their
// configuration. Layout: <models_dir>/<name>/model.gguf plus config.json.
package models

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// WeightsFileName is the canonical weights file name the installer writes.
// Discovery accepts any *.gguf file in the model directory.
const WeightsFileName = "model.gguf"

// ConfigFileName is the per-model configuration artifact.
const ConfigFileName = "config.json"

// ModelConfig describes one installed model. Read-only after discovery.
type ModelConfig struct {
	Name         string                 `json:"name"`
	Family       string                 `json:"family"`
	Quantization string                 `json:"quantization,omitempty"`
	ContextSize  int                    `json:"context_size"`
	Template     string                 `json:"template,omitempty"`
	Parameters   map[string]interface{} `json:"parameters,omitempty"`
}

// TemplateName resolves which prompt template the model uses. An explicit
// template wins; otherwise the family name doubles as the template name.
func (c ModelConfig) TemplateName() string {
	if c.Template != "" {
		return c.Template
	}
	return c.Family
}

// ModelInfo is a ModelConfig plus derived state for API responses.
type ModelInfo struct {
	ModelConfig
	SizeBytes int64 `json:"size_bytes"`
	Loaded    bool  `json:"loaded"`
}

// NotFoundError reports a model name with no matching directory or config.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("model %q not found", e.Name)
}

type entry struct {
	config ModelConfig
	path   string
	size   int64
}

// Registry indexes the models directory. Scan populates it; reads are safe
// for concurrent use.
type Registry struct {
	dir string

	mu     sync.RWMutex
	models map[string]entry
}

// NewRegistry creates a registry over a models directory and performs the
// initial scan.
func NewRegistry(dir string) (*Registry, error) {
	r := &Registry{dir: dir, models: make(map[string]entry)}
	if err := r.Scan(); err != nil {
		return nil, err
	}
	return r, nil
}

// Dir returns the models directory the registry watches.
func (r *Registry) Dir() string { return r.dir }

// Scan rebuilds the index from disk. Directories without both a weights
// file and a config are skipped.
func (r *Registry) Scan() error {
	dirEntries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			r.mu.Lock()
			r.models = make(map[string]entry)
			r.mu.Unlock()
			return nil
		}
		return errors.Wrapf(err, "failed to read models directory %s", r.dir)
	}

	found := make(map[string]entry)
	for _, de := range dirEntries {
		if !de.IsDir() {
			continue
		}
		name := de.Name()
		modelDir := filepath.Join(r.dir, name)

		weights, err := findWeights(modelDir)
		if err != nil {
			continue
		}
		stat, err := os.Stat(weights)
		if err != nil {
			continue
		}

		cfg, err := readConfig(filepath.Join(modelDir, ConfigFileName))
		if err != nil {
			continue
		}
		if cfg.Name == "" {
			cfg.Name = name
		}

		found[name] = entry{config: cfg, path: weights, size: stat.Size()}
	}

	r.mu.Lock()
	r.models = found
	r.mu.Unlock()
	return nil
}

// findWeights locates the weights artifact in a model directory. The
// canonical name wins; otherwise the first *.gguf file in sorted order.
func findWeights(modelDir string) (string, error) {
	canonical := filepath.Join(modelDir, WeightsFileName)
	if _, err := os.Stat(canonical); err == nil {
		return canonical, nil
	}

	matches, err := filepath.Glob(filepath.Join(modelDir, "*.gguf"))
	if err != nil || len(matches) == 0 {
		return "", &NotFoundError{Name: filepath.Base(modelDir)}
	}
	sort.Strings(matches)
	return matches[0], nil
}

func readConfig(path string) (ModelConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ModelConfig{}, errors.Wrap(err, "failed to read model config")
	}
	var cfg ModelConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return ModelConfig{}, errors.Wrap(err, "failed to parse model config")
	}
	return cfg, nil
}

// List returns info for every discovered model, sorted by name. Loaded is
// always false here; the caller overlays cache state.
func (r *Registry) List() []ModelInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ModelInfo, 0, len(r.models))
	for _, e := range r.models {
		out = append(out, ModelInfo{ModelConfig: e.config, SizeBytes: e.size})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Get returns info for one model.
func (r *Registry) Get(name string) (ModelInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.models[name]
	if !ok {
		return ModelInfo{}, &NotFoundError{Name: name}
	}
	return ModelInfo{ModelConfig: e.config, SizeBytes: e.size}, nil
}

// Config returns the configuration of one model.
func (r *Registry) Config(name string) (ModelConfig, error) {
	info, err := r.Get(name)
	if err != nil {
		return ModelConfig{}, err
	}
	return info.ModelConfig, nil
}

// WeightsPath returns the on-disk weights file for one model.
func (r *Registry) WeightsPath(name string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.models[name]
	if !ok {
		return "", &NotFoundError{Name: name}
	}
	return e.path, nil
}

// WriteConfig writes a model's config.json, creating the model directory
// when needed. Used by the catalog installer and tests.
func WriteConfig(modelsDir string, cfg ModelConfig) error {
	if cfg.Name == "" {
		return errors.New("model config requires a name")
	}
	dir := filepath.Join(modelsDir, cfg.Name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "failed to create model directory")
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal model config")
	}
	if err := os.WriteFile(filepath.Join(dir, ConfigFileName), data, 0o644); err != nil {
		return errors.Wrap(err, "failed to write model config")
	}
	return nil
}
