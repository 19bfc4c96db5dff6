// Package llama wraps a native GGUF inference backend behind a small engine
// interface. The cgo binding is compiled in with the "llama" build tag;
// without it, loading models fails cleanly and tests use in-process fakes.
package llama

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jingkaihe/myllm/pkg/budget"
	"github.com/jingkaihe/myllm/pkg/types/llm"
)

// Params are the resolved sampling parameters for one inference call.
// Defaults have already been applied by the caller. The cgo backend honors
// MaxTokens, Temperature, and Stop; the remaining knobs apply only on
// backends whose bindings expose them.
type Params struct {
	Temperature      float64
	TopP             float64
	TopK             int
	MaxTokens        int
	RepeatPenalty    float64
	PresencePenalty  float64
	FrequencyPenalty float64
	Stop             []string
}

// LoadConfig describes how to load a model into a native context.
type LoadConfig struct {
	Path        string
	ContextSize int
	// GPULayers is the number of layers to offload, -1 for all.
	GPULayers int
	Threads   int
}

// LoadError wraps a native library failure while loading weights.
type LoadError struct {
	Model string
	Err   error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load model %q: %v", e.Model, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// InferenceError wraps a generation failure after loading succeeded.
type InferenceError struct {
	Model string
	Err   error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference failed on model %q: %v", e.Model, e.Err)
}

func (e *InferenceError) Unwrap() error { return e.Err }

// runner is the seam between the engine and a concrete backend. The cgo
// binding and the test fakes both implement it.
type runner interface {
	// Generate streams raw completion tokens for a fully rendered prompt.
	// The token channel closes on completion. The error channel carries at
	// most one error and is closed when generation ends.
	Generate(ctx context.Context, prompt string, p Params) (<-chan string, <-chan error)
	Close() error
}

// tokenizer is an optional runner capability. Without it the engine falls
// back to the approximate counter.
type tokenizer interface {
	Tokenize(text string) ([]int32, error)
	Detokenize(tokens []int32) (string, error)
}

// embedder is an optional runner capability.
type embedder interface {
	Embed(text string) ([]float32, error)
}

// Engine is a loaded model ready for inference. One inference runs at a
// time per engine; concurrent calls queue on an internal mutex.
type Engine struct {
	name string
	run  runner

	inferMu sync.Mutex

	usageMu   sync.Mutex
	lastUsage llm.Usage
}

// NewEngine wraps a backend runner. Used by Load and directly by tests.
func NewEngine(name string, run runner) *Engine {
	return &Engine{name: name, run: run}
}

// Name returns the model name this engine was loaded for.
func (e *Engine) Name() string { return e.name }

// Generate streams sanitizable raw tokens for a prompt. The returned token
// channel closes when generation ends; the error channel delivers at most
// one error. Usage for the call is recorded and readable via LastUsage once
// the token channel has closed.
func (e *Engine) Generate(ctx context.Context, prompt string, p Params) (<-chan string, <-chan error) {
	out := make(chan string, 16)
	errs := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errs)

		e.inferMu.Lock()
		defer e.inferMu.Unlock()

		promptTokens := e.CountTokens(prompt)

		tokens, runErrs := e.run.Generate(ctx, prompt, p)

		var completion strings.Builder
		for token := range tokens {
			if ctx.Err() != nil {
				e.recordUsage(promptTokens, completion.String())
				return
			}
			completion.WriteString(token)
			select {
			case out <- token:
			case <-ctx.Done():
				e.recordUsage(promptTokens, completion.String())
				return
			}
		}

		if err := <-runErrs; err != nil {
			errs <- &InferenceError{Model: e.name, Err: err}
		}
		e.recordUsage(promptTokens, completion.String())
	}()

	return out, errs
}

func (e *Engine) recordUsage(promptTokens int, completion string) {
	completionTokens := 0
	if completion != "" {
		completionTokens = e.CountTokens(completion)
	}

	e.usageMu.Lock()
	defer e.usageMu.Unlock()
	e.lastUsage = llm.Usage{
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      promptTokens + completionTokens,
	}
}

// LastUsage returns the usage record of the most recently completed
// inference on this engine.
func (e *Engine) LastUsage() llm.Usage {
	e.usageMu.Lock()
	defer e.usageMu.Unlock()
	return e.lastUsage
}

// CountTokens counts tokens with the backend tokenizer when available,
// otherwise with the approximate counter.
func (e *Engine) CountTokens(text string) int {
	if tok, ok := e.run.(tokenizer); ok {
		if ids, err := tok.Tokenize(text); err == nil {
			return len(ids)
		}
	}
	return budget.Approx(text)
}

// Tokenize exposes the backend tokenizer.
func (e *Engine) Tokenize(text string) ([]int32, error) {
	tok, ok := e.run.(tokenizer)
	if !ok {
		return nil, fmt.Errorf("model %q backend has no tokenizer", e.name)
	}
	return tok.Tokenize(text)
}

// Detokenize reverses Tokenize.
func (e *Engine) Detokenize(tokens []int32) (string, error) {
	tok, ok := e.run.(tokenizer)
	if !ok {
		return "", fmt.Errorf("model %q backend has no tokenizer", e.name)
	}
	return tok.Detokenize(tokens)
}

// Embed returns the embedding vector for a text. Serialized with generation
// on the same engine.
func (e *Engine) Embed(ctx context.Context, text string) ([]float32, error) {
	emb, ok := e.run.(embedder)
	if !ok {
		return nil, &InferenceError{Model: e.name, Err: fmt.Errorf("backend does not support embeddings")}
	}

	e.inferMu.Lock()
	defer e.inferMu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vec, err := emb.Embed(text)
	if err != nil {
		return nil, &InferenceError{Model: e.name, Err: err}
	}
	return vec, nil
}

// Close releases the native resources. The engine must not be used after.
func (e *Engine) Close() error {
	e.inferMu.Lock()
	defer e.inferMu.Unlock()
	return e.run.Close()
}
