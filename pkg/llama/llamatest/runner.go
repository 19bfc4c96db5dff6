// Package llamatest provides an in-process fake inference backend for tests.
// It streams a scripted token sequence, tokenizes at the byte level, and
// produces deterministic embeddings.
package llamatest

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"sync"

	"github.com/jingkaihe/myllm/pkg/llama"
)

// Runner is a scriptable backend. The zero value streams nothing; set Tokens
// to script a completion. Safe for concurrent use.
type Runner struct {
	// Tokens is the completion streamed by Generate, one channel send each.
	Tokens []string
	// GenerateErr, when set, is delivered on the error channel after the
	// scripted tokens.
	GenerateErr error

	mu      sync.Mutex
	prompts []string
	closed  int
}

// NewRunner scripts a completion from the given tokens.
func NewRunner(tokens ...string) *Runner {
	return &Runner{Tokens: tokens}
}

// NewEngine wraps a scripted runner in a real engine.
func NewEngine(name string, tokens ...string) *llama.Engine {
	return llama.NewEngine(name, NewRunner(tokens...))
}

func (r *Runner) Generate(ctx context.Context, prompt string, p llama.Params) (<-chan string, <-chan error) {
	r.mu.Lock()
	r.prompts = append(r.prompts, prompt)
	script := r.Tokens
	genErr := r.GenerateErr
	r.mu.Unlock()

	out := make(chan string, len(script))
	errs := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errs)

		limit := len(script)
		if p.MaxTokens > 0 && p.MaxTokens < limit {
			limit = p.MaxTokens
		}
		for _, token := range script[:limit] {
			select {
			case out <- token:
			case <-ctx.Done():
				return
			}
		}
		if genErr != nil {
			errs <- genErr
		}
	}()

	return out, errs
}

// Tokenize maps each byte to one token id.
func (r *Runner) Tokenize(text string) ([]int32, error) {
	ids := make([]int32, len(text))
	for i := 0; i < len(text); i++ {
		ids[i] = int32(text[i])
	}
	return ids, nil
}

// Detokenize reverses Tokenize.
func (r *Runner) Detokenize(tokens []int32) (string, error) {
	buf := make([]byte, len(tokens))
	for i, id := range tokens {
		buf[i] = byte(id)
	}
	return string(buf), nil
}

// Embed returns a deterministic 8-dimensional vector derived from the text.
func (r *Runner) Embed(text string) ([]float32, error) {
	sum := sha256.Sum256([]byte(text))
	vec := make([]float32, 8)
	for i := range vec {
		bits := binary.BigEndian.Uint32(sum[i*4 : i*4+4])
		vec[i] = float32(bits%2000)/1000 - 1
	}
	return vec, nil
}

func (r *Runner) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed++
	return nil
}

// CloseCount reports how many times Close was called.
func (r *Runner) CloseCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Prompts returns every prompt passed to Generate, in call order.
func (r *Runner) Prompts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.prompts))
	copy(out, r.prompts)
	return out
}
