//go:build llama

package llama

import (
	"context"

	llamago "github.com/tcpipuk/llama-go"
)

// cgoRunner adapts the llama-go binding to the runner seam.
type cgoRunner struct {
	model    *llamago.Model
	llamaCtx *llamago.Context
}

// Load loads GGUF weights into a native context.
func Load(ctx context.Context, name string, cfg LoadConfig) (*Engine, error) {
	modelOpts := []llamago.ModelOption{
		llamago.WithGPULayers(cfg.GPULayers),
		llamago.WithSilentLoading(),
	}

	model, err := llamago.LoadModel(cfg.Path, modelOpts...)
	if err != nil {
		return nil, &LoadError{Model: name, Err: err}
	}

	var ctxOpts []llamago.ContextOption
	if cfg.ContextSize > 0 {
		ctxOpts = append(ctxOpts, llamago.WithContext(cfg.ContextSize))
	}
	if cfg.Threads > 0 {
		ctxOpts = append(ctxOpts, llamago.WithThreads(cfg.Threads))
	}

	llamaCtx, err := model.NewContext(ctxOpts...)
	if err != nil {
		_ = model.Close()
		return nil, &LoadError{Model: name, Err: err}
	}

	return NewEngine(name, &cgoRunner{model: model, llamaCtx: llamaCtx}), nil
}

func (r *cgoRunner) Generate(ctx context.Context, prompt string, p Params) (<-chan string, <-chan error) {
	chatOpts := llamago.ChatOptions{}
	if p.MaxTokens > 0 {
		chatOpts.MaxTokens = llamago.Int(p.MaxTokens)
	}
	if p.Temperature > 0 {
		chatOpts.Temperature = llamago.Float32(float32(p.Temperature))
	}
	if len(p.Stop) > 0 {
		chatOpts.StopWords = p.Stop
	}

	// The prompt is already fully rendered by the composer; hand it over as
	// a single raw turn so the binding does not re-template it.
	msgs := []llamago.ChatMessage{{Role: "user", Content: prompt}}

	deltaCh, errCh := r.llamaCtx.ChatStream(ctx, msgs, chatOpts)

	out := make(chan string, 16)
	errs := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errs)
		for {
			select {
			case delta, ok := <-deltaCh:
				if !ok {
					return
				}
				if delta.Content == "" {
					continue
				}
				select {
				case out <- delta.Content:
				case <-ctx.Done():
					return
				}
			case err, ok := <-errCh:
				if ok && err != nil {
					errs <- err
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, errs
}

func (r *cgoRunner) Close() error {
	if r.llamaCtx != nil {
		_ = r.llamaCtx.Close()
	}
	if r.model != nil {
		return r.model.Close()
	}
	return nil
}
