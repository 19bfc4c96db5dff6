// Package runtime orchestrates chat, generate, and embed flows: it resolves
// models, assembles prompts within the context budget, drives the engine,
// sanitizes output, and persists completed turns.
package runtime

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/jingkaihe/myllm/pkg/budget"
	"github.com/jingkaihe/myllm/pkg/config"
	"github.com/jingkaihe/myllm/pkg/llama"
	"github.com/jingkaihe/myllm/pkg/loader"
	"github.com/jingkaihe/myllm/pkg/logger"
	"github.com/jingkaihe/myllm/pkg/models"
	"github.com/jingkaihe/myllm/pkg/prompts"
	"github.com/jingkaihe/myllm/pkg/sanitize"
	"github.com/jingkaihe/myllm/pkg/sessions"
	"github.com/jingkaihe/myllm/pkg/telemetry"
	"github.com/jingkaihe/myllm/pkg/types/llm"
)

// safetyMargin is reserved from the context window on top of max_tokens so
// template overhead and tokenizer drift cannot overflow the window.
const safetyMargin = 100

// ContextExceededError reports a prompt that cannot fit the model's context
// window even after history truncation.
type ContextExceededError struct {
	Estimated int
	Budget    int
}

func (e *ContextExceededError) Error() string {
	return fmt.Sprintf("prompt of ~%d tokens exceeds the available context budget of %d", e.Estimated, e.Budget)
}

// Runtime wires the registry, engine cache, and session store together.
type Runtime struct {
	settings *config.Settings
	registry *models.Registry
	cache    *loader.Loader
	store    *sessions.Store
	embeds   *embedCache
}

// New builds a runtime from its collaborators.
func New(settings *config.Settings, registry *models.Registry, cache *loader.Loader, store *sessions.Store) *Runtime {
	return &Runtime{
		settings: settings,
		registry: registry,
		cache:    cache,
		store:    store,
		embeds:   newEmbedCache(defaultEmbedTTL),
	}
}

// Registry exposes the model registry for read paths.
func (r *Runtime) Registry() *models.Registry { return r.registry }

// Cache exposes the engine cache for load/unload endpoints.
func (r *Runtime) Cache() *loader.Loader { return r.cache }

// Store exposes the session store for maintenance paths.
func (r *Runtime) Store() *sessions.Store { return r.store }

// EngineLoader builds the loader.LoadFunc that turns a model name into a
// loaded native engine using registry paths and configured defaults.
func EngineLoader(settings *config.Settings, registry *models.Registry) loader.LoadFunc {
	return func(ctx context.Context, name string) (*llama.Engine, error) {
		cfg, err := registry.Config(name)
		if err != nil {
			return nil, err
		}
		path, err := registry.WeightsPath(name)
		if err != nil {
			return nil, err
		}

		ctxSize := cfg.ContextSize
		if ctxSize <= 0 {
			ctxSize = settings.DefaultContextSize
		}
		return llama.Load(ctx, name, llama.LoadConfig{
			Path:        path,
			ContextSize: ctxSize,
			GPULayers:   settings.DefaultNGPULayers,
		})
	}
}

// Result is the terminal record of one streamed inference.
type Result struct {
	Content string
	Usage   llm.Usage
	Err     error
}

// Stream is a sanitized token stream. Tokens closes when generation ends;
// exactly one Result follows.
type Stream struct {
	Tokens <-chan string
	Result <-chan Result
}

// ChatStream is a Stream bound to a session.
type ChatStream struct {
	Stream
	SessionID string
}

// ChatRequest is one chat invocation.
type ChatRequest struct {
	Model     string
	Messages  []llm.Message
	SessionID string
	Options   *llm.Options
}

// Chat resolves the model and session, fits history plus the new messages
// into the context budget, and streams the sanitized completion. The turn is
// persisted after the stream ends cleanly; client cancellation discards it.
func (r *Runtime) Chat(ctx context.Context, req ChatRequest) (*ChatStream, error) {
	cfg, err := r.registry.Config(req.Model)
	if err != nil {
		return nil, err
	}
	if err := llm.ValidateMessages(req.Messages); err != nil {
		return nil, err
	}
	if err := req.Options.Validate(); err != nil {
		return nil, err
	}

	var session sessions.Session
	if req.SessionID != "" {
		session, err = r.store.Get(ctx, req.SessionID)
	} else {
		session, err = r.store.Create(ctx, req.Model)
	}
	if err != nil {
		return nil, err
	}

	history, err := r.store.ListMessages(ctx, session.ID)
	if err != nil {
		return nil, err
	}

	engine, release, err := r.cache.GetOrLoad(ctx, req.Model)
	if err != nil {
		return nil, err
	}

	params := r.resolveParams(cfg, req.Options)
	templateName := cfg.TemplateName()

	ctxSize := cfg.ContextSize
	if ctxSize <= 0 {
		ctxSize = r.settings.DefaultContextSize
	}
	promptBudget := ctxSize - params.MaxTokens - safetyMargin
	if promptBudget <= 0 {
		release()
		return nil, &ContextExceededError{Estimated: params.MaxTokens, Budget: promptBudget}
	}

	counter := budget.CounterFunc(engine.CountTokens)
	fitted := budget.Truncate(counter, templateName, history, req.Messages, promptBudget)

	prompt, err := prompts.Build(templateName, fitted)
	if err != nil {
		release()
		return nil, err
	}
	if estimated := engine.CountTokens(prompt); estimated > promptBudget {
		release()
		return nil, &ContextExceededError{Estimated: estimated, Budget: promptBudget}
	}

	tmpl, err := prompts.Lookup(templateName)
	if err != nil {
		release()
		return nil, err
	}
	params.Stop = mergeStops(tmpl.StopTokens, req.Options)

	stream := r.startGeneration(ctx, engine, prompt, params, release, func(ctx context.Context, result Result) {
		r.persistTurn(ctx, session.ID, req.Messages, result, engine)
	})

	return &ChatStream{Stream: stream, SessionID: session.ID}, nil
}

// GenerateRequest is one stateless completion invocation.
type GenerateRequest struct {
	Model   string
	Prompt  string
	Options *llm.Options
}

// Generate streams a completion for a raw prompt. No session is involved and
// nothing is persisted.
func (r *Runtime) Generate(ctx context.Context, req GenerateRequest) (*Stream, error) {
	cfg, err := r.registry.Config(req.Model)
	if err != nil {
		return nil, err
	}
	if req.Prompt == "" {
		return nil, fmt.Errorf("prompt must not be empty")
	}
	if err := req.Options.Validate(); err != nil {
		return nil, err
	}

	engine, release, err := r.cache.GetOrLoad(ctx, req.Model)
	if err != nil {
		return nil, err
	}

	tmpl, err := prompts.Lookup(cfg.TemplateName())
	if err != nil {
		release()
		return nil, err
	}

	params := r.resolveParams(cfg, req.Options)
	params.Stop = mergeStops(tmpl.StopTokens, req.Options)

	stream := r.startGeneration(ctx, engine, req.Prompt, params, release, nil)
	return &stream, nil
}

// startGeneration drives the engine, pipes tokens through the streaming
// sanitizer, and invokes onDone after a clean end. Client cancellation stops
// reading at the next token boundary and skips onDone. The engine borrow is
// released once the stream has fully ended.
func (r *Runtime) startGeneration(ctx context.Context, engine *llama.Engine, prompt string, params llama.Params, release loader.ReleaseFunc, onDone func(context.Context, Result)) Stream {
	out := make(chan string, 16)
	resultCh := make(chan Result, 1)

	genCtx, cancel := context.WithCancel(ctx)
	sanitizer := sanitize.New(params.Stop)

	go func() {
		defer release()
		defer close(out)
		defer close(resultCh)
		defer cancel()

		_ = telemetry.WithSpan(genCtx, "runtime.generate", func(genCtx context.Context) error {
			tokens, errs := engine.Generate(genCtx, prompt, params)
			stream := sanitizer.Stream()

			var emitted string
		consume:
			for token := range tokens {
				clean, stop := stream.Push(token)
				if stop {
					cancel()
					for range tokens {
						// drain so the engine goroutine exits
					}
					break consume
				}
				if clean == "" {
					continue
				}
				select {
				case out <- clean:
					emitted += clean
				case <-ctx.Done():
					for range tokens {
					}
					break consume
				}
			}

			genErr := <-errs
			result := Result{Content: sanitizer.Clean(emitted), Usage: engine.LastUsage(), Err: genErr}

			if ctx.Err() != nil {
				// Client went away mid-stream; discard the partial turn.
				logger.G(ctx).Debug("generation cancelled by client")
				return nil
			}
			if onDone != nil && genErr == nil {
				onDone(ctx, result)
			}
			resultCh <- result
			return genErr
		}, attribute.Int("prompt_chars", len(prompt)))
	}()

	return Stream{Tokens: out, Result: resultCh}
}

// persistTurn writes the user messages and the assistant reply. Persistence
// failures are logged, never surfaced: the tokens already reached the client.
func (r *Runtime) persistTurn(ctx context.Context, sessionID string, userMessages []llm.Message, result Result, engine *llama.Engine) {
	if result.Content == "" {
		return
	}

	turn := make([]llm.Message, 0, len(userMessages)+1)
	for _, m := range userMessages {
		m.Tokens = engine.CountTokens(m.Content)
		turn = append(turn, m)
	}
	turn = append(turn, llm.Message{
		Role:    llm.RoleAssistant,
		Content: result.Content,
		Tokens:  result.Usage.CompletionTokens,
	})

	if err := r.store.AddTurn(ctx, sessionID, turn...); err != nil {
		logger.G(ctx).WithError(err).WithField("session_id", sessionID).Error("failed to persist conversation turn")
	}
}

func (r *Runtime) resolveParams(cfg models.ModelConfig, opts *llm.Options) llama.Params {
	params := llama.Params{
		Temperature: r.settings.DefaultTemperature,
		TopP:        r.settings.DefaultTopP,
		MaxTokens:   r.settings.DefaultMaxTokens,
	}

	if opts == nil {
		return params
	}
	if opts.Temperature != nil {
		params.Temperature = *opts.Temperature
	}
	if opts.TopP != nil {
		params.TopP = *opts.TopP
	}
	if opts.TopK != nil {
		params.TopK = *opts.TopK
	}
	if opts.MaxTokens != nil {
		params.MaxTokens = *opts.MaxTokens
	}
	if opts.RepeatPenalty != nil {
		params.RepeatPenalty = *opts.RepeatPenalty
	}
	if opts.PresencePenalty != nil {
		params.PresencePenalty = *opts.PresencePenalty
	}
	if opts.FrequencyPenalty != nil {
		params.FrequencyPenalty = *opts.FrequencyPenalty
	}
	return params
}

func mergeStops(templateStops []string, opts *llm.Options) []string {
	merged := make([]string, 0, len(templateStops)+4)
	seen := make(map[string]bool)
	add := func(stops []string) {
		for _, s := range stops {
			if s == "" || seen[s] {
				continue
			}
			seen[s] = true
			merged = append(merged, s)
		}
	}
	add(templateStops)
	if opts != nil {
		add(opts.Stop)
	}
	return merged
}
