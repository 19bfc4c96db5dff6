// Package loader keeps a bounded set of loaded engines with LRU eviction.
// Concurrent requests for the same model coalesce onto one native load, and
// an engine handed out stays open until every borrower has released it, even
// when it is evicted in the meantime.
package loader

import (
	"container/list"
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/singleflight"

	"github.com/jingkaihe/myllm/pkg/llama"
	"github.com/jingkaihe/myllm/pkg/logger"
)

// LoadFunc performs the actual native load for a model name.
type LoadFunc func(ctx context.Context, name string) (*llama.Engine, error)

// ReleaseFunc returns a borrowed engine to the cache. Calling it more than
// once is a no-op.
type ReleaseFunc func()

// NotLoadedError reports an unload of a model that is not in the cache.
type NotLoadedError struct {
	Name string
}

func (e *NotLoadedError) Error() string {
	return fmt.Sprintf("model %q is not loaded", e.Name)
}

type cached struct {
	name   string
	engine *llama.Engine

	// refs counts outstanding borrows; doomed marks an entry evicted while
	// borrowed, to be closed by the last release. Both guarded by Loader.mu.
	refs   int
	doomed bool
}

// Loader is the engine cache. Safe for concurrent use.
type Loader struct {
	maxLoaded int
	load      LoadFunc

	group singleflight.Group

	mu      sync.Mutex
	order   *list.List // front is most recently used
	entries map[string]*list.Element
}

// New creates a cache holding at most maxLoaded engines.
func New(maxLoaded int, load LoadFunc) *Loader {
	if maxLoaded < 1 {
		maxLoaded = 1
	}
	return &Loader{
		maxLoaded: maxLoaded,
		load:      load,
		order:     list.New(),
		entries:   make(map[string]*list.Element),
	}
}

// GetOrLoad returns the cached engine for name, loading it on a miss, along
// with a release the caller must invoke once done with the engine. The engine
// is not closed before its release is called, even if eviction or Unload
// removes it from the cache first. Concurrent callers for the same name share
// a single load, and a failed load is delivered to every waiter.
func (l *Loader) GetOrLoad(ctx context.Context, name string) (*llama.Engine, ReleaseFunc, error) {
	for {
		if engine, release, ok := l.acquire(name); ok {
			return engine, release, nil
		}

		_, err, _ := l.group.Do(name, func() (interface{}, error) {
			if l.IsLoaded(name) {
				return nil, nil
			}

			logger.G(ctx).WithField("model", name).Info("loading model")
			engine, err := l.load(ctx, name)
			if err != nil {
				return nil, err
			}

			l.insert(ctx, name, engine)
			return nil, nil
		})
		if err != nil {
			return nil, nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		// A concurrent load can evict the entry between the flight and our
		// acquire; loop and load again when that happens.
	}
}

// acquire takes a borrow on a cached engine and marks it most recently used.
func (l *Loader) acquire(name string) (*llama.Engine, ReleaseFunc, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	elem, ok := l.entries[name]
	if !ok {
		return nil, nil, false
	}
	c := elem.Value.(*cached)
	c.refs++
	l.order.MoveToFront(elem)

	var once sync.Once
	return c.engine, func() { once.Do(func() { l.release(c) }) }, true
}

// release drops one borrow. The last borrower of a doomed entry closes it.
func (l *Loader) release(c *cached) {
	l.mu.Lock()
	c.refs--
	closeNow := c.doomed && c.refs == 0
	l.mu.Unlock()

	if closeNow {
		logger.L.WithField("model", c.name).Info("closing evicted model after last release")
		if err := c.engine.Close(); err != nil {
			logger.L.WithField("model", c.name).WithError(err).Warn("failed to close evicted engine")
		}
	}
}

// insert adds a freshly loaded engine and evicts beyond capacity. Evicted
// engines still borrowed are marked doomed and closed by their last release;
// the rest are closed here, outside the structural lock.
func (l *Loader) insert(ctx context.Context, name string, engine *llama.Engine) {
	var closeNow []*cached

	l.mu.Lock()
	if elem, ok := l.entries[name]; ok {
		// Lost a race with another insert for the same name; keep the
		// existing engine and drop the new one.
		closeNow = append(closeNow, &cached{name: name, engine: engine})
		l.order.MoveToFront(elem)
	} else {
		l.entries[name] = l.order.PushFront(&cached{name: name, engine: engine})
	}
	for l.order.Len() > l.maxLoaded {
		oldest := l.order.Back()
		c := oldest.Value.(*cached)
		l.order.Remove(oldest)
		delete(l.entries, c.name)
		if c.refs > 0 {
			c.doomed = true
			continue
		}
		closeNow = append(closeNow, c)
	}
	l.mu.Unlock()

	for _, c := range closeNow {
		logger.G(ctx).WithField("model", c.name).Info("evicting model")
		if err := c.engine.Close(); err != nil {
			logger.G(ctx).WithField("model", c.name).WithError(err).Warn("failed to close evicted engine")
		}
	}
}

// Preload loads a model without keeping a borrow on the engine.
func (l *Loader) Preload(ctx context.Context, name string) error {
	_, release, err := l.GetOrLoad(ctx, name)
	if err != nil {
		return err
	}
	release()
	return nil
}

// Unload evicts one model. Returns NotLoadedError when it is not cached. An
// engine still borrowed is closed once its last borrower releases it.
func (l *Loader) Unload(ctx context.Context, name string) error {
	l.mu.Lock()
	elem, ok := l.entries[name]
	if !ok {
		l.mu.Unlock()
		return &NotLoadedError{Name: name}
	}
	c := elem.Value.(*cached)
	l.order.Remove(elem)
	delete(l.entries, name)
	borrowed := c.refs > 0
	if borrowed {
		c.doomed = true
	}
	l.mu.Unlock()

	logger.G(ctx).WithField("model", name).Info("unloading model")
	if borrowed {
		return nil
	}
	return c.engine.Close()
}

// IsLoaded reports whether a model is currently cached.
func (l *Loader) IsLoaded(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.entries[name]
	return ok
}

// Loaded returns the cached model names, most recently used first.
func (l *Loader) Loaded() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]string, 0, l.order.Len())
	for elem := l.order.Front(); elem != nil; elem = elem.Next() {
		out = append(out, elem.Value.(*cached).name)
	}
	return out
}

// Close evicts every cached engine. Engines still borrowed are closed by
// their last release.
func (l *Loader) Close() error {
	l.mu.Lock()
	var closeNow []*cached
	for elem := l.order.Front(); elem != nil; elem = elem.Next() {
		c := elem.Value.(*cached)
		if c.refs > 0 {
			c.doomed = true
			continue
		}
		closeNow = append(closeNow, c)
	}
	l.order.Init()
	l.entries = make(map[string]*list.Element)
	l.mu.Unlock()

	var result *multierror.Error
	for _, c := range closeNow {
		if err := c.engine.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	return result.ErrorOrNil()
}
