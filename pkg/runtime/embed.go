package runtime

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// defaultEmbedTTL bounds how long an embedding result is served from memory.
const defaultEmbedTTL = 5 * time.Minute

type embedEntry struct {
	vector  []float32
	expires time.Time
}

// embedCache memoizes embedding vectors keyed by model and content hash.
type embedCache struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[string]embedEntry
}

func newEmbedCache(ttl time.Duration) *embedCache {
	return &embedCache{ttl: ttl, entries: make(map[string]embedEntry)}
}

func embedKey(model, text string) string {
	sum := sha256.Sum256([]byte(text))
	return model + ":" + hex.EncodeToString(sum[:])
}

func (c *embedCache) get(key string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expires) {
		delete(c.entries, key)
		return nil, false
	}
	return e.vector, true
}

func (c *embedCache) put(key string, vector []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Opportunistically drop expired entries so the map stays bounded.
	now := time.Now()
	for k, e := range c.entries {
		if now.After(e.expires) {
			delete(c.entries, k)
		}
	}
	c.entries[key] = embedEntry{vector: vector, expires: now.Add(c.ttl)}
}

// Embed returns the embedding vector for a text, memoized per model and
// content for a short TTL.
func (r *Runtime) Embed(ctx context.Context, model, text string) ([]float32, error) {
	if _, err := r.registry.Config(model); err != nil {
		return nil, err
	}

	key := embedKey(model, text)
	if vec, ok := r.embeds.get(key); ok {
		return vec, nil
	}

	engine, release, err := r.cache.GetOrLoad(ctx, model)
	if err != nil {
		return nil, err
	}
	defer release()

	vec, err := engine.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	r.embeds.put(key, vec)
	return vec, nil
}
