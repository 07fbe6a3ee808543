package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	kberrors "github.com/vaultmcp/vaultmcp/internal/errors"
)

// DefaultCacheSize is the embedding cache capacity used when the config
// does not set one.
const DefaultCacheSize = 4096

// Cached wraps an Embedder with an LRU cache keyed by model and text.
// Re-ingesting unchanged documents and re-running queries then cost no
// provider calls. Callers must not mutate returned vectors.
type Cached struct {
	inner Embedder
	cache *lru.Cache[string, []float32]

	hits   atomic.Int64
	misses atomic.Int64
}

// NewCached wraps inner with a cache of the given capacity.
func NewCached(inner Embedder, size int) (*Cached, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, kberrors.Wrap(err, kberrors.KindInternal, "create embedding cache")
	}
	return &Cached{inner: inner, cache: cache}, nil
}

func (c *Cached) key(text string) string {
	h := sha256.New()
	h.Write([]byte(c.inner.ModelName()))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.key(text)
	if vec, ok := c.cache.Get(key); ok {
		c.hits.Add(1)
		return vec, nil
	}
	c.misses.Add(1)

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, vec)
	return vec, nil
}

func (c *Cached) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))

	var missing []string
	var missingIdx []int
	for i, text := range texts {
		if vec, ok := c.cache.Get(c.key(text)); ok {
			c.hits.Add(1)
			out[i] = vec
			continue
		}
		c.misses.Add(1)
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	vecs, err := c.inner.EmbedBatch(ctx, missing)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missing) {
		return nil, kberrors.Newf(kberrors.KindEmbeddingFailure, "embedder returned %d vectors for %d inputs", len(vecs), len(missing))
	}
	for j, vec := range vecs {
		out[missingIdx[j]] = vec
		c.cache.Add(c.key(missing[j]), vec)
	}
	return out, nil
}

// Stats reports cache hits and misses since construction.
func (c *Cached) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *Cached) Dimensions() int { return c.inner.Dimensions() }

func (c *Cached) ModelName() string { return c.inner.ModelName() }

func (c *Cached) Available() bool { return c.inner.Available() }

func (c *Cached) Close() error {
	c.cache.Purge()
	return c.inner.Close()
}

var _ Embedder = (*Cached)(nil)
