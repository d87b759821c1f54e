// CachedEmbedder decorates an Embedder with an LRU cache keyed by
// SHA-256(text‖model), avoiding redundant embedding calls for repeated
// queries — the retriever's query cache from spec §9.
package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the default number of embeddings kept in memory.
const DefaultCacheSize = 1000

// CachedEmbedder wraps an Embedder, caching every text it embeds.
type CachedEmbedder struct {
	inner    Embedder
	cache    *lru.Cache[string, []float32]
	capacity int
}

// NewCachedEmbedder wraps inner with an LRU cache of the given size.
// A non-positive size uses DefaultCacheSize.
func NewCachedEmbedder(inner Embedder, cacheSize int) *CachedEmbedder {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, _ := lru.New[string, []float32](cacheSize)
	return &CachedEmbedder{inner: inner, cache: cache, capacity: cacheSize}
}

func (c *CachedEmbedder) cacheKey(text string) string {
	combined := text + "\x00" + c.inner.ModelName()
	sum := sha256.Sum256([]byte(combined))
	return hex.EncodeToString(sum[:])
}

// EmbedBatch implements Embedder, checking and populating the cache per
// text so repeated chunks across builds reuse their embeddings.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))
	missIdx := make([]int, 0, len(texts))
	missTexts := make([]string, 0, len(texts))

	for i, text := range texts {
		if vec, ok := c.cache.Get(c.cacheKey(text)); ok {
			results[i] = vec
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}
	if len(missTexts) == 0 {
		return results, nil
	}

	computed, err := c.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, idx := range missIdx {
		results[idx] = computed[j]
		c.cache.Add(c.cacheKey(texts[idx]), computed[j])
	}
	return results, nil
}

// EmbedQuery implements Embedder, caching the query embedding.
func (c *CachedEmbedder) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	key := c.cacheKey(queryPrefix + query)
	if vec, ok := c.cache.Get(key); ok {
		return vec, nil
	}
	vec, err := c.inner.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, vec)
	return vec, nil
}

// Dimensions implements Embedder.
func (c *CachedEmbedder) Dimensions() int { return c.inner.Dimensions() }

// ModelName implements Embedder.
func (c *CachedEmbedder) ModelName() string { return c.inner.ModelName() }

// Close implements Embedder, closing the wrapped embedder.
func (c *CachedEmbedder) Close() error { return c.inner.Close() }

// Inner returns the wrapped embedder.
func (c *CachedEmbedder) Inner() Embedder { return c.inner }

// CacheStats reports the cache's current occupancy and capacity; hits,
// misses and evictions are not counted.
type CacheStats struct {
	Len int
	Cap int
}

// Stats returns a snapshot of the cache's current occupancy.
func (c *CachedEmbedder) Stats() CacheStats {
	return CacheStats{Len: c.cache.Len(), Cap: c.capacity}
}
