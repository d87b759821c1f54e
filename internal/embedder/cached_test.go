package embedder

import (
	"context"
	"sync/atomic"
	"testing"
)

// countingEmbedder wraps StaticEmbedder but counts how many times the
// underlying batch/query computation actually ran, so tests can assert
// on cache hit/miss behavior without depending on StaticEmbedder's
// internals.
type countingEmbedder struct {
	*StaticEmbedder
	batchCalls atomic.Int64
	queryCalls atomic.Int64
}

func newCountingEmbedder() *countingEmbedder {
	return &countingEmbedder{StaticEmbedder: NewStaticEmbedder()}
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.batchCalls.Add(1)
	return c.StaticEmbedder.EmbedBatch(ctx, texts)
}

func (c *countingEmbedder) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	c.queryCalls.Add(1)
	return c.StaticEmbedder.EmbedQuery(ctx, query)
}

func TestCachedEmbedderHitsCacheOnRepeat(t *testing.T) {
	inner := newCountingEmbedder()
	c := NewCachedEmbedder(inner, 10)
	ctx := context.Background()

	if _, err := c.EmbedBatch(ctx, []string{"same text"}); err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if _, err := c.EmbedBatch(ctx, []string{"same text"}); err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if inner.batchCalls.Load() != 1 {
		t.Fatalf("inner EmbedBatch called %d times, want 1 (second call should hit cache)", inner.batchCalls.Load())
	}
}

func TestCachedEmbedderPartialHit(t *testing.T) {
	inner := newCountingEmbedder()
	c := NewCachedEmbedder(inner, 10)
	ctx := context.Background()

	if _, err := c.EmbedBatch(ctx, []string{"first"}); err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	results, err := c.EmbedBatch(ctx, []string{"first", "second"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if inner.batchCalls.Load() != 2 {
		t.Fatalf("inner EmbedBatch called %d times, want 2 (one miss batch of size 1 each call)", inner.batchCalls.Load())
	}
}

func TestCachedEmbedderQueryCache(t *testing.T) {
	inner := newCountingEmbedder()
	c := NewCachedEmbedder(inner, 10)
	ctx := context.Background()

	if _, err := c.EmbedQuery(ctx, "what is mempack"); err != nil {
		t.Fatalf("EmbedQuery: %v", err)
	}
	if _, err := c.EmbedQuery(ctx, "what is mempack"); err != nil {
		t.Fatalf("EmbedQuery: %v", err)
	}
	if inner.queryCalls.Load() != 1 {
		t.Fatalf("inner EmbedQuery called %d times, want 1", inner.queryCalls.Load())
	}
}

func TestCachedEmbedderPassthroughs(t *testing.T) {
	inner := newCountingEmbedder()
	c := NewCachedEmbedder(inner, 10)

	if c.Dimensions() != inner.Dimensions() {
		t.Errorf("Dimensions mismatch")
	}
	if c.ModelName() != inner.ModelName() {
		t.Errorf("ModelName mismatch")
	}
	if c.Inner() != inner {
		t.Errorf("Inner() did not return wrapped embedder")
	}
}

func TestCachedEmbedderStats(t *testing.T) {
	inner := newCountingEmbedder()
	c := NewCachedEmbedder(inner, 5)
	ctx := context.Background()
	c.EmbedBatch(ctx, []string{"a", "b", "c"})
	stats := c.Stats()
	if stats.Len != 3 {
		t.Fatalf("Stats().Len = %d, want 3", stats.Len)
	}
	if stats.Cap != 5 {
		t.Fatalf("Stats().Cap = %d, want 5", stats.Cap)
	}
}
