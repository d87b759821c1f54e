// Package retriever implements MemPackRetriever: the search pipeline
// over an opened pack and its ANN sidecar — embed query, ANN k-NN,
// block-grouped fetch, metadata filter, stable rank, truncate —
// generalizing the teacher's over-fetch-then-rerank search into an
// explicit Unopened→Open→Closed lifecycle matching the Python
// original's context-manager usage.
package retriever

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maurocanuto/mempack/internal/annindex"
	"github.com/maurocanuto/mempack/internal/embedder"
	"github.com/maurocanuto/mempack/internal/mperrors"
	"github.com/maurocanuto/mempack/internal/mptypes"
	"github.com/maurocanuto/mempack/internal/packreader"
)

type state int

const (
	stateUnopened state = iota
	stateOpen
	stateClosed
)

// defaultOverFetch widens the ANN candidate set when a metadata filter
// is in play, so a restrictive filter doesn't starve the final top-K.
// Without a filter every candidate already survives, so over-fetching
// would only waste fetch work.
const defaultOverFetch = 4

// Options configures a Retriever.
type Options struct {
	EfSearch         int
	BlockCacheBudget int64
	// OverFetch scales the ANN candidate pool (top_k * OverFetch) when
	// a Search call supplies a metadata filter. Non-positive uses
	// defaultOverFetch.
	OverFetch int
}

// DefaultOptions returns spec-default retriever options.
func DefaultOptions() Options {
	return Options{EfSearch: 50, BlockCacheBudget: 32 << 20, OverFetch: defaultOverFetch}
}

// Retriever is a search handle over one pack + ANN index pair.
type Retriever struct {
	mu    sync.RWMutex
	state state

	reader    *packreader.Reader
	ann       *annindex.Index
	emb       embedder.Embedder
	overFetch int

	// Statistics counters per spec §5: monotonic, lock-free increments,
	// eventually consistent under concurrent Search calls but never
	// decrease.
	totalFetchNS  atomic.Int64
	fetchCount    atomic.Int64
	totalSearches atomic.Int64
	totalSearchNS atomic.Int64
}

// Open opens packPath and annPath and returns a ready-to-query
// Retriever. emb must produce vectors in the same space the pack was
// built with.
func Open(packPath, annPath string, emb embedder.Embedder, opts Options) (*Retriever, error) {
	reader, err := packreader.Open(packPath, opts.BlockCacheBudget)
	if err != nil {
		return nil, err
	}
	ann, err := annindex.Load(annPath)
	if err != nil {
		reader.Close()
		return nil, err
	}
	// D must agree between the pack header and the ANN sidecar; a
	// mismatch is a load-time error. The sidecar header carries no model
	// name, so the embedding model is not cross-checked.
	if got, want := ann.Dim(), int(reader.Header().Dim); got != want {
		reader.Close()
		return nil, mperrors.Newf(mperrors.FormatError, "retriever: ANN dim %d != pack dim %d", got, want)
	}
	if opts.EfSearch > 0 {
		ann.SetEfSearch(opts.EfSearch)
	}
	overFetch := opts.OverFetch
	if overFetch <= 0 {
		overFetch = defaultOverFetch
	}

	r := &Retriever{
		reader:    reader,
		ann:       ann,
		emb:       emb,
		overFetch: overFetch,
		state:     stateOpen,
	}
	return r, nil
}

// Close releases the pack and ANN resources. Close is idempotent.
func (r *Retriever) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == stateClosed {
		return nil
	}
	r.state = stateClosed
	return r.reader.Close()
}

func (r *Retriever) requireOpen() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch r.state {
	case stateUnopened:
		return mperrors.New(mperrors.InternalError, "retriever: not opened")
	case stateClosed:
		return mperrors.New(mperrors.InternalError, "retriever: already closed")
	default:
		return nil
	}
}

// Search embeds query, retrieves its nearest chunks, applies
// filterMeta (exact match on every key present in filterMeta; nil
// disables filtering), and returns up to topK hits stably sorted by
// descending score.
func (r *Retriever) Search(ctx context.Context, query string, topK int, filterMeta map[string]any) ([]mptypes.SearchHit, error) {
	if err := r.requireOpen(); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return nil, mperrors.New(mperrors.Validation, "retriever: topK must be positive")
	}

	start := time.Now()
	vec, err := r.emb.EmbedQuery(ctx, query)
	if err != nil {
		return nil, mperrors.Wrap(mperrors.EmbedError, -1, err, "retriever: embed query")
	}

	// over-fetch only when a filter narrows the candidate set, per
	// spec §4.5: over_fetch ≥ 1 applies with a filter, else 1.
	overFetch := 1
	if len(filterMeta) > 0 {
		overFetch = r.overFetch
	}
	fetchK := topK * overFetch
	results, err := r.ann.KNNQuery(vec, fetchK)
	if err != nil {
		return nil, err
	}

	fetchStart := time.Now()
	hits := make([]mptypes.SearchHit, 0, len(results))
	for _, res := range results {
		chunk, err := r.reader.GetChunk(res.ChunkID)
		if err != nil {
			// A corrupt block fails this one candidate, not the whole
			// search; spec §7: search errors are per-call, the
			// retriever remains usable.
			continue
		}
		if !matchesFilter(chunk.Meta, filterMeta) {
			continue
		}
		hits = append(hits, mptypes.SearchHit{
			ID:    chunk.ID,
			Score: res.Score,
			Text:  chunk.Text,
			Meta:  chunk.Meta,
		})
	}
	r.recordFetch(time.Since(fetchStart))

	// Per spec §5: descending similarity, stable tie-break by ascending id.
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}

	r.recordSearch(time.Since(start))
	return hits, nil
}

// SearchBatch runs Search for each query independently, in order.
func (r *Retriever) SearchBatch(ctx context.Context, queries []string, topK int) ([][]mptypes.SearchHit, error) {
	out := make([][]mptypes.SearchHit, len(queries))
	for i, q := range queries {
		hits, err := r.Search(ctx, q, topK, nil)
		if err != nil {
			return nil, err
		}
		out[i] = hits
	}
	return out, nil
}

// GetChunkByID fetches one chunk directly, bypassing the ANN index.
func (r *Retriever) GetChunkByID(id uint32) (mptypes.Chunk, error) {
	if err := r.requireOpen(); err != nil {
		return mptypes.Chunk{}, err
	}
	return r.reader.GetChunk(id)
}

// Verify re-checks every block's checksum, per spec §7's verify()
// contract: a boolean result plus the first offending block id.
func (r *Retriever) Verify() (bool, uint32, error) {
	if err := r.requireOpen(); err != nil {
		return false, 0, err
	}
	return r.reader.Verify()
}

// GetStats returns a snapshot of cumulative search/fetch statistics.
func (r *Retriever) GetStats() mptypes.RetrieverStats {
	totalSearches := r.totalSearches.Load()
	fetchCount := r.fetchCount.Load()

	stats := mptypes.RetrieverStats{
		TotalSearches: totalSearches,
	}
	if totalSearches > 0 {
		avgNS := float64(r.totalSearchNS.Load()) / float64(totalSearches)
		stats.AvgSearchMS = avgNS / float64(time.Millisecond)
	}
	if fetchCount > 0 {
		avgNS := float64(r.totalFetchNS.Load()) / float64(fetchCount)
		stats.AvgFetchMS = avgNS / float64(time.Millisecond)
	}
	blockStats := r.reader.CacheStats()
	stats.CacheHits = blockStats.Hits
	stats.CacheMisses = blockStats.Misses
	return stats
}

func (r *Retriever) recordFetch(d time.Duration) {
	r.fetchCount.Add(1)
	r.totalFetchNS.Add(d.Nanoseconds())
}

func (r *Retriever) recordSearch(d time.Duration) {
	r.totalSearches.Add(1)
	r.totalSearchNS.Add(d.Nanoseconds())
}

func matchesFilter(meta mptypes.Meta, filter map[string]any) bool {
	if len(filter) == 0 {
		return true
	}
	for k, want := range filter {
		got, ok := meta[k]
		if !ok || got != want {
			return false
		}
	}
	return true
}

// WithRetriever opens a Retriever, runs fn, and closes it even if fn
// panics or returns an error — the Go equivalent of the Python
// original's `with MemPackRetriever(...) as retriever:` usage.
func WithRetriever(packPath, annPath string, emb embedder.Embedder, opts Options, fn func(*Retriever) error) error {
	r, err := Open(packPath, annPath, emb, opts)
	if err != nil {
		return err
	}
	defer r.Close()
	return fn(r)
}
