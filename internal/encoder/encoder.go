// Package encoder implements MemPackEncoder: the one-shot build
// pipeline that chunks ingested text, embeds it in batches, and writes
// an immutable pack file plus its ANN sidecar, generalizing the
// teacher's incremental single-file indexer into an atomic, fatal-on-
// error build.
package encoder

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/maurocanuto/mempack/internal/annindex"
	"github.com/maurocanuto/mempack/internal/chunker"
	"github.com/maurocanuto/mempack/internal/embedder"
	"github.com/maurocanuto/mempack/internal/mempackcfg"
	"github.com/maurocanuto/mempack/internal/mperrors"
	"github.com/maurocanuto/mempack/internal/mptypes"
	"github.com/maurocanuto/mempack/internal/packwriter"
)

type document struct {
	text string
	meta mptypes.Meta
}

// Encoder accumulates documents and, on Build, turns them into a
// complete pack + ANN index pair. An Encoder may run Build more than
// once (the watcher reuses one across debounced rebuilds); cumulative
// counters track activity across every call.
type Encoder struct {
	emb  embedder.Embedder
	cfg  mempackcfg.Config
	docs []document

	// Cumulative counters per spec §5: monotonic, lock-free increments
	// across every Build call this Encoder has run.
	totalBuilds  atomic.Int64
	totalChunks  atomic.Int64
	totalBuildNS atomic.Int64
}

// CumulativeStats reports activity across every Build call this
// Encoder has run, not just the most recent one.
type CumulativeStats struct {
	TotalBuilds int64
	TotalChunks int64
	AvgBuildMS  float64
}

// CumulativeStats returns a snapshot of the Encoder's running totals.
func (e *Encoder) CumulativeStats() CumulativeStats {
	builds := e.totalBuilds.Load()
	stats := CumulativeStats{TotalBuilds: builds, TotalChunks: e.totalChunks.Load()}
	if builds > 0 {
		stats.AvgBuildMS = float64(e.totalBuildNS.Load()) / float64(builds) / float64(time.Millisecond)
	}
	return stats
}

// New creates an Encoder that embeds with emb according to cfg.
func New(emb embedder.Embedder, cfg mempackcfg.Config) *Encoder {
	return &Encoder{emb: emb, cfg: cfg}
}

// Reset discards every registered document while leaving cumulative
// counters intact, so a long-lived Encoder (the watcher's rebuild loop)
// can re-walk its source tree fresh on every Build without re-adding
// stale documents from a previous pass.
func (e *Encoder) Reset() {
	e.docs = nil
}

// AddText registers one document's text and metadata for the next Build.
func (e *Encoder) AddText(text string, meta mptypes.Meta) {
	if meta == nil {
		meta = mptypes.Meta{}
	}
	e.docs = append(e.docs, document{text: text, meta: meta})
}

// AddDirectory walks dir (skipping hidden entries), adding every file
// whose extension matches pattern (a comma-joined glob like
// "*.txt,*.md") as a document tagged with its relative path.
func (e *Encoder) AddDirectory(dir string, pattern string) error {
	patterns := strings.Split(pattern, ",")
	for i := range patterns {
		patterns[i] = strings.TrimSpace(patterns[i])
	}

	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if name != "." && strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") {
			return nil
		}
		matched := false
		for _, p := range patterns {
			if ok, _ := filepath.Match(p, name); ok {
				matched = true
				break
			}
		}
		if !matched {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return mperrors.Wrap(mperrors.IOError, -1, err, "encoder: read "+path)
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			rel = path
		}
		e.AddText(string(data), mptypes.Meta{"source": rel})
		return nil
	})
}

// Build chunks every registered document, embeds the chunks in
// batches, and atomically writes packPath and annPath. Any failure
// leaves no partial pack on disk.
func (e *Encoder) Build(ctx context.Context, packPath, annPath string) (mptypes.BuildStats, error) {
	if len(e.docs) == 0 {
		return mptypes.BuildStats{}, mperrors.New(mperrors.Validation, "encoder: no documents added before Build")
	}

	buildStart := time.Now()

	type pendingChunk struct {
		text string
		meta mptypes.Meta
	}
	var pending []pendingChunk
	for _, doc := range e.docs {
		for _, c := range chunker.Chunk(doc.text, e.cfg.ChunkerOptions()) {
			meta := mptypes.Meta{}
			for k, v := range doc.meta {
				meta[k] = v
			}
			meta["chunk_index"] = c.Index
			pending = append(pending, pendingChunk{text: c.Text, meta: meta})
		}
	}
	if len(pending) == 0 {
		return mptypes.BuildStats{}, mperrors.New(mperrors.Validation, "encoder: documents produced no chunks")
	}

	texts := make([]string, len(pending))
	for i, p := range pending {
		texts[i] = p.text
	}

	embedStart := time.Now()
	batchSize := e.cfg.Embedding.BatchSize
	if batchSize <= 0 {
		batchSize = len(texts)
	}
	vectors := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += batchSize {
		end := min(i+batchSize, len(texts))
		batch, err := e.emb.EmbedBatch(ctx, texts[i:end])
		if err != nil {
			return mptypes.BuildStats{}, mperrors.Wrap(mperrors.EmbedError, int64(i), err, "encoder: embed chunks")
		}
		vectors = append(vectors, batch...)
	}
	if len(vectors) != len(pending) {
		return mptypes.BuildStats{}, mperrors.Newf(mperrors.EmbedError, "encoder: embedder returned %d vectors for %d chunks", len(vectors), len(pending))
	}
	embedElapsed := time.Since(embedStart)

	dim := e.emb.Dimensions()
	chunks := make([]mptypes.Chunk, len(pending))
	for i, p := range pending {
		if len(vectors[i]) != dim {
			return mptypes.BuildStats{}, mperrors.Atf(mperrors.EmbedError, int64(i), "encoder: vector dim %d != embedder dim %d", len(vectors[i]), dim)
		}
		chunks[i] = mptypes.Chunk{
			ID:        uint32(i),
			Text:      p.text,
			Meta:      p.meta,
			Embedding: vectors[i],
		}
	}

	if err := ctx.Err(); err != nil {
		return mptypes.BuildStats{}, err
	}

	writeOpts := packwriter.Options{
		TargetBlockSize: e.cfg.Pack.TargetBlockSize,
		CompressorTag:   e.cfg.CompressorTag(),
		Normalized:      true,
	}
	result, err := packwriter.Write(packPath, chunks, e.emb.ModelName(), dim, writeOpts)
	if err != nil {
		return mptypes.BuildStats{}, err
	}

	idx := annindex.New(dim, e.cfg.ANNParams())
	for _, c := range chunks {
		if err := idx.Add(c.ID, c.Embedding); err != nil {
			return mptypes.BuildStats{}, err
		}
	}
	if err := idx.Save(annPath); err != nil {
		os.Remove(packPath)
		return mptypes.BuildStats{}, err
	}

	buildElapsed := time.Since(buildStart)
	stats := result.Stats
	stats.BuildTimeMS = buildElapsed.Milliseconds()
	stats.EmbeddingTimeMS = embedElapsed.Milliseconds()

	e.totalBuilds.Add(1)
	e.totalChunks.Add(int64(len(chunks)))
	e.totalBuildNS.Add(buildElapsed.Nanoseconds())

	return stats, nil
}
