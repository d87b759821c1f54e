// Package mptypes holds the plain data types shared across MemPack's
// build and retrieval pipelines: the Python original's SearchHit,
// BuildStats, and RetrieverStats dataclasses, ported as Go structs.
package mptypes

// Meta is a chunk's arbitrary, JSON-serializable metadata. Open
// Question (spec §9): values are strict UTF-8 JSON, not arbitrary
// bytes, matching the Python original's plain-dict metadata.
type Meta map[string]any

// Chunk is one unit of retrievable text together with its embedding
// and its position within the pack's block layout.
type Chunk struct {
	ID            uint32
	Text          string
	Meta          Meta
	Embedding     []float32
	BlockID       uint32
	OffsetInBlock int
}

// BlockInfo describes one pack block, mirroring the on-disk directory
// entry plus the chunk range it covers.
type BlockInfo struct {
	ID               uint32
	FirstChunkID     uint32
	LastChunkID      uint32
	Offset           uint64
	CompressedSize   uint64
	UncompressedSize uint64
	Checksum         uint64
}

// SearchHit is one ranked retrieval result.
type SearchHit struct {
	ID    uint32
	Score float32
	Text  string
	Meta  Meta
}

// BuildStats summarizes a completed Encoder.Build call.
type BuildStats struct {
	Chunks           int
	Blocks           int
	Vectors          int
	BytesWritten     int64
	BuildTimeMS      int64
	EmbeddingTimeMS  int64
	CompressionRatio float64
}

// RetrieverStats summarizes a Retriever's cumulative activity.
type RetrieverStats struct {
	CacheHits     int64
	CacheMisses   int64
	AvgFetchMS    float64
	TotalSearches int64
	AvgSearchMS   float64
}
