// Package mempackcfg loads the nested TOML configuration that
// parametrizes a MemPack build: chunking, embedding, index, and pack
// sections, generalizing the teacher's flat `.sift.toml` into the
// structure the Python original's MemPackConfig exposes.
package mempackcfg

import (
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/maurocanuto/mempack/internal/annindex"
	"github.com/maurocanuto/mempack/internal/chunker"
	"github.com/maurocanuto/mempack/internal/compressor"
)

// ChunkingConfig controls internal/chunker.Options.
type ChunkingConfig struct {
	ChunkSize    int `toml:"chunk_size"`
	ChunkOverlap int `toml:"chunk_overlap"`
	MinChunkSize int `toml:"min_chunk_size"`
	Window       int `toml:"window"`
}

// EmbeddingConfig selects and configures the embedder.
type EmbeddingConfig struct {
	// Model is "static" or a directory containing model.onnx +
	// tokenizer.json for the transformer embedder.
	Model      string `toml:"model"`
	OrtLibPath string `toml:"ort_lib_path"`
	Threads    int    `toml:"threads"`
	BatchSize  int    `toml:"batch_size"`
	CacheSize  int    `toml:"cache_size"`
}

// HNSWConfig controls internal/annindex.Params.
type HNSWConfig struct {
	M              int `toml:"M"`
	EfConstruction int `toml:"ef_construction"`
	EfSearch       int `toml:"ef_search"`
}

// IndexConfig wraps the ANN index sub-configuration.
type IndexConfig struct {
	HNSW HNSWConfig `toml:"hnsw"`
}

// PackConfig controls pack-level build options.
type PackConfig struct {
	Compressor       string `toml:"compressor"`
	TargetBlockSize  int    `toml:"target_block_size"`
	BlockCacheBudget int64  `toml:"block_cache_budget_bytes"`
}

// Config is the complete MemPack build/search configuration.
type Config struct {
	Chunking  ChunkingConfig  `toml:"chunking"`
	Embedding EmbeddingConfig `toml:"embedding"`
	Index     IndexConfig     `toml:"index"`
	Pack      PackConfig      `toml:"pack"`
}

// Default returns the spec-default configuration.
func Default() Config {
	return Config{
		Chunking: ChunkingConfig{
			ChunkSize:    300,
			ChunkOverlap: 50,
			MinChunkSize: 20,
			Window:       40,
		},
		Embedding: EmbeddingConfig{
			Model:     "static",
			Threads:   0,
			BatchSize: 4,
			CacheSize: 1000,
		},
		Index: IndexConfig{
			HNSW: HNSWConfig{
				M:              16,
				EfConstruction: 200,
				EfSearch:       50,
			},
		},
		Pack: PackConfig{
			Compressor:       "zstd",
			TargetBlockSize:  256 << 10,
			BlockCacheBudget: 32 << 20,
		},
	}
}

// Load reads a TOML config file at path, filling unset fields from
// Default. A missing file is not an error: Default() is returned as-is.
func Load(path string) (Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, err
	}
	if err := toml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ChunkerOptions converts ChunkingConfig into chunker.Options.
func (c Config) ChunkerOptions() chunker.Options {
	return chunker.Options{
		ChunkSize:    c.Chunking.ChunkSize,
		ChunkOverlap: c.Chunking.ChunkOverlap,
		MinChunkSize: c.Chunking.MinChunkSize,
		Window:       c.Chunking.Window,
	}
}

// ANNParams converts HNSWConfig into annindex.Params.
func (c Config) ANNParams() annindex.Params {
	return annindex.Params{
		M:              c.Index.HNSW.M,
		EfConstruction: c.Index.HNSW.EfConstruction,
		EfSearch:       c.Index.HNSW.EfSearch,
	}
}

// CompressorTag converts Pack.Compressor into a compressor.Tag.
func (c Config) CompressorTag() compressor.Tag {
	if c.Pack.Compressor == "none" {
		return compressor.TagNone
	}
	return compressor.TagZstd
}
