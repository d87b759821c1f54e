package mempackcfg

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultMatchesSpecDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Chunking.ChunkSize != 300 || cfg.Chunking.ChunkOverlap != 50 {
		t.Fatalf("unexpected chunking defaults: %+v", cfg.Chunking)
	}
	if cfg.Index.HNSW.M != 16 || cfg.Index.HNSW.EfConstruction != 200 {
		t.Fatalf("unexpected hnsw defaults: %+v", cfg.Index.HNSW)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg != Default() {
		t.Fatalf("expected defaults for missing file, got %+v", cfg)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mempack.toml")
	content := `
[chunking]
chunk_size = 512
chunk_overlap = 64

[index.hnsw]
M = 32
ef_search = 64

[embedding]
model = "static"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Chunking.ChunkSize != 512 {
		t.Errorf("ChunkSize = %d, want 512", cfg.Chunking.ChunkSize)
	}
	if cfg.Chunking.ChunkOverlap != 64 {
		t.Errorf("ChunkOverlap = %d, want 64", cfg.Chunking.ChunkOverlap)
	}
	if cfg.Index.HNSW.M != 32 {
		t.Errorf("HNSW.M = %d, want 32", cfg.Index.HNSW.M)
	}
	if cfg.Index.HNSW.EfSearch != 64 {
		t.Errorf("HNSW.EfSearch = %d, want 64", cfg.Index.HNSW.EfSearch)
	}
	// Fields not present in the file fall back to defaults.
	if cfg.Chunking.MinChunkSize != Default().Chunking.MinChunkSize {
		t.Errorf("MinChunkSize = %d, want default %d", cfg.Chunking.MinChunkSize, Default().Chunking.MinChunkSize)
	}
}

func TestConvertersMatchConfig(t *testing.T) {
	cfg := Default()
	opts := cfg.ChunkerOptions()
	if opts.ChunkSize != cfg.Chunking.ChunkSize {
		t.Errorf("ChunkerOptions mismatch")
	}
	params := cfg.ANNParams()
	if params.M != cfg.Index.HNSW.M {
		t.Errorf("ANNParams mismatch")
	}
	if cfg.CompressorTag() != 1 {
		t.Errorf("default CompressorTag should be zstd (1)")
	}
}
