package encoder

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/maurocanuto/mempack/internal/embedder"
	"github.com/maurocanuto/mempack/internal/mempackcfg"
	"github.com/maurocanuto/mempack/internal/packreader"
)

func testConfig() mempackcfg.Config {
	cfg := mempackcfg.Default()
	cfg.Chunking.ChunkSize = 40
	cfg.Chunking.ChunkOverlap = 5
	cfg.Chunking.MinChunkSize = 5
	cfg.Chunking.Window = 5
	return cfg
}

func TestBuildRejectsNoDocuments(t *testing.T) {
	e := New(embedder.NewStaticEmbedder(), testConfig())
	dir := t.TempDir()
	_, err := e.Build(context.Background(), filepath.Join(dir, "p.mempack"), filepath.Join(dir, "p.mpann"))
	if err == nil {
		t.Fatal("expected error building with no documents")
	}
}

func TestBuildProducesReadablePack(t *testing.T) {
	e := New(embedder.NewStaticEmbedder(), testConfig())
	e.AddText("The quick brown fox jumps over the lazy dog. It was a sunny afternoon in the meadow.", map[string]any{"source": "fox.txt"})
	e.AddText("Quantum computers exploit superposition and entanglement to perform certain calculations faster.", map[string]any{"source": "quantum.txt"})

	dir := t.TempDir()
	packPath := filepath.Join(dir, "kb.mempack")
	annPath := filepath.Join(dir, "kb.mpann")

	stats, err := e.Build(context.Background(), packPath, annPath)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if stats.Chunks == 0 {
		t.Fatal("expected at least one chunk")
	}
	if stats.Vectors != stats.Chunks {
		t.Fatalf("Vectors = %d, want %d", stats.Vectors, stats.Chunks)
	}

	if _, err := os.Stat(packPath); err != nil {
		t.Fatalf("pack file missing: %v", err)
	}
	if _, err := os.Stat(annPath); err != nil {
		t.Fatalf("ann file missing: %v", err)
	}

	r, err := packreader.Open(packPath, 0)
	if err != nil {
		t.Fatalf("packreader.Open: %v", err)
	}
	defer r.Close()
	if int(r.Header().NChunks) != stats.Chunks {
		t.Fatalf("pack header NChunks = %d, want %d", r.Header().NChunks, stats.Chunks)
	}
}

func TestAddDirectorySkipsHiddenAndUnmatched(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "doc.md"), []byte("alpha beta gamma delta epsilon zeta eta theta"), 0o644)
	os.WriteFile(filepath.Join(dir, "ignore.bin"), []byte{0, 1, 2}, 0o644)
	os.Mkdir(filepath.Join(dir, ".git"), 0o755)
	os.WriteFile(filepath.Join(dir, ".git", "config"), []byte("alpha"), 0o644)

	e := New(embedder.NewStaticEmbedder(), testConfig())
	if err := e.AddDirectory(dir, "*.md"); err != nil {
		t.Fatalf("AddDirectory: %v", err)
	}
	if len(e.docs) != 1 {
		t.Fatalf("expected 1 matched document, got %d", len(e.docs))
	}
	if e.docs[0].meta["source"] != "doc.md" {
		t.Errorf("source meta = %v, want doc.md", e.docs[0].meta["source"])
	}
}

func TestBuildWithSingleDocumentSucceeds(t *testing.T) {
	e := New(embedder.NewStaticEmbedder(), testConfig())
	e.AddText("some reasonably long text to chunk and embed for this test case", nil)

	dir := t.TempDir()
	packPath := filepath.Join(dir, "p.mempack")
	annPath := filepath.Join(dir, "p.mpann")
	if _, err := e.Build(context.Background(), packPath, annPath); err != nil {
		t.Fatalf("Build with consistent embedder should succeed: %v", err)
	}
}

func TestCumulativeStatsAccumulateAcrossBuilds(t *testing.T) {
	e := New(embedder.NewStaticEmbedder(), testConfig())
	dir := t.TempDir()

	e.AddText("The quick brown fox jumps over the lazy dog near the riverbank.", nil)
	first, err := e.Build(context.Background(), filepath.Join(dir, "a.mempack"), filepath.Join(dir, "a.mpann"))
	if err != nil {
		t.Fatalf("first Build: %v", err)
	}

	e.AddText("Quantum computers exploit superposition to perform certain calculations faster.", nil)
	second, err := e.Build(context.Background(), filepath.Join(dir, "b.mempack"), filepath.Join(dir, "b.mpann"))
	if err != nil {
		t.Fatalf("second Build: %v", err)
	}

	stats := e.CumulativeStats()
	if stats.TotalBuilds != 2 {
		t.Fatalf("TotalBuilds = %d, want 2", stats.TotalBuilds)
	}
	if stats.TotalChunks != int64(first.Chunks+second.Chunks) {
		t.Fatalf("TotalChunks = %d, want %d", stats.TotalChunks, first.Chunks+second.Chunks)
	}
}
