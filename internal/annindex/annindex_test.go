package annindex

import (
	"math"
	"path/filepath"
	"testing"
)

func normalize(v []float32) []float32 {
	var sumSquares float64
	for _, x := range v {
		sumSquares += float64(x) * float64(x)
	}
	if sumSquares == 0 {
		return v
	}
	inv := float32(1 / math.Sqrt(sumSquares))
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x * inv
	}
	return out
}

func TestAddAndSelfSearch(t *testing.T) {
	idx := New(4, DefaultParams())
	vecs := map[uint32][]float32{
		1: normalize([]float32{1, 0, 0, 0}),
		2: normalize([]float32{0, 1, 0, 0}),
		3: normalize([]float32{0, 0, 1, 0}),
	}
	for id, v := range vecs {
		if err := idx.Add(id, v); err != nil {
			t.Fatalf("Add(%d): %v", id, err)
		}
	}
	if idx.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", idx.Len())
	}

	results, err := idx.KNNQuery(vecs[1], 1)
	if err != nil {
		t.Fatalf("KNNQuery: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].ChunkID != 1 {
		t.Errorf("nearest neighbor of vecs[1] = %d, want 1", results[0].ChunkID)
	}
	if results[0].Score < 0.9 {
		t.Errorf("self-search score = %f, want close to 1.0", results[0].Score)
	}
}

func TestAddRejectsWrongDimension(t *testing.T) {
	idx := New(4, DefaultParams())
	if err := idx.Add(1, []float32{1, 2, 3}); err == nil {
		t.Fatal("expected error for dimension mismatch")
	}
}

func TestKNNQueryRejectsWrongDimension(t *testing.T) {
	idx := New(4, DefaultParams())
	idx.Add(1, normalize([]float32{1, 0, 0, 0}))
	if _, err := idx.KNNQuery([]float32{1, 2}, 1); err == nil {
		t.Fatal("expected error for query dimension mismatch")
	}
}

func TestKNNQueryEmptyIndex(t *testing.T) {
	idx := New(4, DefaultParams())
	results, err := idx.KNNQuery(normalize([]float32{1, 0, 0, 0}), 5)
	if err != nil {
		t.Fatalf("KNNQuery on empty index: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no results on empty index, got %d", len(results))
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	idx := New(4, DefaultParams())
	vecs := map[uint32][]float32{
		1: normalize([]float32{1, 0, 0, 0}),
		2: normalize([]float32{0, 1, 0, 0}),
		3: normalize([]float32{0.7, 0.7, 0, 0}),
	}
	for id, v := range vecs {
		if err := idx.Add(id, v); err != nil {
			t.Fatalf("Add(%d): %v", id, err)
		}
	}

	path := filepath.Join(t.TempDir(), "index.mpann")
	if err := idx.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Len() != idx.Len() {
		t.Fatalf("loaded Len() = %d, want %d", loaded.Len(), idx.Len())
	}

	results, err := loaded.KNNQuery(vecs[1], 1)
	if err != nil {
		t.Fatalf("KNNQuery after load: %v", err)
	}
	if len(results) != 1 || results[0].ChunkID != 1 {
		t.Fatalf("unexpected nearest neighbor after load: %+v", results)
	}
}

func TestSetEfSearch(t *testing.T) {
	idx := New(4, DefaultParams())
	idx.SetEfSearch(64)
	if idx.graph.EfSearch != 64 {
		t.Fatalf("EfSearch = %d, want 64", idx.graph.EfSearch)
	}
}
