// Package annindex adapts a real HNSW graph library to MemPack's ANN
// index: a chunk-id-keyed nearest-neighbor index persisted alongside
// the pack as a sidecar file with its own small header.
package annindex

import (
	"bufio"
	"io"
	"os"
	"path/filepath"

	"github.com/coder/hnsw"

	"github.com/maurocanuto/mempack/internal/mperrors"
	"github.com/maurocanuto/mempack/internal/packformat"
)

// Params configures graph construction and search.
type Params struct {
	M              int
	EfConstruction int
	EfSearch       int
}

// DefaultParams returns the spec-default HNSW parameters, matching the
// teacher's own DefaultM/DefaultEfConstruction/DefaultEfSearch.
func DefaultParams() Params {
	return Params{M: 16, EfConstruction: 200, EfSearch: 50}
}

// Result is one nearest-neighbor hit: a chunk id and a similarity score
// in [0, 1], where 1 is identical.
type Result struct {
	ChunkID uint32
	Score   float32
}

// Index wraps a coder/hnsw graph keyed by chunk id.
type Index struct {
	graph  *hnsw.Graph[uint64]
	dim    int
	params Params
}

// New creates an empty Index for vectors of the given dimension, using
// cosine similarity over L2-normalized vectors.
func New(dim int, params Params) *Index {
	if params.M <= 0 {
		params = DefaultParams()
	}
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = params.M
	graph.EfSearch = params.EfSearch
	return &Index{graph: graph, dim: dim, params: params}
}

// Add inserts a single chunk vector into the graph. Vectors must
// already be L2-normalized by the caller (the embedders return
// normalized vectors; Add does not normalize).
func (idx *Index) Add(chunkID uint32, vector []float32) error {
	if len(vector) != idx.dim {
		return mperrors.Atf(mperrors.Validation, int64(chunkID), "annindex: vector dim %d != index dim %d", len(vector), idx.dim)
	}
	node := hnsw.MakeNode(uint64(chunkID), vector)
	idx.graph.Add(node)
	return nil
}

// Dim returns the vector dimension this Index was built for.
func (idx *Index) Dim() int {
	return idx.dim
}

// Len returns the number of vectors in the graph.
func (idx *Index) Len() int {
	return idx.graph.Len()
}

// KNNQuery returns the k nearest chunk ids to query, sorted nearest
// first.
func (idx *Index) KNNQuery(query []float32, k int) ([]Result, error) {
	if len(query) != idx.dim {
		return nil, mperrors.Newf(mperrors.Validation, "annindex: query dim %d != index dim %d", len(query), idx.dim)
	}
	if idx.graph.Len() == 0 {
		return nil, nil
	}
	nodes := idx.graph.Search(query, k)
	out := make([]Result, 0, len(nodes))
	for _, n := range nodes {
		dist := idx.graph.Distance(query, n.Value)
		score := 1 - dist
		if score < 0 {
			score = 0
		}
		if score > 1 {
			score = 1
		}
		out = append(out, Result{ChunkID: uint32(n.Key), Score: score})
	}
	return out, nil
}

// SetEfSearch adjusts the search-time beam width without rebuilding
// the graph.
func (idx *Index) SetEfSearch(ef int) {
	idx.graph.EfSearch = ef
}

// Save writes the ANN sidecar header followed by the graph's native
// export format to path, atomically (temp file + rename).
func (idx *Index) Save(path string) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".mempack-ann-tmp-*")
	if err != nil {
		return mperrors.Wrap(mperrors.IOError, -1, err, "annindex: create temp file")
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	header := packformat.ANNHeader{
		Version:        1,
		Dim:            uint32(idx.dim),
		N:              uint64(idx.graph.Len()),
		M:              uint32(idx.params.M),
		EfConstruction: uint32(idx.params.EfConstruction),
		Distance:       packformat.DistanceCosine,
	}
	if _, err := tmp.Write(header.Encode()); err != nil {
		tmp.Close()
		return mperrors.Wrap(mperrors.IOError, -1, err, "annindex: write header")
	}
	if err := idx.graph.Export(tmp); err != nil {
		tmp.Close()
		return mperrors.Wrap(mperrors.IndexError, -1, err, "annindex: export graph")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return mperrors.Wrap(mperrors.IOError, -1, err, "annindex: sync temp file")
	}
	if err := tmp.Close(); err != nil {
		return mperrors.Wrap(mperrors.IOError, -1, err, "annindex: close temp file")
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return mperrors.Wrap(mperrors.IOError, -1, err, "annindex: rename into place")
	}
	return nil
}

// Load reads the ANN sidecar header and graph from path.
func Load(path string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, mperrors.Wrap(mperrors.IOError, -1, err, "annindex: open")
	}
	defer f.Close()

	headerBuf := make([]byte, packformat.ANNHeaderSize)
	if _, err := io.ReadFull(f, headerBuf); err != nil {
		return nil, mperrors.Wrap(mperrors.FormatError, -1, err, "annindex: read header")
	}
	header, err := packformat.DecodeANNHeader(headerBuf)
	if err != nil {
		return nil, mperrors.Wrap(mperrors.FormatError, -1, err, "annindex: decode header")
	}
	if header.Distance != packformat.DistanceCosine {
		return nil, mperrors.Newf(mperrors.FormatError, "annindex: unsupported distance tag %d", header.Distance)
	}

	idx := New(int(header.Dim), Params{
		M:              int(header.M),
		EfConstruction: int(header.EfConstruction),
		EfSearch:       DefaultParams().EfSearch,
	})

	reader := bufio.NewReader(f)
	if err := idx.graph.Import(reader); err != nil {
		return nil, mperrors.Wrap(mperrors.IndexError, -1, err, "annindex: import graph")
	}
	return idx, nil
}
