// Package packreader opens a MemPack pack file read-only via mmap with
// lightweight header/trailer validation, and serves chunks through a
// byte-budgeted block cache, verifying each block's checksum on
// decode. A full integrity sweep (every block plus the directory and
// global checksums) is Verify's job, not Open's.
package packreader

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/edsrzf/mmap-go"

	"github.com/maurocanuto/mempack/internal/blockcache"
	"github.com/maurocanuto/mempack/internal/checksum"
	"github.com/maurocanuto/mempack/internal/compressor"
	"github.com/maurocanuto/mempack/internal/mperrors"
	"github.com/maurocanuto/mempack/internal/mptypes"
	"github.com/maurocanuto/mempack/internal/packformat"
)

// Reader is a read-only, mmap-backed view of a pack file.
type Reader struct {
	f          *os.File
	mm         mmap.MMap
	header     packformat.Header
	trailer    packformat.Trailer
	dirEntries []packformat.DirEntry
	cache      *blockcache.Cache
	codec      compressor.Codec
}

// Open mmaps path, verifies its magic, version, and trailer sentinel,
// and parses the block directory — lightweight validation that doesn't
// touch block bodies, so a single corrupt block doesn't prevent the
// rest of the pack from being opened and queried. Use Verify for a
// full integrity sweep. cacheBudgetBytes bounds the decoded-block
// cache; zero or negative uses a 32 MiB default.
func Open(path string, cacheBudgetBytes int64) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, mperrors.Wrap(mperrors.IOError, -1, err, "packreader: open")
	}

	mm, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, mperrors.Wrap(mperrors.IOError, -1, err, "packreader: mmap")
	}

	r := &Reader{f: f, mm: mm}
	if err := r.load(cacheBudgetBytes); err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

func (r *Reader) load(cacheBudgetBytes int64) error {
	if len(r.mm) < packformat.HeaderSize {
		return mperrors.New(mperrors.FormatError, "packreader: file too short for header")
	}
	header, err := packformat.DecodeHeader(r.mm[:packformat.HeaderSize])
	if err != nil {
		return mperrors.Wrap(mperrors.FormatError, 0, err, "packreader: decode header")
	}
	r.header = header

	if header.TrailerOffset+packformat.TrailerSize > uint64(len(r.mm)) {
		return mperrors.At(mperrors.FormatError, int64(header.TrailerOffset), "packreader: trailer out of range")
	}
	// DecodeTrailer itself checks the format sentinel, which is the
	// "trailer checksum" lightweight Open validates; the global and
	// directory content checksums are only recomputed by Verify, so a
	// single corrupt block byte doesn't make the whole pack unopenable.
	trailerBuf := r.mm[header.TrailerOffset : header.TrailerOffset+packformat.TrailerSize]
	trailer, err := packformat.DecodeTrailer(trailerBuf)
	if err != nil {
		return mperrors.Wrap(mperrors.FormatError, int64(header.TrailerOffset), err, "packreader: decode trailer")
	}
	r.trailer = trailer

	if header.DirectoryOffset+header.DirectorySize > uint64(len(r.mm)) {
		return mperrors.At(mperrors.FormatError, int64(header.DirectoryOffset), "packreader: directory out of range")
	}
	dirBytes := r.mm[header.DirectoryOffset : header.DirectoryOffset+header.DirectorySize]

	if header.DirectorySize%packformat.DirEntrySize != 0 {
		return mperrors.At(mperrors.FormatError, int64(header.DirectoryOffset), "packreader: directory size not a multiple of entry size")
	}
	n := header.DirectorySize / packformat.DirEntrySize
	entries := make([]packformat.DirEntry, 0, n)
	for i := uint64(0); i < n; i++ {
		off := i * packformat.DirEntrySize
		entry, err := packformat.DecodeDirEntry(dirBytes[off : off+packformat.DirEntrySize])
		if err != nil {
			return mperrors.Wrap(mperrors.FormatError, int64(i), err, "packreader: decode directory entry")
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].FirstChunkID < entries[j].FirstChunkID })
	r.dirEntries = entries

	codec, err := compressor.ForTag(compressor.Tag(header.CompressorTag))
	if err != nil {
		return mperrors.Wrap(mperrors.FormatError, -1, err, "packreader: unknown compressor tag")
	}
	r.codec = codec

	if cacheBudgetBytes <= 0 {
		cacheBudgetBytes = 32 << 20
	}
	r.cache = blockcache.New(cacheBudgetBytes)
	return nil
}

// Header returns the pack's decoded header.
func (r *Reader) Header() packformat.Header { return r.header }

// Blocks returns the decoded block directory, ordered by chunk id range.
func (r *Reader) Blocks() []packformat.DirEntry { return r.dirEntries }

// CacheStats returns the decoded-block cache's current statistics.
func (r *Reader) CacheStats() blockcache.Stats { return r.cache.Stats() }

// Close unmaps and closes the underlying file.
func (r *Reader) Close() error {
	var firstErr error
	if r.mm != nil {
		if err := r.mm.Unmap(); err != nil && firstErr == nil {
			firstErr = err
		}
		r.mm = nil
	}
	if r.f != nil {
		if err := r.f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		r.f = nil
	}
	return firstErr
}

// findBlock locates the directory entry covering chunkID via binary
// search over the sorted, non-overlapping FirstChunkID ranges.
func (r *Reader) findBlock(chunkID uint32) (packformat.DirEntry, bool) {
	i := sort.Search(len(r.dirEntries), func(i int) bool {
		return r.dirEntries[i].LastChunkID >= chunkID
	})
	if i == len(r.dirEntries) {
		return packformat.DirEntry{}, false
	}
	e := r.dirEntries[i]
	if chunkID < e.FirstChunkID || chunkID > e.LastChunkID {
		return packformat.DirEntry{}, false
	}
	return e, true
}

// decodeBlock returns the decompressed body of block, through the
// block cache, verifying its checksum on a cache miss and invalidating
// it if corrupt.
func (r *Reader) decodeBlock(block packformat.DirEntry) ([]byte, error) {
	if cached, ok := r.cache.Get(uint64(block.ID)); ok {
		return cached, nil
	}

	start := block.Offset
	end := start + block.CompressedSize
	if end > uint64(len(r.mm)) {
		return nil, mperrors.At(mperrors.FormatError, int64(block.ID), "packreader: block out of range")
	}
	raw := r.mm[start:end]

	body, err := r.codec.Decompress(raw, int(block.UncompressedSize))
	if err != nil {
		return nil, mperrors.Wrap(mperrors.CorruptionError, int64(block.ID), err, "packreader: decompress block")
	}

	if !checksum.VerifyXXH3(body, block.Checksum) {
		r.cache.Invalidate(uint64(block.ID))
		return nil, mperrors.At(mperrors.CorruptionError, int64(block.ID), "packreader: block checksum mismatch")
	}
	r.cache.Put(uint64(block.ID), body)
	return body, nil
}

// GetChunk fetches a single chunk by id.
func (r *Reader) GetChunk(chunkID uint32) (mptypes.Chunk, error) {
	block, ok := r.findBlock(chunkID)
	if !ok {
		return mptypes.Chunk{}, mperrors.At(mperrors.Validation, int64(chunkID), "packreader: unknown chunk id")
	}
	body, err := r.decodeBlock(block)
	if err != nil {
		return mptypes.Chunk{}, err
	}
	texts, metas, err := packformat.DecodeRecords(body)
	if err != nil {
		return mptypes.Chunk{}, mperrors.Wrap(mperrors.CorruptionError, int64(block.ID), err, "packreader: decode records")
	}
	idx := int(chunkID - block.FirstChunkID)
	if idx < 0 || idx >= len(texts) {
		return mptypes.Chunk{}, mperrors.At(mperrors.CorruptionError, int64(chunkID), "packreader: chunk index out of range within block")
	}
	meta, err := decodeMeta(metas[idx])
	if err != nil {
		return mptypes.Chunk{}, mperrors.Wrap(mperrors.CorruptionError, int64(chunkID), err, "packreader: decode meta")
	}
	return mptypes.Chunk{
		ID:            chunkID,
		Text:          string(texts[idx]),
		Meta:          meta,
		BlockID:       block.ID,
		OffsetInBlock: idx,
	}, nil
}

// IterChunks calls fn for every chunk in block order, stopping early
// if fn returns false.
func (r *Reader) IterChunks(fn func(mptypes.Chunk) bool) error {
	for _, block := range r.dirEntries {
		body, err := r.decodeBlock(block)
		if err != nil {
			return err
		}
		texts, metas, err := packformat.DecodeRecords(body)
		if err != nil {
			return mperrors.Wrap(mperrors.CorruptionError, int64(block.ID), err, "packreader: decode records")
		}
		for i := range texts {
			meta, err := decodeMeta(metas[i])
			if err != nil {
				return mperrors.Wrap(mperrors.CorruptionError, int64(block.FirstChunkID)+int64(i), err, "packreader: decode meta")
			}
			chunk := mptypes.Chunk{
				ID:            block.FirstChunkID + uint32(i),
				Text:          string(texts[i]),
				Meta:          meta,
				BlockID:       block.ID,
				OffsetInBlock: i,
			}
			if !fn(chunk) {
				return nil
			}
		}
	}
	return nil
}

// Verify walks the full directory, decompressing and checking every
// block's uncompressed checksum, then recomputes the directory and
// global checksums, reporting the first offending block id (0 for a
// directory/global mismatch, which isn't attributable to one block).
func (r *Reader) Verify() (ok bool, badBlockID uint32, err error) {
	for _, block := range r.dirEntries {
		start := block.Offset
		end := start + block.CompressedSize
		if end > uint64(len(r.mm)) {
			return false, block.ID, nil
		}
		body, derr := r.codec.Decompress(r.mm[start:end], int(block.UncompressedSize))
		if derr != nil {
			return false, block.ID, nil
		}
		if !checksum.VerifyXXH3(body, block.Checksum) {
			return false, block.ID, nil
		}
	}

	dirBytes := r.mm[r.header.DirectoryOffset : r.header.DirectoryOffset+r.header.DirectorySize]
	if !checksum.VerifyXXH3(dirBytes, r.trailer.DirectoryChecksum) {
		return false, 0, nil
	}

	globalRegion := r.mm[:r.header.TrailerOffset]
	if !checksum.VerifyXXH3(globalRegion, r.trailer.GlobalChecksum) {
		return false, 0, nil
	}

	return true, 0, nil
}

func decodeMeta(raw []byte) (mptypes.Meta, error) {
	if len(raw) == 0 {
		return mptypes.Meta{}, nil
	}
	var m mptypes.Meta
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("invalid meta json: %w", err)
	}
	return m, nil
}
