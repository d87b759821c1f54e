// Package packwriter builds a MemPack pack file from embedded chunks:
// it groups chunks into blocks by target uncompressed size, compresses
// each block, writes header → blocks → directory → trailer, and
// commits the result atomically under a cross-process build lock.
package packwriter

import (
	"bytes"
	"encoding/json"

	"github.com/gofrs/flock"

	"github.com/maurocanuto/mempack/internal/checksum"
	"github.com/maurocanuto/mempack/internal/compressor"
	"github.com/maurocanuto/mempack/internal/mperrors"
	"github.com/maurocanuto/mempack/internal/mptypes"
	"github.com/maurocanuto/mempack/internal/packformat"
)

// Options configures a pack build.
type Options struct {
	// TargetBlockSize is the target uncompressed size of each block
	// body before a new block is started.
	TargetBlockSize int
	// CompressorTag selects the block body codec.
	CompressorTag compressor.Tag
	// Normalized records whether embeddings were L2-normalized
	// (pack header flag bit0).
	Normalized bool
}

// DefaultOptions returns sane build defaults.
func DefaultOptions() Options {
	return Options{TargetBlockSize: 256 << 10, CompressorTag: compressor.TagZstd, Normalized: true}
}

// Result reports what Write produced.
type Result struct {
	Stats   mptypes.BuildStats
	Blocks  []mptypes.BlockInfo
}

// Write serializes chunks (already embedded, in ascending ID order)
// into a pack file at path, taking a cross-process build lock for the
// duration and committing via atomic rename.
func Write(path string, chunks []mptypes.Chunk, modelName string, dim int, opts Options) (Result, error) {
	if len(chunks) == 0 {
		return Result{}, mperrors.New(mperrors.Validation, "packwriter: no chunks to write")
	}

	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return Result{}, mperrors.Wrap(mperrors.IOError, -1, err, "packwriter: acquire build lock")
	}
	defer lock.Unlock()

	codec, err := compressor.ForTag(opts.CompressorTag)
	if err != nil {
		return Result{}, mperrors.Wrap(mperrors.Validation, -1, err, "packwriter: unknown compressor tag")
	}

	blocks, blockInfos, err := buildBlocks(chunks, codec, opts.TargetBlockSize)
	if err != nil {
		return Result{}, err
	}

	var body bytes.Buffer
	offset := uint64(packformat.HeaderSize)
	for i := range blockInfos {
		blockInfos[i].Offset = offset
		body.Write(blocks[i])
		offset += uint64(len(blocks[i]))
	}

	var directory bytes.Buffer
	for _, b := range blockInfos {
		entry := packformat.DirEntry{
			ID:               b.ID,
			FirstChunkID:     b.FirstChunkID,
			LastChunkID:      b.LastChunkID,
			Offset:           b.Offset,
			CompressedSize:   b.CompressedSize,
			UncompressedSize: b.UncompressedSize,
			Checksum:         b.Checksum,
		}
		directory.Write(entry.Encode())
	}
	directoryOffset := offset
	directorySize := uint64(directory.Len())
	trailerOffset := directoryOffset + directorySize

	flags := uint32(packformat.FlagHasGlobalHash)
	if opts.Normalized {
		flags |= packformat.FlagNormalized
	}
	header := packformat.Header{
		Version:         packformat.CurrentVersion,
		CompressorTag:   uint32(opts.CompressorTag),
		Flags:           flags,
		Dim:             uint32(dim),
		ModelName:       modelName,
		NChunks:         uint64(len(chunks)),
		NBlocks:         uint64(len(blockInfos)),
		DirectoryOffset: directoryOffset,
		DirectorySize:   directorySize,
		TrailerOffset:   trailerOffset,
	}
	headerBytes, err := header.Encode()
	if err != nil {
		return Result{}, mperrors.Wrap(mperrors.Validation, -1, err, "packwriter: encode header")
	}

	var out bytes.Buffer
	out.Write(headerBytes)
	out.Write(body.Bytes())
	out.Write(directory.Bytes())

	globalChecksum := checksum.XXH3(out.Bytes())
	directoryChecksum := checksum.XXH3(directory.Bytes())
	trailer := packformat.Trailer{GlobalChecksum: globalChecksum, DirectoryChecksum: directoryChecksum}
	out.Write(trailer.Encode())

	if err := checksum.AtomicWrite(path, out.Bytes(), 0o644); err != nil {
		return Result{}, mperrors.Wrap(mperrors.IOError, -1, err, "packwriter: atomic write")
	}

	var compressedTotal, uncompressedTotal uint64
	for _, b := range blockInfos {
		compressedTotal += b.CompressedSize
		uncompressedTotal += b.UncompressedSize
	}
	ratio := 1.0
	if compressedTotal > 0 {
		ratio = float64(uncompressedTotal) / float64(compressedTotal)
	}

	return Result{
		Stats: mptypes.BuildStats{
			Chunks:           len(chunks),
			Blocks:           len(blockInfos),
			Vectors:          len(chunks),
			BytesWritten:     int64(out.Len()),
			CompressionRatio: ratio,
		},
		Blocks: blockInfos,
	}, nil
}

// buildBlocks groups chunks into contiguous blocks of roughly
// targetSize uncompressed bytes each, compressing each block body and
// returning both the compressed bytes and the directory metadata.
func buildBlocks(chunks []mptypes.Chunk, codec compressor.Codec, targetSize int) ([][]byte, []mptypes.BlockInfo, error) {
	if targetSize <= 0 {
		targetSize = 256 << 10
	}

	var (
		compressedBlocks [][]byte
		infos            []mptypes.BlockInfo
		curTexts         [][]byte
		curMetas         [][]byte
		curSize          int
		curFirst         uint32
		blockID          uint32
	)

	flush := func(lastID uint32) error {
		if len(curTexts) == 0 {
			return nil
		}
		uncompressed, err := packformat.EncodeBlockBody(curTexts, curMetas)
		if err != nil {
			return mperrors.Wrap(mperrors.InternalError, int64(blockID), err, "packwriter: encode block body")
		}
		compressed, err := codec.Compress(uncompressed)
		if err != nil {
			return mperrors.Wrap(mperrors.InternalError, int64(blockID), err, "packwriter: compress block")
		}
		compressedBlocks = append(compressedBlocks, compressed)
		infos = append(infos, mptypes.BlockInfo{
			ID:               blockID,
			FirstChunkID:     curFirst,
			LastChunkID:      lastID,
			CompressedSize:   uint64(len(compressed)),
			UncompressedSize: uint64(len(uncompressed)),
			Checksum:         checksum.XXH3(uncompressed),
		})
		blockID++
		curTexts = nil
		curMetas = nil
		curSize = 0
		return nil
	}

	for i, c := range chunks {
		if len(curTexts) == 0 {
			curFirst = c.ID
		}
		metaJSON, err := json.Marshal(c.Meta)
		if err != nil {
			return nil, nil, mperrors.Wrap(mperrors.Validation, int64(c.ID), err, "packwriter: marshal meta")
		}
		curTexts = append(curTexts, []byte(c.Text))
		curMetas = append(curMetas, metaJSON)
		curSize += len(c.Text) + len(metaJSON) + 8

		atLast := i == len(chunks)-1
		if curSize >= targetSize || atLast {
			if err := flush(c.ID); err != nil {
				return nil, nil, err
			}
		}
	}

	return compressedBlocks, infos, nil
}
