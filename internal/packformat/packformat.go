// Package packformat defines the binary layout shared by packwriter and
// packreader: the fixed header, the per-block directory entry, and the
// trailer, all little-endian.
package packformat

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// HeaderSize is the fixed size, in bytes, of the pack header that
// precedes the first block body.
const HeaderSize = 108

// DirEntrySize is the fixed size, in bytes, of one block directory
// entry: u32 id, u32 first_chunk_id, u32 last_chunk_id, u64 offset,
// u64 compressed_size, u64 uncompressed_size, u64 checksum.
const DirEntrySize = 44

// TrailerSize is the fixed size, in bytes, of the trailer.
const TrailerSize = 32

// FormatSentinel is the trailer's magic value confirming a clean,
// fully written pack file (0xMPACKEND per spec).
const FormatSentinel uint64 = 0x4D5041434B454E44

// Magic is the 8-byte pack file identifier, followed by a u64 version.
var Magic = [8]byte{'M', 'P', 'A', 'C', 'K', 0, 0, 0}

// CurrentVersion is the pack format version this package writes.
const CurrentVersion uint64 = 1

// Flag bits in the header's flags field.
const (
	FlagNormalized    uint32 = 1 << 0
	FlagHasGlobalHash uint32 = 1 << 1
)

// ModelNameSize is the fixed width of the header's model_name field.
const ModelNameSize = 32

// Header is the fixed-size pack file header.
type Header struct {
	Version         uint64
	CompressorTag   uint32
	Flags           uint32
	Dim             uint32
	ModelName       string
	NChunks         uint64
	NBlocks         uint64
	DirectoryOffset uint64
	DirectorySize   uint64
	TrailerOffset   uint64
}

// Encode serializes h into a HeaderSize-byte buffer.
func (h Header) Encode() ([]byte, error) {
	if len(h.ModelName) > ModelNameSize {
		return nil, fmt.Errorf("packformat: model_name %q exceeds %d bytes", h.ModelName, ModelNameSize)
	}
	buf := make([]byte, HeaderSize)
	copy(buf[0:8], Magic[:])
	binary.LittleEndian.PutUint64(buf[8:16], h.Version)
	binary.LittleEndian.PutUint32(buf[16:20], h.CompressorTag)
	binary.LittleEndian.PutUint32(buf[20:24], h.Flags)
	binary.LittleEndian.PutUint32(buf[24:28], h.Dim)
	copy(buf[28:60], []byte(h.ModelName))
	binary.LittleEndian.PutUint64(buf[60:68], h.NChunks)
	binary.LittleEndian.PutUint64(buf[68:76], h.NBlocks)
	binary.LittleEndian.PutUint64(buf[76:84], h.DirectoryOffset)
	binary.LittleEndian.PutUint64(buf[84:92], h.DirectorySize)
	binary.LittleEndian.PutUint64(buf[92:100], h.TrailerOffset)
	// [100:108) reserved, left zero.
	return buf, nil
}

// DecodeHeader parses a HeaderSize-byte buffer into a Header, validating
// the magic and version.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("packformat: header too short: %d bytes", len(buf))
	}
	if !bytes.Equal(buf[0:8], Magic[:]) {
		return Header{}, fmt.Errorf("packformat: bad magic %x", buf[0:8])
	}
	h := Header{
		Version:         binary.LittleEndian.Uint64(buf[8:16]),
		CompressorTag:   binary.LittleEndian.Uint32(buf[16:20]),
		Flags:           binary.LittleEndian.Uint32(buf[20:24]),
		Dim:             binary.LittleEndian.Uint32(buf[24:28]),
		ModelName:       string(bytes.TrimRight(buf[28:60], "\x00")),
		NChunks:         binary.LittleEndian.Uint64(buf[60:68]),
		NBlocks:         binary.LittleEndian.Uint64(buf[68:76]),
		DirectoryOffset: binary.LittleEndian.Uint64(buf[76:84]),
		DirectorySize:   binary.LittleEndian.Uint64(buf[84:92]),
		TrailerOffset:   binary.LittleEndian.Uint64(buf[92:100]),
	}
	if h.Version != CurrentVersion {
		return Header{}, fmt.Errorf("packformat: unsupported version %d", h.Version)
	}
	return h, nil
}

// DirEntry is one fixed-size block directory entry.
type DirEntry struct {
	ID               uint32
	FirstChunkID     uint32
	LastChunkID      uint32
	Offset           uint64
	CompressedSize   uint64
	UncompressedSize uint64
	Checksum         uint64
}

// Encode serializes e into a DirEntrySize-byte buffer.
func (e DirEntry) Encode() []byte {
	buf := make([]byte, DirEntrySize)
	binary.LittleEndian.PutUint32(buf[0:4], e.ID)
	binary.LittleEndian.PutUint32(buf[4:8], e.FirstChunkID)
	binary.LittleEndian.PutUint32(buf[8:12], e.LastChunkID)
	binary.LittleEndian.PutUint64(buf[12:20], e.Offset)
	binary.LittleEndian.PutUint64(buf[20:28], e.CompressedSize)
	binary.LittleEndian.PutUint64(buf[28:36], e.UncompressedSize)
	binary.LittleEndian.PutUint64(buf[36:44], e.Checksum)
	return buf
}

// DecodeDirEntry parses a DirEntrySize-byte buffer into a DirEntry.
func DecodeDirEntry(buf []byte) (DirEntry, error) {
	if len(buf) < DirEntrySize {
		return DirEntry{}, fmt.Errorf("packformat: directory entry too short: %d bytes", len(buf))
	}
	return DirEntry{
		ID:               binary.LittleEndian.Uint32(buf[0:4]),
		FirstChunkID:     binary.LittleEndian.Uint32(buf[4:8]),
		LastChunkID:      binary.LittleEndian.Uint32(buf[8:12]),
		Offset:           binary.LittleEndian.Uint64(buf[12:20]),
		CompressedSize:   binary.LittleEndian.Uint64(buf[20:28]),
		UncompressedSize: binary.LittleEndian.Uint64(buf[28:36]),
		Checksum:         binary.LittleEndian.Uint64(buf[36:44]),
	}, nil
}

// Trailer is the fixed-size footer confirming a completely written pack.
type Trailer struct {
	GlobalChecksum    uint64
	DirectoryChecksum uint64
}

// Encode serializes t into a TrailerSize-byte buffer.
func (t Trailer) Encode() []byte {
	buf := make([]byte, TrailerSize)
	binary.LittleEndian.PutUint64(buf[0:8], t.GlobalChecksum)
	binary.LittleEndian.PutUint64(buf[8:16], t.DirectoryChecksum)
	binary.LittleEndian.PutUint64(buf[16:24], FormatSentinel)
	// [24:32) reserved, left zero.
	return buf
}

// DecodeTrailer parses a TrailerSize-byte buffer into a Trailer,
// validating the format sentinel.
func DecodeTrailer(buf []byte) (Trailer, error) {
	if len(buf) < TrailerSize {
		return Trailer{}, fmt.Errorf("packformat: trailer too short: %d bytes", len(buf))
	}
	sentinel := binary.LittleEndian.Uint64(buf[16:24])
	if sentinel != FormatSentinel {
		return Trailer{}, fmt.Errorf("packformat: bad format sentinel %x", sentinel)
	}
	return Trailer{
		GlobalChecksum:    binary.LittleEndian.Uint64(buf[0:8]),
		DirectoryChecksum: binary.LittleEndian.Uint64(buf[8:16]),
	}, nil
}

// EncodeRecord serializes one block-body record: u32 text_len, text
// bytes, u32 meta_len, meta JSON bytes.
func EncodeRecord(text []byte, metaJSON []byte) []byte {
	buf := make([]byte, 4+len(text)+4+len(metaJSON))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(text)))
	copy(buf[4:4+len(text)], text)
	off := 4 + len(text)
	binary.LittleEndian.PutUint32(buf[off:off+4], uint32(len(metaJSON)))
	copy(buf[off+4:], metaJSON)
	return buf
}

// DecodeRecords parses a block body (u32 count, then count records)
// into parallel text/meta byte slices.
func DecodeRecords(body []byte) (texts [][]byte, metas [][]byte, err error) {
	if len(body) < 4 {
		return nil, nil, fmt.Errorf("packformat: block body too short for count")
	}
	count := binary.LittleEndian.Uint32(body[0:4])
	off := 4
	texts = make([][]byte, 0, count)
	metas = make([][]byte, 0, count)
	for i := uint32(0); i < count; i++ {
		if off+4 > len(body) {
			return nil, nil, fmt.Errorf("packformat: truncated record %d", i)
		}
		textLen := int(binary.LittleEndian.Uint32(body[off : off+4]))
		off += 4
		if off+textLen > len(body) {
			return nil, nil, fmt.Errorf("packformat: truncated text in record %d", i)
		}
		text := body[off : off+textLen]
		off += textLen
		if off+4 > len(body) {
			return nil, nil, fmt.Errorf("packformat: truncated meta_len in record %d", i)
		}
		metaLen := int(binary.LittleEndian.Uint32(body[off : off+4]))
		off += 4
		if off+metaLen > len(body) {
			return nil, nil, fmt.Errorf("packformat: truncated meta in record %d", i)
		}
		meta := body[off : off+metaLen]
		off += metaLen
		texts = append(texts, text)
		metas = append(metas, meta)
	}
	return texts, metas, nil
}

// EncodeBlockBody concatenates count + the given records into one
// block body, mirroring DecodeRecords' layout.
func EncodeBlockBody(texts [][]byte, metas [][]byte) ([]byte, error) {
	if len(texts) != len(metas) {
		return nil, fmt.Errorf("packformat: texts/metas length mismatch: %d != %d", len(texts), len(metas))
	}
	var buf bytes.Buffer
	countBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(countBuf, uint32(len(texts)))
	buf.Write(countBuf)
	for i := range texts {
		buf.Write(EncodeRecord(texts[i], metas[i]))
	}
	return buf.Bytes(), nil
}

// ANN sidecar header layout.
const (
	// ANNHeaderSize is the fixed size of the ANN sidecar header.
	ANNHeaderSize = 64
)

// ANNMagic is the 8-byte ANN sidecar file identifier.
var ANNMagic = [8]byte{'M', 'P', 'A', 'C', 'K', 'A', 'N', 'N'}

// DistanceTag identifies the ANN graph's distance function.
type DistanceTag uint32

const (
	// DistanceCosine uses cosine similarity (vectors assumed normalized).
	DistanceCosine DistanceTag = 0
	// DistanceEuclidean uses squared Euclidean distance.
	DistanceEuclidean DistanceTag = 1
)

// ANNHeader is the fixed-size header prefixed to the ANN sidecar file,
// ahead of the graph library's own serialized form.
type ANNHeader struct {
	Version        uint32
	Dim            uint32
	N              uint64
	M              uint32
	EfConstruction uint32
	Distance       DistanceTag
}

// Encode serializes h into an ANNHeaderSize-byte buffer.
func (h ANNHeader) Encode() []byte {
	buf := make([]byte, ANNHeaderSize)
	copy(buf[0:8], ANNMagic[:])
	binary.LittleEndian.PutUint32(buf[8:12], h.Version)
	binary.LittleEndian.PutUint32(buf[12:16], h.Dim)
	binary.LittleEndian.PutUint64(buf[16:24], h.N)
	binary.LittleEndian.PutUint32(buf[24:28], h.M)
	binary.LittleEndian.PutUint32(buf[28:32], h.EfConstruction)
	binary.LittleEndian.PutUint32(buf[32:36], uint32(h.Distance))
	// [36:64) reserved, left zero.
	return buf
}

// DecodeANNHeader parses an ANNHeaderSize-byte buffer into an ANNHeader.
func DecodeANNHeader(buf []byte) (ANNHeader, error) {
	if len(buf) < ANNHeaderSize {
		return ANNHeader{}, fmt.Errorf("packformat: ann header too short: %d bytes", len(buf))
	}
	if !bytes.Equal(buf[0:8], ANNMagic[:]) {
		return ANNHeader{}, fmt.Errorf("packformat: bad ann magic %x", buf[0:8])
	}
	return ANNHeader{
		Version:        binary.LittleEndian.Uint32(buf[8:12]),
		Dim:            binary.LittleEndian.Uint32(buf[12:16]),
		N:              binary.LittleEndian.Uint64(buf[16:24]),
		M:              binary.LittleEndian.Uint32(buf[24:28]),
		EfConstruction: binary.LittleEndian.Uint32(buf[28:32]),
		Distance:       DistanceTag(binary.LittleEndian.Uint32(buf[32:36])),
	}, nil
}
