// Package compressor provides the pluggable block codec used when
// writing and reading pack blocks, matching the compressor_tag stored
// in the pack header.
package compressor

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Tag identifies a codec in the pack header's compressor_tag field.
type Tag uint8

const (
	// TagNone stores block bodies uncompressed.
	TagNone Tag = 0
	// TagZstd compresses block bodies with zstd.
	TagZstd Tag = 1
)

func (t Tag) String() string {
	switch t {
	case TagNone:
		return "none"
	case TagZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// Codec compresses and decompresses block bodies.
type Codec interface {
	Tag() Tag
	Compress(src []byte) ([]byte, error)
	Decompress(src []byte, uncompressedSize int) ([]byte, error)
}

// ForTag returns the Codec registered for tag.
func ForTag(tag Tag) (Codec, error) {
	switch tag {
	case TagNone:
		return noneCodec{}, nil
	case TagZstd:
		return zstdCodec{}, nil
	default:
		return nil, fmt.Errorf("compressor: unsupported tag %d", uint8(tag))
	}
}

type noneCodec struct{}

func (noneCodec) Tag() Tag { return TagNone }

func (noneCodec) Compress(src []byte) ([]byte, error) {
	out := make([]byte, len(src))
	copy(out, src)
	return out, nil
}

func (noneCodec) Decompress(src []byte, uncompressedSize int) ([]byte, error) {
	if len(src) != uncompressedSize {
		return nil, fmt.Errorf("compressor: none-codec size mismatch: got %d want %d", len(src), uncompressedSize)
	}
	out := make([]byte, len(src))
	copy(out, src)
	return out, nil
}

var (
	encoders = sync.Pool{
		New: func() any {
			enc, err := zstd.NewWriter(nil)
			if err != nil {
				panic(err)
			}
			return enc
		},
	}
	decoders = sync.Pool{
		New: func() any {
			dec, err := zstd.NewReader(nil)
			if err != nil {
				panic(err)
			}
			return dec
		},
	}
)

type zstdCodec struct{}

func (zstdCodec) Tag() Tag { return TagZstd }

func (zstdCodec) Compress(src []byte) ([]byte, error) {
	enc := encoders.Get().(*zstd.Encoder)
	defer encoders.Put(enc)
	return enc.EncodeAll(src, make([]byte, 0, len(src))), nil
}

func (zstdCodec) Decompress(src []byte, uncompressedSize int) ([]byte, error) {
	dec := decoders.Get().(*zstd.Decoder)
	defer decoders.Put(dec)
	out, err := dec.DecodeAll(src, make([]byte, 0, uncompressedSize))
	if err != nil {
		return nil, fmt.Errorf("compressor: zstd decode: %w", err)
	}
	return out, nil
}
