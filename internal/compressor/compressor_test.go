package compressor

import (
	"bytes"
	"testing"
)

func TestNoneCodecRoundTrip(t *testing.T) {
	c, err := ForTag(TagNone)
	if err != nil {
		t.Fatalf("ForTag: %v", err)
	}
	src := []byte("uncompressed block body")
	compressed, err := c.Compress(src)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	got, err := c.Decompress(compressed, len(src))
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if !bytes.Equal(got, src) {
		t.Fatalf("round trip mismatch: got %q want %q", got, src)
	}
}

func TestZstdCodecRoundTrip(t *testing.T) {
	c, err := ForTag(TagZstd)
	if err != nil {
		t.Fatalf("ForTag: %v", err)
	}
	src := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog "), 64)
	compressed, err := c.Compress(src)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if len(compressed) >= len(src) {
		t.Errorf("expected compression to shrink repetitive input: %d >= %d", len(compressed), len(src))
	}
	got, err := c.Decompress(compressed, len(src))
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if !bytes.Equal(got, src) {
		t.Fatal("round trip mismatch")
	}
}

func TestForTagUnknown(t *testing.T) {
	if _, err := ForTag(Tag(99)); err == nil {
		t.Fatal("expected error for unknown tag")
	}
}

func TestTagString(t *testing.T) {
	if TagNone.String() != "none" {
		t.Errorf("TagNone.String() = %q", TagNone.String())
	}
	if TagZstd.String() != "zstd" {
		t.Errorf("TagZstd.String() = %q", TagZstd.String())
	}
}
