package packformat

import (
	"bytes"
	"testing"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{
		Version:         CurrentVersion,
		CompressorTag:   1,
		Flags:           FlagNormalized | FlagHasGlobalHash,
		Dim:             384,
		ModelName:       "bge-small-en-v1.5",
		NChunks:         100,
		NBlocks:         5,
		DirectoryOffset: 1000,
		DirectorySize:   220,
		TrailerOffset:   1220,
	}
	buf, err := h.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(buf) != HeaderSize {
		t.Fatalf("encoded header length = %d, want %d", len(buf), HeaderSize)
	}
	got, err := DecodeHeader(buf)
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if got != h {
		t.Fatalf("round trip mismatch:\n got  %+v\n want %+v", got, h)
	}
}

func TestHeaderRejectsBadMagic(t *testing.T) {
	buf := make([]byte, HeaderSize)
	if _, err := DecodeHeader(buf); err == nil {
		t.Fatal("expected error for all-zero header")
	}
}

func TestHeaderModelNameTooLong(t *testing.T) {
	h := Header{ModelName: string(bytes.Repeat([]byte("x"), ModelNameSize+1))}
	if _, err := h.Encode(); err == nil {
		t.Fatal("expected error for over-long model_name")
	}
}

func TestDirEntryRoundTrip(t *testing.T) {
	e := DirEntry{
		ID:               3,
		FirstChunkID:     10,
		LastChunkID:      42,
		Offset:           4096,
		CompressedSize:   512,
		UncompressedSize: 1024,
		Checksum:         0xdeadbeefcafef00d,
	}
	buf := e.Encode()
	if len(buf) != DirEntrySize {
		t.Fatalf("encoded entry length = %d, want %d", len(buf), DirEntrySize)
	}
	got, err := DecodeDirEntry(buf)
	if err != nil {
		t.Fatalf("DecodeDirEntry: %v", err)
	}
	if got != e {
		t.Fatalf("round trip mismatch:\n got  %+v\n want %+v", got, e)
	}
}

func TestTrailerRoundTrip(t *testing.T) {
	tr := Trailer{GlobalChecksum: 111, DirectoryChecksum: 222}
	buf := tr.Encode()
	if len(buf) != TrailerSize {
		t.Fatalf("encoded trailer length = %d, want %d", len(buf), TrailerSize)
	}
	got, err := DecodeTrailer(buf)
	if err != nil {
		t.Fatalf("DecodeTrailer: %v", err)
	}
	if got != tr {
		t.Fatalf("round trip mismatch:\n got  %+v\n want %+v", got, tr)
	}
}

func TestTrailerRejectsBadSentinel(t *testing.T) {
	buf := make([]byte, TrailerSize)
	if _, err := DecodeTrailer(buf); err == nil {
		t.Fatal("expected error for missing sentinel")
	}
}

func TestBlockBodyRoundTrip(t *testing.T) {
	texts := [][]byte{[]byte("chunk one text"), []byte("chunk two, a bit longer")}
	metas := [][]byte{[]byte(`{"source":"a.md"}`), []byte(`{"source":"b.md","tags":["x"]}`)}

	body, err := EncodeBlockBody(texts, metas)
	if err != nil {
		t.Fatalf("EncodeBlockBody: %v", err)
	}
	gotTexts, gotMetas, err := DecodeRecords(body)
	if err != nil {
		t.Fatalf("DecodeRecords: %v", err)
	}
	if len(gotTexts) != len(texts) {
		t.Fatalf("got %d records, want %d", len(gotTexts), len(texts))
	}
	for i := range texts {
		if !bytes.Equal(gotTexts[i], texts[i]) {
			t.Errorf("text %d = %q, want %q", i, gotTexts[i], texts[i])
		}
		if !bytes.Equal(gotMetas[i], metas[i]) {
			t.Errorf("meta %d = %q, want %q", i, gotMetas[i], metas[i])
		}
	}
}

func TestDecodeRecordsTruncated(t *testing.T) {
	if _, _, err := DecodeRecords([]byte{1, 0, 0, 0}); err == nil {
		t.Fatal("expected error for truncated body")
	}
}

func TestANNHeaderRoundTrip(t *testing.T) {
	h := ANNHeader{
		Version:        1,
		Dim:            384,
		N:              5000,
		M:              16,
		EfConstruction: 200,
		Distance:       DistanceCosine,
	}
	buf := h.Encode()
	if len(buf) != ANNHeaderSize {
		t.Fatalf("encoded ann header length = %d, want %d", len(buf), ANNHeaderSize)
	}
	got, err := DecodeANNHeader(buf)
	if err != nil {
		t.Fatalf("DecodeANNHeader: %v", err)
	}
	if got != h {
		t.Fatalf("round trip mismatch:\n got  %+v\n want %+v", got, h)
	}
}

func TestANNHeaderRejectsBadMagic(t *testing.T) {
	buf := make([]byte, ANNHeaderSize)
	if _, err := DecodeANNHeader(buf); err == nil {
		t.Fatal("expected error for bad ann magic")
	}
}
