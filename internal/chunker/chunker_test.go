package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"collapses spaces and newlines", "  Hello,   World!  \n\n  ", "Hello, World!"},
		{"collapses runs of spaces and newlines", "Multiple    spaces   and\n\n\nnewlines", "Multiple spaces and newlines"},
		{"empty", "", ""},
		{"already clean", "one two three", "one two three"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, Normalize(c.in))
		})
	}
}

func TestChunkRespectsMinSize(t *testing.T) {
	opts := Options{ChunkSize: 50, ChunkOverlap: 10, MinChunkSize: 20, Window: 10}
	chunks := Chunk("short", opts)
	assert.Empty(t, chunks, "expected no chunks below MinChunkSize")
}

func TestChunkSingleFragment(t *testing.T) {
	opts := DefaultOptions()
	text := "This is a short piece of text that fits in a single chunk."
	chunks := Chunk(text, opts)
	require.Len(t, chunks, 1)
	assert.Equal(t, text, chunks[0].Text)
	assert.Equal(t, 0, chunks[0].Index)
}

func TestChunkPrefersSentenceBoundary(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 30; i++ {
		sb.WriteString("This is sentence number filler text here. ")
	}
	opts := Options{ChunkSize: 100, ChunkOverlap: 20, MinChunkSize: 10, Window: 30}
	chunks := Chunk(sb.String(), opts)
	require.GreaterOrEqual(t, len(chunks), 2)
	for i, c := range chunks[:len(chunks)-1] {
		assert.Truef(t, strings.HasSuffix(c.Text, "."), "chunk %d = %q, want sentence-boundary cut ending in '.'", i, c.Text)
	}
}

func TestChunkIndicesAreSequential(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 50; i++ {
		sb.WriteString("word ")
	}
	opts := Options{ChunkSize: 30, ChunkOverlap: 5, MinChunkSize: 5, Window: 5}
	chunks := Chunk(sb.String(), opts)
	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
	}
}

func TestChunkOverlapProgressesForward(t *testing.T) {
	text := strings.Repeat("abcdefghij ", 200)
	opts := Options{ChunkSize: 40, ChunkOverlap: 35, MinChunkSize: 5, Window: 5}
	chunks := Chunk(text, opts)
	require.GreaterOrEqual(t, len(chunks), 2)
	// Even with overlap close to chunk size, chunking must terminate and
	// make forward progress rather than looping.
	assert.LessOrEqual(t, len(chunks), len([]rune(text)))
}

func TestChunkHardCutWithNoBoundary(t *testing.T) {
	text := strings.Repeat("x", 200)
	opts := Options{ChunkSize: 50, ChunkOverlap: 10, MinChunkSize: 5, Window: 5}
	chunks := Chunk(text, opts)
	require.NotEmpty(t, chunks)
	assert.Len(t, chunks[0].Text, 50)
}

func TestChunkEmptyInput(t *testing.T) {
	assert.Nil(t, Chunk("", DefaultOptions()))
	assert.Nil(t, Chunk("   \n\n  ", DefaultOptions()))
}
