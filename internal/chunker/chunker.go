// Package chunker splits normalized text into overlapping, bounded-length
// chunks, preferring sentence boundaries near the nominal cut point.
package chunker

import (
	"strings"
	"unicode"
)

// Chunk is a single text fragment produced from a document.
type Chunk struct {
	// Text is the trimmed chunk text.
	Text string
	// Index is the chunk's position within its source document
	// (0-based, document order).
	Index int
}

// Options controls chunking behaviour. All lengths are in runes.
type Options struct {
	// ChunkSize is the target chunk length.
	ChunkSize int
	// ChunkOverlap is how many characters of the previous chunk are
	// repeated at the start of the next one.
	ChunkOverlap int
	// MinChunkSize discards any fragment shorter than this.
	MinChunkSize int
	// Window bounds how far from the nominal cut point a sentence
	// boundary may be taken: [ChunkSize-Window, ChunkSize+Window].
	Window int
}

// DefaultOptions returns the spec-default chunking parameters.
func DefaultOptions() Options {
	return Options{
		ChunkSize:    300,
		ChunkOverlap: 50,
		MinChunkSize: 20,
		Window:       40,
	}
}

// Normalize collapses runs of whitespace (spaces, tabs, newlines) to a
// single space and trims leading/trailing whitespace.
func Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	inSpace := false
	for _, r := range text {
		if unicode.IsSpace(r) {
			inSpace = true
			continue
		}
		if inSpace && b.Len() > 0 {
			b.WriteByte(' ')
		}
		inSpace = false
		b.WriteRune(r)
	}
	return b.String()
}

// Chunk normalizes text and splits it into bounded, overlapping chunks
// in document order. Fragments shorter than opts.MinChunkSize (after
// trimming) are discarded.
func Chunk(text string, opts Options) []Chunk {
	if opts.ChunkSize <= 0 {
		opts = DefaultOptions()
	}
	norm := Normalize(text)
	if norm == "" {
		return nil
	}
	runes := []rune(norm)

	var chunks []Chunk
	idx := 0
	start := 0
	for start < len(runes) {
		nominalEnd := start + opts.ChunkSize
		if nominalEnd >= len(runes) {
			frag := strings.TrimSpace(string(runes[start:]))
			if len([]rune(frag)) >= opts.MinChunkSize {
				chunks = append(chunks, Chunk{Text: frag, Index: idx})
				idx++
			}
			break
		}

		cut := findCut(runes, start, nominalEnd, opts.Window)
		frag := strings.TrimSpace(string(runes[start:cut]))
		if len([]rune(frag)) >= opts.MinChunkSize {
			chunks = append(chunks, Chunk{Text: frag, Index: idx})
			idx++
		}

		next := cut - opts.ChunkOverlap
		if next <= start {
			next = start + 1
		} else {
			next = snapForward(runes, next, cut)
		}
		start = next
	}
	return chunks
}

// findCut locates the split point for a chunk starting at start with a
// nominal end of nominalEnd. It prefers, in order: a sentence boundary
// (".", "!", "?" followed by whitespace or end-of-text) within
// [nominalEnd-window, nominalEnd+window]; a plain space within that same
// window; otherwise it hard-cuts at nominalEnd (Open Question #1,
// resolved in SPEC_FULL.md: hard-cut, not extend).
func findCut(runes []rune, start, nominalEnd, window int) int {
	lo := nominalEnd - window
	if lo < start {
		lo = start
	}
	hi := nominalEnd + window
	if hi > len(runes) {
		hi = len(runes)
	}

	if cut, ok := lastSentenceEnd(runes, lo, hi); ok {
		return cut
	}
	if cut, ok := lastSpace(runes, lo, hi); ok {
		return cut
	}
	return nominalEnd
}

// lastSentenceEnd returns the rightmost index in [lo,hi) that sits just
// after a ".", "!", or "?" which is itself followed by whitespace or the
// end of the text.
func lastSentenceEnd(runes []rune, lo, hi int) (int, bool) {
	for i := hi - 1; i >= lo; i-- {
		r := runes[i]
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if i+1 == len(runes) || unicode.IsSpace(runes[i+1]) {
			return i + 1, true
		}
	}
	return 0, false
}

// lastSpace returns the rightmost space index in [lo,hi), taken as the
// cut point (the space itself is dropped by the caller's TrimSpace).
func lastSpace(runes []rune, lo, hi int) (int, bool) {
	for i := hi - 1; i >= lo; i-- {
		if unicode.IsSpace(runes[i]) {
			return i, true
		}
	}
	return 0, false
}

// snapForward advances an overlap start index to the next word boundary
// so the next chunk doesn't begin mid-word, without crossing limit.
func snapForward(runes []rune, from, limit int) int {
	for i := from; i < limit; i++ {
		if unicode.IsSpace(runes[i]) {
			return i + 1
		}
	}
	return from
}
