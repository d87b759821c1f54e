// StaticEmbedder is a dependency-free, deterministic hash-based
// embedder: no model download, no network, reduced semantic quality.
// It is the only embedder that lets a build be reproduced byte-for-byte
// without a side-channel model file, so it backs tests and any caller
// that didn't configure a model directory.
package embedder

import (
	"context"
	"hash/fnv"
	"regexp"
	"strings"
	"sync"
	"unicode"

	"github.com/maurocanuto/mempack/internal/mperrors"
)

// StaticDimensions is the static embedder's fixed output length,
// matching the default transformer embedder's dimension so a pack
// built with either embedder carries the same header D.
const StaticDimensions = 384

const (
	tokenWeight = 0.7
	ngramWeight = 0.3
	ngramSize   = 3
)

var tokenRegex = regexp.MustCompile(`[a-zA-Z0-9]+`)

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true,
	"is": true, "are": true, "was": true, "were": true, "of": true,
	"to": true, "in": true, "it": true, "that": true, "this": true,
}

// StaticEmbedder implements Embedder without any external model.
type StaticEmbedder struct {
	mu     sync.RWMutex
	closed bool
}

// NewStaticEmbedder creates a ready-to-use static embedder.
func NewStaticEmbedder() *StaticEmbedder {
	return &StaticEmbedder{}
}

// EmbedBatch implements Embedder.
func (e *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, mperrors.New(mperrors.EmbedError, "static embedder is closed")
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		results[i] = e.embedOne(text)
	}
	return results, nil
}

// EmbedQuery implements Embedder. The static embedder has no
// asymmetric query/document distinction, so it embeds the query as-is.
func (e *StaticEmbedder) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *StaticEmbedder) embedOne(text string) []float32 {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return make([]float32, StaticDimensions)
	}
	vec := make([]float32, StaticDimensions)

	for _, tok := range filterStopWords(tokenize(trimmed)) {
		vec[hashToIndex(tok, StaticDimensions)] += tokenWeight
	}
	for _, gram := range extractNgrams(normalizeForNgrams(trimmed), ngramSize) {
		vec[hashToIndex(gram, StaticDimensions)] += ngramWeight
	}

	l2Normalize(vec)
	return vec
}

// Dimensions implements Embedder.
func (e *StaticEmbedder) Dimensions() int { return StaticDimensions }

// ModelName implements Embedder.
func (e *StaticEmbedder) ModelName() string { return "static" }

// Close implements Embedder.
func (e *StaticEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

func tokenize(text string) []string {
	var tokens []string
	for _, word := range tokenRegex.FindAllString(text, -1) {
		for _, t := range splitCodeToken(word) {
			if lower := strings.ToLower(t); lower != "" {
				tokens = append(tokens, lower)
			}
		}
	}
	return tokens
}

func splitCodeToken(token string) []string {
	if strings.Contains(token, "_") {
		var result []string
		for _, part := range strings.Split(token, "_") {
			if part != "" {
				result = append(result, splitCamelCase(part)...)
			}
		}
		return result
	}
	return splitCamelCase(token)
}

func splitCamelCase(s string) []string {
	if s == "" {
		return []string{}
	}
	var result []string
	var current strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prevIsLower := unicode.IsLower(runes[i-1])
			nextIsLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if prevIsLower || nextIsLower {
				if current.Len() > 0 {
					result = append(result, current.String())
					current.Reset()
				}
			}
		}
		current.WriteRune(r)
	}
	if current.Len() > 0 {
		result = append(result, current.String())
	}
	return result
}

func filterStopWords(tokens []string) []string {
	var filtered []string
	for _, t := range tokens {
		if !stopWords[t] {
			filtered = append(filtered, t)
		}
	}
	return filtered
}

func normalizeForNgrams(text string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func extractNgrams(text string, n int) []string {
	if len(text) < n {
		return []string{}
	}
	ngrams := make([]string, 0, len(text)-n+1)
	for i := 0; i <= len(text)-n; i++ {
		ngrams = append(ngrams, text[i:i+n])
	}
	return ngrams
}

func hashToIndex(s string, size int) int {
	h := fnv.New64()
	_, _ = h.Write([]byte(s))
	return int(h.Sum64() % uint64(size))
}
