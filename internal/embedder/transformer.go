// Transformer embedding via ONNX Runtime, adapted from a BGE-small
// single-purpose embedder into a general Embedder implementation that
// reports its own model name and dimension for the pack header.
package embedder

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/daulet/tokenizers"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/maurocanuto/mempack/internal/mperrors"
)

const (
	// maxSeqLen is the effective maximum token length per input. Capping
	// at 256 quarters the attention matrix (O(seqLen²)) versus the model's
	// native 512-token limit, which is sufficient for chunk-sized text.
	maxSeqLen = 256
	// defaultBatchSize keeps memory and inference latency bounded on
	// low-end CPUs.
	defaultBatchSize = 4
	// queryPrefix is prepended to queries (not documents) for asymmetric
	// retrieval, per the BGE-small-en-v1.5 model card.
	queryPrefix = "Represent this sentence for searching relevant passages: "
)

// TransformerEmbedder wraps an ONNX session and a HuggingFace tokenizer.
type TransformerEmbedder struct {
	session   *ort.DynamicAdvancedSession
	tokenizer *tokenizers.Tokenizer
	batchSize int
	dim       int
	modelName string
}

// TransformerOptions configures NewTransformerEmbedder.
type TransformerOptions struct {
	// ModelDir must contain model.onnx and tokenizer.json.
	ModelDir string
	// OrtLibPath points at onnxruntime's shared library; "" uses the
	// system default.
	OrtLibPath string
	// NumThreads controls intra-op parallelism; 0 = min(4, NumCPU).
	NumThreads int
	// Dim is the model's output embedding dimension.
	Dim int
	// ModelName is the identifier stored in the pack header.
	ModelName string
}

// NewTransformerEmbedder loads the ONNX model and tokenizer from
// opts.ModelDir.
func NewTransformerEmbedder(opts TransformerOptions) (*TransformerEmbedder, error) {
	modelPath := filepath.Join(opts.ModelDir, "model.onnx")
	tokenPath := filepath.Join(opts.ModelDir, "tokenizer.json")

	if _, err := os.Stat(modelPath); err != nil {
		return nil, mperrors.Wrap(mperrors.IOError, -1, err, fmt.Sprintf("embedder: model not found at %s", modelPath))
	}
	if _, err := os.Stat(tokenPath); err != nil {
		return nil, mperrors.Wrap(mperrors.IOError, -1, err, fmt.Sprintf("embedder: tokenizer not found at %s", tokenPath))
	}

	if opts.OrtLibPath != "" {
		ort.SetSharedLibraryPath(opts.OrtLibPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, mperrors.Wrap(mperrors.EmbedError, -1, err, "embedder: init onnxruntime")
	}

	numThreads := opts.NumThreads
	if numThreads <= 0 {
		numThreads = runtime.NumCPU()
		if numThreads > 4 {
			numThreads = 4
		}
	}

	sessOpts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, mperrors.Wrap(mperrors.EmbedError, -1, err, "embedder: session options")
	}
	defer sessOpts.Destroy()

	if err := sessOpts.SetIntraOpNumThreads(numThreads); err != nil {
		return nil, mperrors.Wrap(mperrors.EmbedError, -1, err, "embedder: set intra-op threads")
	}
	if err := sessOpts.SetInterOpNumThreads(1); err != nil {
		return nil, mperrors.Wrap(mperrors.EmbedError, -1, err, "embedder: set inter-op threads")
	}

	inputNames := []string{"input_ids", "attention_mask", "token_type_ids"}
	outputNames := []string{"last_hidden_state"}

	session, err := ort.NewDynamicAdvancedSession(modelPath, inputNames, outputNames, sessOpts)
	if err != nil {
		return nil, mperrors.Wrap(mperrors.EmbedError, -1, err, "embedder: create session")
	}

	tk, err := tokenizers.FromFile(tokenPath)
	if err != nil {
		session.Destroy()
		return nil, mperrors.Wrap(mperrors.EmbedError, -1, err, "embedder: load tokenizer")
	}

	dim := opts.Dim
	if dim <= 0 {
		dim = 384
	}
	modelName := opts.ModelName
	if modelName == "" {
		modelName = "bge-small-en-v1.5"
	}

	return &TransformerEmbedder{
		session:   session,
		tokenizer: tk,
		batchSize: defaultBatchSize,
		dim:       dim,
		modelName: modelName,
	}, nil
}

// Close releases the ONNX session and tokenizer.
func (e *TransformerEmbedder) Close() error {
	if e.session != nil {
		e.session.Destroy()
	}
	if e.tokenizer != nil {
		e.tokenizer.Close()
	}
	return nil
}

// Dimensions implements Embedder.
func (e *TransformerEmbedder) Dimensions() int { return e.dim }

// ModelName implements Embedder.
func (e *TransformerEmbedder) ModelName() string { return e.modelName }

// EmbedBatch implements Embedder.
func (e *TransformerEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += e.batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := i + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := e.embedBatch(texts[i:end])
		if err != nil {
			return nil, mperrors.Wrap(mperrors.EmbedError, int64(i), err, "embedder: batch failed")
		}
		results = append(results, batch...)
	}
	return results, nil
}

// EmbedQuery implements Embedder.
func (e *TransformerEmbedder) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{queryPrefix + query})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, mperrors.New(mperrors.EmbedError, "embedder: empty result for query")
	}
	return vecs[0], nil
}

type encoded struct {
	ids  []int64
	mask []int64
}

func (e *TransformerEmbedder) embedBatch(texts []string) ([][]float32, error) {
	batchSize := len(texts)

	all := make([]encoded, batchSize)
	maxLen := 0
	for i, text := range texts {
		enc := e.tokenizer.EncodeWithOptions(text, true, tokenizers.WithReturnAttentionMask())
		ids := enc.IDs
		if len(ids) > maxSeqLen {
			ids = ids[:maxSeqLen]
		}
		ids64 := make([]int64, len(ids))
		mask64 := make([]int64, len(ids))
		for j, v := range ids {
			ids64[j] = int64(v)
			mask64[j] = 1
		}
		if len(enc.AttentionMask) >= len(ids) {
			for j := range ids64 {
				mask64[j] = int64(enc.AttentionMask[j])
			}
		}
		all[i] = encoded{ids: ids64, mask: mask64}
		if len(ids64) > maxLen {
			maxLen = len(ids64)
		}
	}
	if maxLen == 0 {
		return nil, fmt.Errorf("all texts tokenized to zero length")
	}

	flatIDs := make([]int64, batchSize*maxLen)
	flatMask := make([]int64, batchSize*maxLen)
	flatType := make([]int64, batchSize*maxLen)
	for i, enc := range all {
		copy(flatIDs[i*maxLen:], enc.ids)
		copy(flatMask[i*maxLen:], enc.mask)
	}
	shape := ort.NewShape(int64(batchSize), int64(maxLen))

	inputIDs, err := ort.NewTensor(shape, flatIDs)
	if err != nil {
		return nil, fmt.Errorf("input_ids tensor: %w", err)
	}
	defer inputIDs.Destroy()

	attnMask, err := ort.NewTensor(shape, flatMask)
	if err != nil {
		return nil, fmt.Errorf("attention_mask tensor: %w", err)
	}
	defer attnMask.Destroy()

	typeIDs, err := ort.NewTensor(shape, flatType)
	if err != nil {
		return nil, fmt.Errorf("token_type_ids tensor: %w", err)
	}
	defer typeIDs.Destroy()

	inputs := []ort.Value{inputIDs, attnMask, typeIDs}
	outputs := []ort.Value{nil}
	if err := e.session.Run(inputs, outputs); err != nil {
		return nil, fmt.Errorf("ort run: %w", err)
	}
	defer func() {
		if outputs[0] != nil {
			outputs[0].Destroy()
		}
	}()

	hiddenTensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected output type (want *Tensor[float32])")
	}
	hidden := hiddenTensor.GetData()
	seqLen := int(hiddenTensor.GetShape()[1])

	embeddings := make([][]float32, batchSize)
	for i := 0; i < batchSize; i++ {
		vec := make([]float32, e.dim)
		// BGE-style models use the [CLS] token (t=0) as the sentence
		// embedding.
		base := i * seqLen * e.dim
		for d := 0; d < e.dim; d++ {
			vec[d] = hidden[base+d]
		}
		l2Normalize(vec)
		embeddings[i] = vec
	}
	return embeddings, nil
}

// BenchmarkSingle embeds a single short text and returns phase timings,
// used by the bench CLI command.
func (e *TransformerEmbedder) BenchmarkSingle(text string) (tokenize, inference, total time.Duration, err error) {
	t0 := time.Now()
	enc := e.tokenizer.EncodeWithOptions(text, true, tokenizers.WithReturnAttentionMask())
	ids := enc.IDs
	if len(ids) > maxSeqLen {
		ids = ids[:maxSeqLen]
	}
	tokenize = time.Since(t0)

	ids64 := make([]int64, len(ids))
	mask64 := make([]int64, len(ids))
	flatType := make([]int64, len(ids))
	for j, v := range ids {
		ids64[j] = int64(v)
		mask64[j] = 1
	}
	shape := ort.NewShape(1, int64(len(ids)))
	idsT, err := ort.NewTensor(shape, ids64)
	if err != nil {
		return 0, 0, 0, err
	}
	defer idsT.Destroy()
	maskT, err := ort.NewTensor(shape, mask64)
	if err != nil {
		return 0, 0, 0, err
	}
	defer maskT.Destroy()
	typT, err := ort.NewTensor(shape, flatType)
	if err != nil {
		return 0, 0, 0, err
	}
	defer typT.Destroy()

	t1 := time.Now()
	outputs := []ort.Value{nil}
	if err := e.session.Run([]ort.Value{idsT, maskT, typT}, outputs); err != nil {
		return 0, 0, 0, err
	}
	if outputs[0] != nil {
		outputs[0].Destroy()
	}
	inference = time.Since(t1)
	total = time.Since(t0)
	return tokenize, inference, total, nil
}

func l2Normalize(v []float32) {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	norm = math.Sqrt(norm)
	if norm < 1e-10 {
		return
	}
	inv := float32(1.0 / norm)
	for i := range v {
		v[i] *= inv
	}
}
