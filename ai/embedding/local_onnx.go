//go:build onnx

package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// localProvider runs a BERT-family sentence embedding model through ONNX
// Runtime. It exists so a deployment without any API credential still gets
// real vectors instead of the lexical fallback.
type localProvider struct {
	mu         sync.Mutex // ONNX sessions are not safe for concurrent Run
	session    *ort.DynamicAdvancedSession
	tokenizer  *wordPieceTokenizer
	dimensions int
}

const localMaxSequenceLength = 128

// NewLocal creates a provider backed by a local ONNX model.
func NewLocal(cfg *Config) (Provider, error) {
	if cfg.LocalModelPath == "" {
		return nil, fmt.Errorf("%w: local model path not configured", ErrUnavailable)
	}
	dimensions := cfg.Dimensions
	if dimensions == 0 {
		dimensions = 384 // all-MiniLM-L6-v2 family default
	}

	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("%w: initialize onnx runtime: %v", ErrUnavailable, err)
	}

	tokenizer, err := loadWordPieceTokenizer(cfg.LocalTokenizerPath)
	if err != nil {
		return nil, fmt.Errorf("%w: load tokenizer: %v", ErrUnavailable, err)
	}

	session, err := ort.NewDynamicAdvancedSession(cfg.LocalModelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"last_hidden_state"},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: create onnx session: %v", ErrUnavailable, err)
	}

	return &localProvider{
		session:    session,
		tokenizer:  tokenizer,
		dimensions: dimensions,
	}, nil
}

func (p *localProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
	default:
	}

	tokens := p.tokenizer.tokenize(text)

	inputIDs := make([]int64, localMaxSequenceLength)
	attentionMask := make([]int64, localMaxSequenceLength)
	tokenTypeIDs := make([]int64, localMaxSequenceLength)

	inputIDs[0] = int64(p.tokenizer.clsToken)
	attentionMask[0] = 1

	tokenLen := len(tokens)
	if tokenLen > localMaxSequenceLength-2 {
		tokenLen = localMaxSequenceLength - 2
	}
	for i := 0; i < tokenLen; i++ {
		inputIDs[i+1] = tokens[i]
		attentionMask[i+1] = 1
	}
	inputIDs[tokenLen+1] = int64(p.tokenizer.sepToken)
	attentionMask[tokenLen+1] = 1

	shape := ort.NewShape(1, int64(localMaxSequenceLength))
	inputIDsTensor, err := ort.NewTensor(shape, inputIDs)
	if err != nil {
		return nil, fmt.Errorf("%w: input_ids tensor: %v", ErrUnavailable, err)
	}
	defer inputIDsTensor.Destroy()

	attentionMaskTensor, err := ort.NewTensor(shape, attentionMask)
	if err != nil {
		return nil, fmt.Errorf("%w: attention_mask tensor: %v", ErrUnavailable, err)
	}
	defer attentionMaskTensor.Destroy()

	tokenTypeIDsTensor, err := ort.NewTensor(shape, tokenTypeIDs)
	if err != nil {
		return nil, fmt.Errorf("%w: token_type_ids tensor: %v", ErrUnavailable, err)
	}
	defer tokenTypeIDsTensor.Destroy()

	outputs := []ort.Value{nil}

	p.mu.Lock()
	err = p.session.Run([]ort.Value{inputIDsTensor, attentionMaskTensor, tokenTypeIDsTensor}, outputs)
	p.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("%w: onnx inference: %v", ErrUnavailable, err)
	}
	defer func() {
		for _, out := range outputs {
			if out != nil {
				out.Destroy()
			}
		}
	}()

	if len(outputs) == 0 || outputs[0] == nil {
		return nil, fmt.Errorf("%w: no output tensors returned", ErrUnavailable)
	}
	tensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("%w: unexpected output tensor type", ErrUnavailable)
	}

	embedding, err := p.pool(tensor, attentionMask)
	if err != nil {
		return nil, err
	}
	return normalizeUnit(embedding), nil
}

func (p *localProvider) Dimensions() int {
	return p.dimensions
}

// Close releases ONNX resources.
func (p *localProvider) Close() error {
	if p.session != nil {
		return p.session.Destroy()
	}
	return nil
}

// pool reduces the model output to a single vector: pass-through for models
// that pool internally ([1, dim]), masked mean pooling otherwise
// ([1, seq, dim]).
func (p *localProvider) pool(tensor *ort.Tensor[float32], attentionMask []int64) ([]float32, error) {
	data := tensor.GetData()
	shape := tensor.GetShape()

	switch len(shape) {
	case 2:
		if len(data) < p.dimensions {
			return nil, fmt.Errorf("%w: output dimension mismatch: got %d, expected %d", ErrUnavailable, len(data), p.dimensions)
		}
		embedding := make([]float32, p.dimensions)
		copy(embedding, data[:p.dimensions])
		return embedding, nil

	case 3:
		seqLen, hiddenSize := shape[1], shape[2]
		if hiddenSize != int64(p.dimensions) {
			return nil, fmt.Errorf("%w: hidden size mismatch: got %d, expected %d", ErrUnavailable, hiddenSize, p.dimensions)
		}
		embedding := make([]float32, p.dimensions)
		var attended float32
		for i := 0; i < int(seqLen); i++ {
			if i >= len(attentionMask) || attentionMask[i] == 0 {
				continue
			}
			attended++
			offset := i * int(hiddenSize)
			for j := 0; j < int(hiddenSize); j++ {
				embedding[j] += data[offset+j]
			}
		}
		if attended == 0 {
			return nil, fmt.Errorf("%w: no attended tokens", ErrUnavailable)
		}
		for j := range embedding {
			embedding[j] /= attended
		}
		return embedding, nil

	default:
		return nil, fmt.Errorf("%w: unexpected output shape %v", ErrUnavailable, shape)
	}
}

// normalizeUnit scales a vector to unit length.
func normalizeUnit(vec []float32) []float32 {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}

// wordPieceTokenizer is a minimal BERT WordPiece tokenizer driven by the
// model's tokenizer.json vocabulary.
type wordPieceTokenizer struct {
	vocab    map[string]int
	clsToken int
	sepToken int
	unkToken int
}

func loadWordPieceTokenizer(path string) (*wordPieceTokenizer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var tokenizerData struct {
		Model struct {
			Vocab map[string]int `json:"vocab"`
		} `json:"model"`
	}
	if err := json.Unmarshal(data, &tokenizerData); err != nil {
		return nil, err
	}

	return &wordPieceTokenizer{
		vocab:    tokenizerData.Model.Vocab,
		clsToken: 101, // [CLS]
		sepToken: 102, // [SEP]
		unkToken: 100, // [UNK]
	}, nil
}

func (t *wordPieceTokenizer) tokenize(text string) []int64 {
	text = strings.ToLower(text)
	words := strings.Fields(text)

	var tokens []int64
	for _, word := range words {
		word = strings.Trim(word, ".,!?;:\"'")
		if word == "" {
			continue
		}
		if id, ok := t.vocab[word]; ok {
			tokens = append(tokens, int64(id))
			continue
		}
		for _, subword := range t.wordPieceSplit(word) {
			if id, ok := t.vocab[subword]; ok {
				tokens = append(tokens, int64(id))
			} else {
				tokens = append(tokens, int64(t.unkToken))
			}
		}
	}
	return tokens
}

// wordPieceSplit greedily matches the longest known prefix, continuing with
// "##"-prefixed subwords.
func (t *wordPieceTokenizer) wordPieceSplit(word string) []string {
	var subwords []string
	start := 0
	for start < len(word) {
		end := len(word)
		found := false
		for end > start {
			substr := word[start:end]
			if start > 0 {
				substr = "##" + substr
			}
			if _, ok := t.vocab[substr]; ok {
				subwords = append(subwords, substr)
				start = end
				found = true
				break
			}
			end--
		}
		if !found {
			subwords = append(subwords, "[UNK]")
			start++
		}
	}
	return subwords
}
