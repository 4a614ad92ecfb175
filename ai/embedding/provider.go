// Package embedding turns text into fixed-length vectors.
//
// Two implementations share the Provider contract: a remote OpenAI-compatible
// API client and a locally-loaded ONNX model (build tag "onnx"). Selection is
// static configuration at scope-creation time, not per-call.
package embedding

import (
	"context"

	"github.com/pkg/errors"
)

// ErrUnavailable is returned whenever a provider cannot produce a vector,
// regardless of the underlying cause (timeout, auth failure, malformed
// payload). Callers decide whether to fall back; a zero vector is never
// returned in its place.
var ErrUnavailable = errors.New("embedding unavailable")

// Provider is the vector embedding contract.
type Provider interface {
	// Embed generates a vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the declared output size, 0 if unknown.
	Dimensions() int
}

// BatchProvider is implemented by providers that can embed several texts in
// one round trip.
type BatchProvider interface {
	Provider

	// EmbedBatch generates vectors for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Config represents embedding provider configuration.
type Config struct {
	Provider   string // siliconflow, dashscope, openai, ollama, local
	Model      string
	APIKey     string
	BaseURL    string
	Dimensions int
	CacheSize  int // memoization cap, default 1000
	Timeout    int // request timeout in seconds, default 10

	// Local model settings (Provider == "local")
	LocalModelPath     string
	LocalTokenizerPath string
}
