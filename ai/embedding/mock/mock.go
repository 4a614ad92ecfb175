// Package mock provides a deterministic embedding provider for tests.
package mock

import (
	"context"
	"hash/fnv"
	"math"

	"github.com/hrygo/recall/ai/embedding"
)

// Provider generates deterministic embeddings from a text hash, so similarity
// assertions are stable across runs without any network dependency.
type Provider struct {
	dimensions int

	// Fail forces every Embed call to return ErrUnavailable, for exercising
	// fallback paths.
	Fail bool

	// Calls counts Embed invocations that reached the provider (i.e. were
	// not served from an outer cache).
	Calls int
}

// New creates a mock provider with the given output dimension.
func New(dimensions int) *Provider {
	if dimensions <= 0 {
		dimensions = 64
	}
	return &Provider{dimensions: dimensions}
}

func (m *Provider) Embed(_ context.Context, text string) ([]float32, error) {
	m.Calls++
	if m.Fail {
		return nil, embedding.ErrUnavailable
	}

	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float32, m.dimensions)
	for i := range vec {
		// LCG keeps the output deterministic per input text.
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float32(int64(seed)) / float32(math.MaxInt64)
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec, nil
}

func (m *Provider) Dimensions() int {
	return m.dimensions
}
