package embedding

import (
	"context"

	"github.com/hrygo/recall/ai/cache"
	"github.com/hrygo/recall/ai/metrics"
)

// CachedProvider memoizes embeddings keyed by exact text.
// Eviction is oldest-inserted-first once the size cap is exceeded; a cache hit
// never re-invokes the underlying provider.
type CachedProvider struct {
	inner Provider
	cache *cache.FIFOCache[string, []float32]
}

// NewCached wraps a provider with a bounded memoization cache.
func NewCached(inner Provider, capacity int) *CachedProvider {
	if capacity <= 0 {
		capacity = 1000
	}
	return &CachedProvider{
		inner: inner,
		cache: cache.NewFIFOCache[string, []float32](capacity),
	}
}

func (p *CachedProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := p.cache.Get(text); ok {
		metrics.EmbeddingCacheHits.Inc()
		return vec, nil
	}
	metrics.EmbeddingCacheMisses.Inc()

	vec, err := p.inner.Embed(ctx, text)
	if err != nil {
		// Failures are not cached: the next call should retry the provider.
		return nil, err
	}
	p.cache.Set(text, vec)
	return vec, nil
}

func (p *CachedProvider) Dimensions() int {
	return p.inner.Dimensions()
}

// Stats exposes the hit/miss counters for observability.
func (p *CachedProvider) Stats() cache.Stats {
	return p.cache.Stats()
}
