// Package ai wires the engine's components together from a validated Profile.
package ai

import (
	"github.com/hrygo/recall/ai/embedding"
	"github.com/hrygo/recall/ai/llm"
	"github.com/hrygo/recall/ai/reranker"
	"github.com/hrygo/recall/ai/retrieval"
	"github.com/hrygo/recall/internal/profile"
)

// Config bundles the per-component configurations derived from a Profile.
// It is built once at startup; changing it requires recreating the affected
// pipelines, not live-patching.
type Config struct {
	Embedding *embedding.Config
	Reranker  *reranker.Config
	LLM       *llm.Config
	Retrieval *retrieval.Config
	DataDir   string
}

// NewConfigFromProfile derives the typed component configs from the profile.
func NewConfigFromProfile(p *profile.Profile) *Config {
	return &Config{
		Embedding: &embedding.Config{
			Provider:           p.EmbeddingProvider,
			Model:              p.EmbeddingModel,
			APIKey:             p.EmbeddingAPIKey,
			BaseURL:            p.EmbeddingBaseURL,
			Dimensions:         p.EmbeddingDimensions,
			CacheSize:          p.EmbeddingCacheSize,
			Timeout:            p.EmbeddingTimeout,
			LocalModelPath:     p.LocalModelPath,
			LocalTokenizerPath: p.LocalTokenizerPath,
		},
		Reranker: &reranker.Config{
			Provider: p.RerankProvider,
			Model:    p.RerankModel,
			APIKey:   p.RerankAPIKey,
			BaseURL:  p.RerankBaseURL,
			Enabled:  p.RerankEnabled && p.RerankAPIKey != "",
		},
		LLM: &llm.Config{
			Provider: p.LLMProvider,
			Model:    p.LLMModel,
			APIKey:   p.LLMAPIKey,
			BaseURL:  p.LLMBaseURL,
			Timeout:  p.LLMTimeout,
		},
		Retrieval: &retrieval.Config{
			TopK:          p.TopK,
			TimeWeight:    p.FallbackTimeWeight,
			TurnWeight:    p.FallbackTurnWeight,
			MatchWeight:   p.FallbackMatchWeight,
			QualityWeight: p.FallbackQualityWeight,
			DecayRate:     p.FallbackDecayRate,
		},
		DataDir: p.Data,
	}
}
