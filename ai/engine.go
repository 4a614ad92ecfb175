package ai

import (
	"log/slog"

	"github.com/hrygo/recall/ai/cache"
	"github.com/hrygo/recall/ai/embedding"
	"github.com/hrygo/recall/ai/llm"
	"github.com/hrygo/recall/ai/memory"
	"github.com/hrygo/recall/ai/reranker"
)

// Engine is the assembled memory engine: one embedder and reranker shared
// across all scopes, per-scope stores and pipelines created lazily.
type Engine struct {
	Processor *memory.Processor
	Groups    *memory.GroupMemory

	embedder *embedding.CachedProvider
	registry *memory.Registry
}

// NewEngine builds the engine from a derived Config. The completion service
// is optional: without an API key the importance classifier runs on rules
// alone.
func NewEngine(cfg *Config) (*Engine, error) {
	embedder, err := embedding.New(cfg.Embedding)
	if err != nil {
		return nil, err
	}

	var rr reranker.Service
	if cfg.Reranker.Enabled {
		rr = reranker.NewService(cfg.Reranker)
	}

	var completion llm.Service
	if cfg.LLM.APIKey != "" {
		completion, err = llm.NewService(cfg.LLM)
		if err != nil {
			slog.Warn("completion service unavailable, importance runs on rules alone", "error", err)
			completion = nil
		}
	}

	registry := memory.NewRegistry(cfg.DataDir, cfg.Embedding.Dimensions, embedder, rr, cfg.Retrieval)
	processor, err := memory.NewProcessor(cfg.DataDir, registry, memory.NewImportanceClassifier(completion))
	if err != nil {
		registry.Close()
		return nil, err
	}

	return &Engine{
		Processor: processor,
		Groups:    memory.NewGroupMemory(registry),
		embedder:  embedder,
		registry:  registry,
	}, nil
}

// CacheStats exposes the embedding cache hit/miss counters.
func (e *Engine) CacheStats() cache.Stats {
	return e.embedder.Stats()
}

// Close drains background work and stops all scope workers.
func (e *Engine) Close() {
	e.registry.Close()
}
