// Package retrieval orchestrates query answering over one conversation
// scope: embed, vector search, optional rerank, and the hybrid non-vector
// fallback when any earlier rung fails.
package retrieval

import (
	"context"
	"log/slog"
	"time"

	"github.com/lithammer/shortuuid/v4"

	"github.com/hrygo/recall/ai/embedding"
	"github.com/hrygo/recall/ai/metrics"
	"github.com/hrygo/recall/ai/reranker"
	"github.com/hrygo/recall/store"
)

// Path labels which rung of the ladder produced a query's results.
const (
	PathVector   = "vector"
	PathFallback = "fallback"
	PathEmpty    = "empty" // scope holds no documents, no rung ran
)

// Config represents retrieval pipeline configuration.
type Config struct {
	TopK int // default result count when the caller passes k <= 0

	// Hybrid fallback weights and decay rate. Zero values fall back to the
	// empirical defaults (0.4/0.25/0.15/0.2, 0.05 per hour).
	TimeWeight    float64
	TurnWeight    float64
	MatchWeight   float64
	QualityWeight float64
	DecayRate     float64
}

// Result is one ranked memory returned to the caller.
type Result struct {
	Content  string
	Metadata map[string]any
	Score    float32
}

// Report is the outcome of one query. Path is exposed so callers can observe
// degraded (fallback) answers rather than having them hidden.
type Report struct {
	Results   []Result
	Path      string
	RequestID string
}

// Pipeline answers queries for a single scope. Failures in the embed, search
// and rerank rungs are absorbed as fallback triggers, never propagated; the
// only empty answer is a genuinely empty scope.
type Pipeline struct {
	store    *store.ScopeStore
	embedder embedding.Provider
	reranker reranker.Service // nil when not configured
	scorer   *fallbackScorer
	topK     int
}

// NewPipeline creates a pipeline over the given store and embedder.
// rr may be nil when reranking is not configured.
func NewPipeline(st *store.ScopeStore, embedder embedding.Provider, rr reranker.Service, cfg *Config) *Pipeline {
	if cfg == nil {
		cfg = &Config{}
	}
	topK := cfg.TopK
	if topK <= 0 {
		topK = 5
	}
	return &Pipeline{
		store:    st,
		embedder: embedder,
		reranker: rr,
		scorer:   newFallbackScorer(cfg),
		topK:     topK,
	}
}

// Query returns the top-k memories for the query text. It never returns an
// error: degraded rungs resolve through the fallback ladder, and an empty
// scope yields an empty result.
func (p *Pipeline) Query(ctx context.Context, query string, k int) *Report {
	if k <= 0 {
		k = p.topK
	}
	requestID := shortuuid.New()

	if p.store.Count() == 0 {
		metrics.RetrievalQueries.WithLabelValues(PathEmpty).Inc()
		return &Report{Path: PathEmpty, RequestID: requestID}
	}

	candidates, ok := p.vectorSearch(ctx, requestID, query, k)
	if !ok {
		return p.fallback(requestID, query, k)
	}

	candidates = p.rerank(ctx, requestID, query, candidates)
	if len(candidates) > k {
		candidates = candidates[:k]
	}

	metrics.RetrievalQueries.WithLabelValues(PathVector).Inc()
	slog.InfoContext(ctx, "retrieval served from vector search",
		"request_id", requestID, "scope_id", p.store.ScopeID(), "results", len(candidates))
	return &Report{Results: toResults(candidates), Path: PathVector, RequestID: requestID}
}

// vectorSearch embeds the query and runs similarity search over 2x the
// requested count, leaving headroom for the reranker to reorder.
// ok is false when this rung cannot produce candidates.
func (p *Pipeline) vectorSearch(ctx context.Context, requestID, query string, k int) ([]store.DocumentWithScore, bool) {
	vector, err := p.embedder.Embed(ctx, query)
	if err != nil {
		slog.WarnContext(ctx, "embedding unavailable, using hybrid fallback",
			"request_id", requestID, "scope_id", p.store.ScopeID(), "error", err)
		return nil, false
	}

	candidates := p.store.Search(vector, k*2)
	if len(candidates) == 0 {
		slog.InfoContext(ctx, "vector search returned nothing, using hybrid fallback",
			"request_id", requestID, "scope_id", p.store.ScopeID())
		return nil, false
	}
	return candidates, true
}

// rerank reorders candidates through the rerank service when one is
// configured and there is more than one candidate. Any deviation from the
// service degrades to the incoming vector order.
func (p *Pipeline) rerank(ctx context.Context, requestID, query string, candidates []store.DocumentWithScore) []store.DocumentWithScore {
	if p.reranker == nil || !p.reranker.IsEnabled() || len(candidates) <= 1 {
		return candidates
	}

	contents := make([]string, len(candidates))
	for i, c := range candidates {
		contents[i] = c.Document.Content
	}

	results, err := p.reranker.Rerank(ctx, query, contents)
	if err != nil {
		metrics.RerankFailures.Inc()
		slog.WarnContext(ctx, "rerank failed, keeping vector order",
			"request_id", requestID, "scope_id", p.store.ScopeID(), "error", err)
		return candidates
	}

	reordered := make([]store.DocumentWithScore, len(results))
	for i, r := range results {
		reordered[i] = store.DocumentWithScore{
			Document: candidates[r.Index].Document,
			Score:    r.Score,
		}
	}
	return reordered
}

// fallback ranks raw document content and metadata with the hybrid scorer.
func (p *Pipeline) fallback(requestID, query string, k int) *Report {
	ranked := p.scorer.Rank(query, p.store.All(), p.store.LatestTurn(), time.Now(), k)

	metrics.RetrievalQueries.WithLabelValues(PathFallback).Inc()
	slog.Info("retrieval served from hybrid fallback",
		"request_id", requestID, "scope_id", p.store.ScopeID(), "results", len(ranked))
	return &Report{Results: toResults(ranked), Path: PathFallback, RequestID: requestID}
}

func toResults(scored []store.DocumentWithScore) []Result {
	results := make([]Result, len(scored))
	for i, s := range scored {
		results[i] = Result{
			Content:  s.Document.Content,
			Metadata: s.Document.Metadata,
			Score:    s.Score,
		}
	}
	return results
}
