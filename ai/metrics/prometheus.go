// Package metrics provides Prometheus metrics for the memory engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds all engine metrics. A dedicated registry (instead of the
// default global one) keeps embedding tests from tripping over duplicate
// registration.
var Registry = prometheus.NewRegistry()

var (
	// EmbeddingCacheHits counts memoization cache hits.
	EmbeddingCacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "recall",
		Subsystem: "embedding",
		Name:      "cache_hits_total",
		Help:      "Total number of embedding cache hits",
	})

	// EmbeddingCacheMisses counts memoization cache misses.
	EmbeddingCacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "recall",
		Subsystem: "embedding",
		Name:      "cache_misses_total",
		Help:      "Total number of embedding cache misses",
	})

	// RetrievalQueries counts queries by the path that produced the result
	// (vector vs fallback).
	RetrievalQueries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "recall",
		Subsystem: "retrieval",
		Name:      "queries_total",
		Help:      "Total number of retrieval queries by result path",
	}, []string{"path"})

	// RerankFailures counts rerank calls that degraded to vector order.
	RerankFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "recall",
		Subsystem: "retrieval",
		Name:      "rerank_failures_total",
		Help:      "Total number of rerank calls degraded to vector order",
	})

	// DocumentsStored counts accepted document writes.
	DocumentsStored = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "recall",
		Subsystem: "store",
		Name:      "documents_stored_total",
		Help:      "Total number of documents written to scope stores",
	})

	// TurnsRejected counts remember() calls rejected by the dedup policy.
	TurnsRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "recall",
		Subsystem: "memory",
		Name:      "turns_rejected_total",
		Help:      "Total number of turns rejected before storage",
	})
)

func init() {
	Registry.MustRegister(
		EmbeddingCacheHits,
		EmbeddingCacheMisses,
		RetrievalQueries,
		RerankFailures,
		DocumentsStored,
		TurnsRejected,
	)
}
