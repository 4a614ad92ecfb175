package memory

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/hrygo/recall/ai/embedding"
	"github.com/hrygo/recall/ai/reranker"
	"github.com/hrygo/recall/ai/retrieval"
	"github.com/hrygo/recall/store"
)

// engine bundles the per-scope machinery: the persisted document store, the
// retrieval pipeline over it, and the background worker that feeds it.
type engine struct {
	store    *store.ScopeStore
	pipeline *retrieval.Pipeline
	worker   *Worker

	// turns is the scope's monotonic turn counter. It is assigned at submit
	// time, not when the background worker lands the document, so turns stay
	// unique even while several embeds are still in flight. Seeded from the
	// store at construction so counters survive restarts.
	turns atomic.Int64
}

// Registry owns one engine per scope, created lazily on first use. It
// replaces process-wide singletons: callers hold a Registry reference and
// scope state never leaks into globals.
type Registry struct {
	mu      sync.Mutex
	engines map[string]*engine

	dataDir    string
	dimensions int // 0 = fixed by the first stored vector
	embedder   embedding.Provider
	reranker   reranker.Service // nil when not configured
	retrieval  *retrieval.Config
}

// NewRegistry creates an empty registry. rr may be nil.
func NewRegistry(dataDir string, dimensions int, embedder embedding.Provider, rr reranker.Service, cfg *retrieval.Config) *Registry {
	if cfg == nil {
		cfg = &retrieval.Config{}
	}
	return &Registry{
		engines:    make(map[string]*engine),
		dataDir:    dataDir,
		dimensions: dimensions,
		embedder:   embedder,
		reranker:   rr,
		retrieval:  cfg,
	}
}

// engine returns the scope's engine, constructing it on first use.
func (r *Registry) engine(scopeID string) (*engine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.engines[scopeID]; ok {
		return e, nil
	}

	st, err := store.NewScopeStore(r.dataDir, scopeID, r.dimensions)
	if err != nil {
		return nil, err
	}
	e := &engine{
		store:    st,
		pipeline: retrieval.NewPipeline(st, r.embedder, r.reranker, r.retrieval),
		worker:   NewWorker(scopeID, defaultQueueSize),
	}
	e.turns.Store(st.LatestTurn())
	r.engines[scopeID] = e
	return e, nil
}

// FlushAll drains every scope's background queue in parallel.
func (r *Registry) FlushAll() {
	r.mu.Lock()
	engines := make([]*engine, 0, len(r.engines))
	for _, e := range r.engines {
		engines = append(engines, e)
	}
	r.mu.Unlock()

	var g errgroup.Group
	for _, e := range engines {
		worker := e.worker
		g.Go(func() error {
			worker.Flush()
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // flush never errors
}

// Close drains and stops every worker. The registry is unusable afterwards.
func (r *Registry) Close() {
	r.mu.Lock()
	engines := make([]*engine, 0, len(r.engines))
	for _, e := range r.engines {
		engines = append(engines, e)
	}
	r.engines = make(map[string]*engine)
	r.mu.Unlock()

	var g errgroup.Group
	for _, e := range engines {
		worker := e.worker
		g.Go(func() error {
			worker.Close()
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // close never errors
}
