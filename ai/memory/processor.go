// Package memory converts raw conversation turns into retrievable documents:
// cleaning, dedup, importance classification, per-scope persistence and the
// background embedding path.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hrygo/recall/ai/embedding"
	"github.com/hrygo/recall/ai/metrics"
	"github.com/hrygo/recall/store"
)

// conversationLogName is the shared backing file under <data>/logs holding
// every private scope's append-only history.
const conversationLogName = "memory"

// Processor is the write/read surface for private conversation scopes.
type Processor struct {
	registry   *Registry
	log        *store.ConversationLog
	classifier *ImportanceClassifier
	embedder   embedding.Provider
}

// NewProcessor opens the conversation log (running the one-time identity
// repair pass) and wires the processor over the given registry.
func NewProcessor(dataDir string, registry *Registry, classifier *ImportanceClassifier) (*Processor, error) {
	log, err := store.OpenConversationLog(dataDir, conversationLogName)
	if err != nil {
		return nil, err
	}
	if classifier == nil {
		classifier = NewImportanceClassifier(nil)
	}
	return &Processor{
		registry:   registry,
		log:        log,
		classifier: classifier,
		embedder:   registry.embedder,
	}, nil
}

// Remember records one (speaker, message, reply) turn. The conversation log
// append is synchronous; embedding and indexing run in the background so the
// caller's reply path never waits on the network. Returns false when the turn
// is rejected by the dedup policy.
func (p *Processor) Remember(scopeID, speakerText, replyText, speakerID string) bool {
	speaker := cleanText(speakerText)
	reply := cleanText(replyText)

	if reason := rejectTurn(speaker, reply); reason != "" {
		metrics.TurnsRejected.Inc()
		slog.Debug("turn rejected", "scope_id", scopeID, "reason", reason)
		return false
	}

	e, err := p.registry.engine(scopeID)
	if err != nil {
		slog.Error("unable to open scope", "scope_id", scopeID, "error", err)
		return false
	}

	now := time.Now()
	if err := p.log.Append(scopeID, &store.LogEntry{
		Timestamp:        now.Format(store.TimestampLayout),
		HumanMessage:     speaker,
		AssistantMessage: reply,
		SenderName:       speakerID,
	}); err != nil {
		slog.Error("unable to append conversation log", "scope_id", scopeID, "error", err)
		return false
	}

	// The counter advances here, not when the worker lands the document, so
	// back-to-back turns get distinct numbers while embeds are in flight.
	turn := e.turns.Add(1)
	doc := &store.Document{
		ID:      store.NewDocumentID(turn),
		Content: fmt.Sprintf("%s: %s\nassistant: %s", speakerID, speaker, reply),
		Metadata: map[string]any{
			store.MetadataKeyScopeID:    scopeID,
			store.MetadataKeyTimestamp:  now.Format(store.TimestampLayout),
			store.MetadataKeyTurn:       turn,
			store.MetadataKeySenderName: speakerID,
			store.MetadataKeyType:       store.DocumentTypeChat,
		},
	}
	p.submitIndex(e, doc)
	return true
}

// submitIndex schedules embed+store for a document. An unavailable embedder
// stores the document without a vector; the hybrid fallback still finds it.
func (p *Processor) submitIndex(e *engine, doc *store.Document) {
	e.worker.Submit(func(ctx context.Context) {
		vec, err := p.embedder.Embed(ctx, doc.Content)
		if err != nil {
			slog.WarnContext(ctx, "embedding unavailable, storing without vector",
				"scope_id", doc.ScopeID(), "doc_id", doc.ID, "error", err)
		} else {
			doc.Embedding = vec
		}
		if err := e.store.Add(doc); err != nil {
			slog.ErrorContext(ctx, "unable to store document",
				"scope_id", doc.ScopeID(), "doc_id", doc.ID, "error", err)
			return
		}
		metrics.DocumentsStored.Inc()
	})
}

// Retrieve runs the scope's retrieval pipeline and formats the results as a
// numbered, timestamped digest for prompt injection. Empty scope = empty
// string.
func (p *Processor) Retrieve(ctx context.Context, scopeID, query string, k int) string {
	e, err := p.registry.engine(scopeID)
	if err != nil {
		slog.ErrorContext(ctx, "unable to open scope", "scope_id", scopeID, "error", err)
		return ""
	}

	report := e.pipeline.Query(ctx, query, k)
	if len(report.Results) == 0 {
		return ""
	}

	var b strings.Builder
	for i, res := range report.Results {
		ts, _ := res.Metadata[store.MetadataKeyTimestamp].(string)
		if ts != "" {
			fmt.Fprintf(&b, "%d. [%s] %s\n", i+1, ts, res.Content)
		} else {
			fmt.Fprintf(&b, "%d. %s\n", i+1, res.Content)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// IsImportant reports whether the text deserves long-term storage.
func (p *Processor) IsImportant(ctx context.Context, text string) bool {
	return p.classifier.IsImportant(ctx, text)
}

// Clear drops a scope's documents and conversation history.
func (p *Processor) Clear(scopeID string) error {
	e, err := p.registry.engine(scopeID)
	if err != nil {
		return err
	}
	e.worker.Flush()
	if err := e.store.Clear(); err != nil {
		return err
	}
	e.turns.Store(0)
	return p.log.Clear(scopeID)
}

// DocumentCount returns the number of stored documents for a scope.
func (p *Processor) DocumentCount(scopeID string) int {
	e, err := p.registry.engine(scopeID)
	if err != nil {
		return 0
	}
	return e.store.Count()
}

// History returns the last limit conversation log entries for a scope.
func (p *Processor) History(scopeID string, limit int) []*store.LogEntry {
	return p.log.Recent(scopeID, limit)
}

// Flush drains all background work, making pending writes visible. Tests and
// shutdown paths use it; the reply path never does.
func (p *Processor) Flush() {
	p.registry.FlushAll()
}
