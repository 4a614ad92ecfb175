package memory

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hrygo/recall/ai/embedding"
	"github.com/hrygo/recall/store"
)

// defaultContextWindowSize is the number of group log entries returned when
// the caller does not ask for a specific window size.
const defaultContextWindowSize = 7

// GroupMemory manages independent store+pipeline pairs, one per group
// conversation, created lazily on the first message from an unseen group.
type GroupMemory struct {
	registry *Registry
	embedder embedding.Provider
}

// NewGroupMemory wires group handling over the given registry.
func NewGroupMemory(registry *Registry) *GroupMemory {
	return &GroupMemory{
		registry: registry,
		embedder: registry.embedder,
	}
}

// AddMessage appends a message to the group's ordered log and submits a
// document for background embedding. The returned timestamp correlates a
// later reply with this message.
func (g *GroupMemory) AddMessage(groupID, senderName, text string, isMention bool) (string, error) {
	e, err := g.registry.engine(groupID)
	if err != nil {
		return "", err
	}

	rec, index, err := e.store.AddGroupMessage(groupID, senderName, text, isMention)
	if err != nil {
		return "", err
	}

	g.submitGroupDoc(e, groupID, index, rec)
	return rec.Timestamp, nil
}

// UpdateResponse sets the assistant reply on the log entry with the matching
// timestamp and re-submits the same document id with the reply folded into
// its content. Returns false when no entry matches.
func (g *GroupMemory) UpdateResponse(groupID, timestamp, replyText string) (bool, error) {
	e, err := g.registry.engine(groupID)
	if err != nil {
		return false, err
	}

	ok, err := e.store.UpdateGroupResponse(groupID, timestamp, replyText)
	if err != nil || !ok {
		return false, err
	}

	rec, index, found := e.store.GroupMessageAt(groupID, timestamp)
	if !found {
		return true, nil
	}
	g.submitGroupDoc(e, groupID, index, rec)
	return true, nil
}

// ContextWindow returns the size most recent log entries strictly before
// beforeTimestamp, oldest first, so a prompt built from it reads
// top-to-bottom as a transcript. size <= 0 uses the default of 7.
func (g *GroupMemory) ContextWindow(groupID, beforeTimestamp string, size int) []*store.GroupMessageRecord {
	if size <= 0 {
		size = defaultContextWindowSize
	}
	e, err := g.registry.engine(groupID)
	if err != nil {
		slog.Error("unable to open group scope", "group_id", groupID, "error", err)
		return nil
	}
	return e.store.GroupContextWindow(groupID, beforeTimestamp, size)
}

// Retrieve runs the group's retrieval pipeline over its message documents.
func (g *GroupMemory) Retrieve(ctx context.Context, groupID, query string, k int) []string {
	e, err := g.registry.engine(groupID)
	if err != nil {
		slog.ErrorContext(ctx, "unable to open group scope", "group_id", groupID, "error", err)
		return nil
	}
	report := e.pipeline.Query(ctx, query, k)
	out := make([]string, len(report.Results))
	for i, res := range report.Results {
		out[i] = res.Content
	}
	return out
}

// Flush drains pending background work for all groups.
func (g *GroupMemory) Flush() {
	g.registry.FlushAll()
}

// submitGroupDoc schedules embed+upsert for a group log entry. The document
// id derives from the entry's stable log position, so a reply update rewrites
// the same document instead of adding a new one.
func (g *GroupMemory) submitGroupDoc(e *engine, groupID string, index int, rec *store.GroupMessageRecord) {
	content := fmt.Sprintf("%s: %s", rec.SenderName, rec.HumanMessage)
	if rec.AssistantMessage != "" {
		content = fmt.Sprintf("%s\nassistant: %s", content, rec.AssistantMessage)
	}

	doc := &store.Document{
		ID:      fmt.Sprintf("grp-%s-%d", groupID, index),
		Content: content,
		Metadata: map[string]any{
			store.MetadataKeyScopeID:    groupID,
			store.MetadataKeyTimestamp:  rec.Timestamp,
			store.MetadataKeyTurn:       int64(index + 1),
			store.MetadataKeySenderName: rec.SenderName,
			store.MetadataKeyType:       store.DocumentTypeGroupChatMessage,
		},
	}

	e.worker.Submit(func(ctx context.Context) {
		vec, err := g.embedder.Embed(ctx, doc.Content)
		if err != nil {
			slog.WarnContext(ctx, "embedding unavailable, storing without vector",
				"group_id", groupID, "doc_id", doc.ID, "error", err)
		} else {
			doc.Embedding = vec
		}
		if err := e.store.Add(doc); err != nil {
			slog.ErrorContext(ctx, "unable to store group document",
				"group_id", groupID, "doc_id", doc.ID, "error", err)
		}
	})
}
