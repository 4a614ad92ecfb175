package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// ErrCorrupt marks a backing file that could not be decoded. The store
// recovers by reinitializing empty; the error is logged, never returned to
// construction callers.
var ErrCorrupt = errors.New("store file corrupt")

// DocumentWithScore pairs a document with its similarity score.
type DocumentWithScore struct {
	Document *Document
	Score    float32
}

// GroupMessageRecord is one entry of a group conversation's ordered raw log.
// It is kept separately from the Document projection because group scopes need
// ordered, gap-tolerant context windows in addition to similarity search.
type GroupMessageRecord struct {
	Timestamp        string `json:"timestamp"`
	SenderName       string `json:"sender_name"`
	HumanMessage     string `json:"human_message"`
	AssistantMessage string `json:"assistant_message,omitempty"`
	IsMention        bool   `json:"is_mention"`
}

// scopeFile is the on-disk layout of a scope's backing file.
// Unknown top-level keys are preserved on rewrite for forward compatibility.
type scopeFile struct {
	StandardDimension int                              `json:"standard_dimension,omitempty"`
	Documents         []*Document                      `json:"documents"`
	GroupChats        map[string][]*GroupMessageRecord `json:"group_chats,omitempty"`
}

const (
	fileKeyStandardDimension = "standard_dimension"
	fileKeyDocuments         = "documents"
	fileKeyGroupChats        = "group_chats"
)

// ScopeStore is the persisted document collection of one conversation scope.
// Writes are serialized behind the store's own mutex; different scopes never
// share a store, so there is no cross-scope lock.
type ScopeStore struct {
	mu sync.Mutex

	scopeID string
	path    string

	standardDim int
	docs        []*Document    // insertion order, the tie-break for search
	index       map[string]int // id -> position in docs
	groupChats  map[string][]*GroupMessageRecord
	extra       map[string]json.RawMessage // unknown top-level keys, round-tripped
}

// NewScopeStore opens (or lazily creates) the store for one scope.
// standardDim may be 0, in which case the dimension is fixed by the first
// stored vector. A corrupt backing file is replaced by an empty store; the
// data loss is logged, never fatal.
func NewScopeStore(dataDir, scopeID string, standardDim int) (*ScopeStore, error) {
	dir := filepath.Join(dataDir, "scopes")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "unable to create scope directory %s", dir)
	}

	s := &ScopeStore{
		scopeID:     scopeID,
		path:        filepath.Join(dir, sanitizeScopeID(scopeID)+".json"),
		standardDim: standardDim,
		index:       make(map[string]int),
		groupChats:  make(map[string][]*GroupMessageRecord),
		extra:       make(map[string]json.RawMessage),
	}
	s.load()
	return s, nil
}

// ScopeID returns the owning scope id.
func (s *ScopeStore) ScopeID() string {
	return s.scopeID
}

// StandardDimension returns the fixed vector dimension, 0 if not yet
// established.
func (s *ScopeStore) StandardDimension() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.standardDim
}

// Add inserts or replaces a document by id. The embedding, if present, is
// coerced to the store's standard dimension before acceptance; the first
// vector fixes the dimension when none is configured. The backing file is
// rewritten synchronously (durability over throughput; this is a low-QPS
// system).
func (s *ScopeStore) Add(doc *Document) error {
	if doc == nil || doc.ID == "" {
		return errors.New("document requires an id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if doc.Embedding != nil {
		if s.standardDim == 0 {
			s.standardDim = len(doc.Embedding)
		}
		doc.Embedding = NormalizeDimension(doc.Embedding, s.standardDim)
	}
	if doc.Metadata == nil {
		doc.Metadata = make(map[string]any)
	}
	if _, ok := doc.Metadata[MetadataKeyScopeID]; !ok {
		doc.Metadata[MetadataKeyScopeID] = s.scopeID
	}

	if pos, ok := s.index[doc.ID]; ok {
		s.docs[pos] = doc
	} else {
		s.index[doc.ID] = len(s.docs)
		s.docs = append(s.docs, doc)
	}

	return s.persistLocked()
}

// Get returns the document with the given id.
func (s *ScopeStore) Get(id string) (*Document, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.index[id]
	if !ok {
		return nil, false
	}
	return s.docs[pos], true
}

// Search returns the top-k documents by cosine similarity to queryVector.
// Documents without an embedding are skipped. Ties break by insertion order
// (earlier wins).
func (s *ScopeStore) Search(queryVector []float32, k int) []DocumentWithScore {
	s.mu.Lock()
	defer s.mu.Unlock()

	if k <= 0 || len(s.docs) == 0 {
		return nil
	}

	query := queryVector
	if s.standardDim > 0 {
		query = NormalizeDimension(queryVector, s.standardDim)
	}

	scored := make([]DocumentWithScore, 0, len(s.docs))
	for _, doc := range s.docs {
		if doc.Embedding == nil {
			continue
		}
		if sid := doc.ScopeID(); sid != "" && sid != s.scopeID {
			continue
		}
		scored = append(scored, DocumentWithScore{
			Document: doc,
			Score:    CosineSimilarity(query, doc.Embedding),
		})
	}

	// Stable sort keeps insertion order for equal scores.
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	if len(scored) > k {
		scored = scored[:k]
	}
	return scored
}

// GetLatest returns the most recent limit documents, timestamp descending,
// with the id-suffix fallback for entries whose timestamp is unusable.
func (s *ScopeStore) GetLatest(limit int) []*Document {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 || len(s.docs) == 0 {
		return nil
	}

	sorted := make([]*Document, len(s.docs))
	copy(sorted, s.docs)
	sortDocumentsLatestFirst(sorted)

	if len(sorted) > limit {
		sorted = sorted[:limit]
	}
	return sorted
}

// All returns every document in insertion order. The slice is a copy; the
// documents are not.
func (s *ScopeStore) All() []*Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Document, len(s.docs))
	copy(out, s.docs)
	return out
}

// Count returns the number of stored documents.
func (s *ScopeStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.docs)
}

// LatestTurn returns the highest turn counter seen in the scope.
func (s *ScopeStore) LatestTurn() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest int64
	for _, doc := range s.docs {
		if turn, ok := doc.Turn(); ok && turn > latest {
			latest = turn
		}
	}
	return latest
}

// Clear removes all documents (and group logs) from the store.
func (s *ScopeStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs = nil
	s.index = make(map[string]int)
	s.groupChats = make(map[string][]*GroupMessageRecord)
	return s.persistLocked()
}

// AddGroupMessage appends a record to the group's ordered log. It returns the
// record with its assigned timestamp, so a later reply can be correlated, and
// the record's log position, assigned under the lock so concurrent appends
// never observe the same one. The log is append-only, so the position is a
// durable document id component.
func (s *ScopeStore) AddGroupMessage(groupID, senderName, text string, isMention bool) (*GroupMessageRecord, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := time.Now().Format(TimestampSecondLayout)
	// Timestamps within a group log must stay strictly increasing; the
	// context window cuts on them, so two entries sharing a second would
	// become indistinguishable.
	if entries := s.groupChats[groupID]; len(entries) > 0 {
		if last := entries[len(entries)-1].Timestamp; ts <= last {
			if parsed, err := time.ParseInLocation(TimestampSecondLayout, last, time.Local); err == nil {
				ts = parsed.Add(time.Second).Format(TimestampSecondLayout)
			}
		}
	}

	rec := &GroupMessageRecord{
		Timestamp:    ts,
		SenderName:   senderName,
		HumanMessage: text,
		IsMention:    isMention,
	}
	index := len(s.groupChats[groupID])
	s.groupChats[groupID] = append(s.groupChats[groupID], rec)
	if err := s.persistLocked(); err != nil {
		return nil, 0, err
	}
	return rec, index, nil
}

// UpdateGroupResponse sets the assistant reply on the log entry with the
// matching timestamp. Returns false when no entry matches.
func (s *ScopeStore) UpdateGroupResponse(groupID, timestamp, reply string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.groupChats[groupID]
	// Scan backwards: replies correlate with recent messages.
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Timestamp == timestamp {
			entries[i].AssistantMessage = reply
			return true, s.persistLocked()
		}
	}
	return false, nil
}

// GroupContextWindow returns the size most recent log entries strictly before
// beforeTimestamp, oldest first. An empty beforeTimestamp means "before now".
func (s *ScopeStore) GroupContextWindow(groupID, beforeTimestamp string, size int) []*GroupMessageRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.groupChats[groupID]
	if len(entries) == 0 || size <= 0 {
		return nil
	}

	// The log is append-only and chronological; cut at the first entry that
	// is not strictly before the reference point.
	end := len(entries)
	if beforeTimestamp != "" {
		for i, rec := range entries {
			if rec.Timestamp >= beforeTimestamp {
				end = i
				break
			}
		}
	}

	start := end - size
	if start < 0 {
		start = 0
	}
	window := make([]*GroupMessageRecord, end-start)
	copy(window, entries[start:end])
	return window
}

// GroupMessageAt returns the most recent log entry with the given timestamp
// and its position in the group's log. The position is stable (the log is
// append-only), so callers can derive a durable document id from it.
func (s *ScopeStore) GroupMessageAt(groupID, timestamp string) (*GroupMessageRecord, int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.groupChats[groupID]
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Timestamp == timestamp {
			return entries[i], i, true
		}
	}
	return nil, 0, false
}

// GroupLogSize returns the number of raw log entries for a group.
func (s *ScopeStore) GroupLogSize(groupID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.groupChats[groupID])
}

// load reads the backing file. Missing file = fresh store; corrupt file =
// reinitialized empty store with the loss logged.
func (s *ScopeStore) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("unable to read scope store, starting empty",
				"scope_id", s.scopeID, "path", s.path, "error", err)
		}
		return
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		slog.Error("scope store corrupt, reinitializing empty (data lost)",
			"scope_id", s.scopeID, "path", s.path, "error", fmt.Errorf("%w: %v", ErrCorrupt, err))
		return
	}

	var parsed scopeFile
	if v, ok := raw[fileKeyStandardDimension]; ok {
		_ = json.Unmarshal(v, &parsed.StandardDimension)
	}
	if v, ok := raw[fileKeyDocuments]; ok {
		if err := json.Unmarshal(v, &parsed.Documents); err != nil {
			slog.Error("scope store documents corrupt, reinitializing empty (data lost)",
				"scope_id", s.scopeID, "path", s.path, "error", fmt.Errorf("%w: %v", ErrCorrupt, err))
			return
		}
	}
	if v, ok := raw[fileKeyGroupChats]; ok {
		_ = json.Unmarshal(v, &parsed.GroupChats)
	}

	for key, v := range raw {
		switch key {
		case fileKeyStandardDimension, fileKeyDocuments, fileKeyGroupChats:
		default:
			s.extra[key] = v
		}
	}

	if s.standardDim == 0 {
		s.standardDim = parsed.StandardDimension
	}
	for _, doc := range parsed.Documents {
		if doc == nil || doc.ID == "" {
			continue
		}
		// Re-coerce on load: historical files may predate a provider swap.
		if doc.Embedding != nil {
			if s.standardDim == 0 {
				s.standardDim = len(doc.Embedding)
			}
			doc.Embedding = NormalizeDimension(doc.Embedding, s.standardDim)
		}
		if _, ok := s.index[doc.ID]; ok {
			s.docs[s.index[doc.ID]] = doc
			continue
		}
		s.index[doc.ID] = len(s.docs)
		s.docs = append(s.docs, doc)
	}
	if parsed.GroupChats != nil {
		s.groupChats = parsed.GroupChats
	}
}

// persistLocked rewrites the backing file. Unknown top-level keys observed at
// load time are written back untouched. Caller holds s.mu.
func (s *ScopeStore) persistLocked() error {
	out := make(map[string]json.RawMessage, len(s.extra)+3)
	for key, v := range s.extra {
		out[key] = v
	}

	dim, err := json.Marshal(s.standardDim)
	if err != nil {
		return err
	}
	docs, err := json.Marshal(s.docs)
	if err != nil {
		return err
	}
	out[fileKeyStandardDimension] = dim
	out[fileKeyDocuments] = docs
	if len(s.groupChats) > 0 {
		groups, err := json.Marshal(s.groupChats)
		if err != nil {
			return err
		}
		out[fileKeyGroupChats] = groups
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrapf(err, "unable to write scope store %s", s.path)
	}
	return os.Rename(tmp, s.path)
}

// sanitizeScopeID maps a scope id to a safe file name component.
func sanitizeScopeID(scopeID string) string {
	out := make([]rune, 0, len(scopeID))
	for _, r := range scopeID {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', ' ':
			out = append(out, '_')
		default:
			out = append(out, r)
		}
	}
	if len(out) == 0 {
		return "_"
	}
	return string(out)
}
