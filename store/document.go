package store

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Document type constants for the metadata "type" field.
const (
	DocumentTypeChat             = "chat"
	DocumentTypeGroupChatMessage = "group_chat_message"
)

// Metadata key constants for Document.Metadata.
const (
	// MetadataKeyScopeID stores the owning user or group id.
	MetadataKeyScopeID = "scope_id"

	// MetadataKeyTimestamp stores the creation time, minute resolution.
	MetadataKeyTimestamp = "timestamp"

	// MetadataKeyTurn stores the monotonic turn counter within the scope.
	// Used for recency-by-turn scoring in the hybrid fallback.
	MetadataKeyTurn = "turn"

	// MetadataKeySenderName stores the display name of the speaker.
	MetadataKeySenderName = "sender_name"

	// MetadataKeyType stores the document type (chat / group_chat_message).
	MetadataKeyType = "type"
)

// TimestampLayout is the canonical metadata timestamp format (minute resolution).
const TimestampLayout = "2006-01-02 15:04"

// TimestampSecondLayout is used where entries within one minute must stay
// distinguishable (group message logs).
const TimestampSecondLayout = "2006-01-02 15:04:05"

// Document is a vectorized, searchable record derived from a conversation turn.
type Document struct {
	ID        string         `json:"id"`
	Content   string         `json:"content"`
	Embedding []float32      `json:"embedding,omitempty"`
	Metadata  map[string]any `json:"metadata"`
}

// NewDocumentID returns a fresh document id. The trailing turn counter is the
// sort fallback for documents whose timestamp metadata is missing.
func NewDocumentID(turn int64) string {
	return fmt.Sprintf("mem-%s-%d", uuid.New().String()[:8], turn)
}

// ScopeID returns the owning scope id from metadata.
func (d *Document) ScopeID() string {
	if d.Metadata == nil {
		return ""
	}
	val, _ := d.Metadata[MetadataKeyScopeID].(string)
	return val
}

// Timestamp parses the metadata timestamp. ok is false when the field is
// missing or unparseable.
func (d *Document) Timestamp() (time.Time, bool) {
	if d.Metadata == nil {
		return time.Time{}, false
	}
	raw, _ := d.Metadata[MetadataKeyTimestamp].(string)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{TimestampSecondLayout, TimestampLayout, time.RFC3339} {
		if ts, err := time.ParseInLocation(layout, raw, time.Local); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// Turn returns the turn counter from metadata.
// JSON round-trips numbers as float64, so both shapes are handled.
func (d *Document) Turn() (int64, bool) {
	if d.Metadata == nil {
		return 0, false
	}
	switch v := d.Metadata[MetadataKeyTurn].(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	default:
		return 0, false
	}
}

// SenderName returns the speaker display name from metadata.
func (d *Document) SenderName() string {
	if d.Metadata == nil {
		return ""
	}
	val, _ := d.Metadata[MetadataKeySenderName].(string)
	return val
}

// Type returns the document type from metadata.
func (d *Document) Type() string {
	if d.Metadata == nil {
		return ""
	}
	val, _ := d.Metadata[MetadataKeyType].(string)
	return val
}

// idSuffix extracts the trailing integer of a document id, the sort fallback
// when timestamp metadata is unusable.
func (d *Document) idSuffix() int64 {
	idx := strings.LastIndex(d.ID, "-")
	if idx < 0 || idx == len(d.ID)-1 {
		return 0
	}
	n, err := strconv.ParseInt(d.ID[idx+1:], 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// NormalizeDimension coerces vec to dim: zero-padded if shorter, truncated if
// longer. A nil vector stays nil.
func NormalizeDimension(vec []float32, dim int) []float32 {
	if vec == nil || dim <= 0 || len(vec) == dim {
		return vec
	}
	out := make([]float32, dim)
	copy(out, vec)
	return out
}

// mismatchLogged tracks (shorter, longer) length pairs already reported, so a
// provider swap cannot produce a log line per query.
var mismatchLogged sync.Map

// CosineSimilarity computes dot(a,b) / (||a|| * ||b||).
// Zero norm on either side scores 0. Mismatched lengths should not occur once
// a store's standard dimension is fixed, but are resolved by truncating the
// longer vector, logged once per distinct length pair.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	if len(a) != len(b) {
		shorter, longer := len(a), len(b)
		if shorter > longer {
			shorter, longer = longer, shorter
		}
		key := fmt.Sprintf("%d:%d", shorter, longer)
		if _, seen := mismatchLogged.LoadOrStore(key, struct{}{}); !seen {
			slog.Warn("dimension mismatch in similarity computation, truncating",
				"len_a", len(a), "len_b", len(b))
		}
		a = a[:shorter]
		b = b[:shorter]
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

// sortDocumentsLatestFirst orders documents by timestamp descending, falling
// back to the id suffix for entries without a usable timestamp.
func sortDocumentsLatestFirst(docs []*Document) {
	sort.SliceStable(docs, func(i, j int) bool {
		ti, iok := docs[i].Timestamp()
		tj, jok := docs[j].Timestamp()
		switch {
		case iok && jok:
			return ti.After(tj)
		case iok:
			return true
		case jok:
			return false
		default:
			return docs[i].idSuffix() > docs[j].idSuffix()
		}
	})
}
