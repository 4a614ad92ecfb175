package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T, scopeID string, dim int) (*ScopeStore, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := NewScopeStore(dir, scopeID, dim)
	require.NoError(t, err)
	return s, dir
}

func TestAddEstablishesDimension(t *testing.T) {
	s, _ := newStore(t, "u1", 0)

	require.NoError(t, s.Add(&Document{ID: "mem-a-1", Content: "first", Embedding: []float32{1, 2, 3}}))
	assert.Equal(t, 3, s.StandardDimension())

	// Later vectors of any length are coerced to the established dimension.
	require.NoError(t, s.Add(&Document{ID: "mem-b-2", Content: "second", Embedding: []float32{1, 2, 3, 4, 5}}))
	require.NoError(t, s.Add(&Document{ID: "mem-c-3", Content: "third", Embedding: []float32{1}}))

	for _, doc := range s.All() {
		assert.Len(t, doc.Embedding, 3, "doc %s", doc.ID)
	}
}

func TestAddUpsertByID(t *testing.T) {
	s, _ := newStore(t, "u1", 0)

	require.NoError(t, s.Add(&Document{ID: "mem-a-1", Content: "original", Embedding: []float32{1, 0}}))
	require.NoError(t, s.Add(&Document{ID: "mem-a-1", Content: "replaced", Embedding: []float32{0, 1}}))

	require.Equal(t, 1, s.Count())
	doc, ok := s.Get("mem-a-1")
	require.True(t, ok)
	assert.Equal(t, "replaced", doc.Content)
	assert.Equal(t, []float32{0, 1}, doc.Embedding)
}

func TestAddRequiresID(t *testing.T) {
	s, _ := newStore(t, "u1", 0)
	assert.Error(t, s.Add(&Document{Content: "no id"}))
	assert.Error(t, s.Add(nil))
}

func TestSearchRanksBySimilarity(t *testing.T) {
	s, _ := newStore(t, "u1", 0)
	require.NoError(t, s.Add(&Document{ID: "mem-a-1", Content: "east", Embedding: []float32{1, 0}}))
	require.NoError(t, s.Add(&Document{ID: "mem-b-2", Content: "north", Embedding: []float32{0, 1}}))
	require.NoError(t, s.Add(&Document{ID: "mem-c-3", Content: "no vector"}))

	results := s.Search([]float32{1, 0.1}, 5)
	require.Len(t, results, 2, "nil-embedding documents are skipped")
	assert.Equal(t, "mem-a-1", results[0].Document.ID)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestSearchTopK(t *testing.T) {
	s, _ := newStore(t, "u1", 0)
	for i := 0; i < 6; i++ {
		require.NoError(t, s.Add(&Document{
			ID:        fmt.Sprintf("mem-x-%d", i),
			Content:   fmt.Sprintf("entry %d", i),
			Embedding: []float32{float32(i), 1},
		}))
	}
	assert.Len(t, s.Search([]float32{1, 1}, 3), 3)
	assert.Empty(t, s.Search([]float32{1, 1}, 0))
}

func TestPersistenceRoundTrip(t *testing.T) {
	s, dir := newStore(t, "u1", 0)
	require.NoError(t, s.Add(&Document{
		ID:        "mem-a-1",
		Content:   "persisted",
		Embedding: []float32{0.5, 0.25},
		Metadata: map[string]any{
			MetadataKeyTimestamp: "2024-03-15 09:30",
			MetadataKeyTurn:      1,
		},
	}))

	reopened, err := NewScopeStore(dir, "u1", 0)
	require.NoError(t, err)
	require.Equal(t, 1, reopened.Count())
	assert.Equal(t, 2, reopened.StandardDimension())

	doc, ok := reopened.Get("mem-a-1")
	require.True(t, ok)
	assert.Equal(t, "persisted", doc.Content)
	assert.Equal(t, []float32{0.5, 0.25}, doc.Embedding)
	assert.Equal(t, "u1", doc.ScopeID())
}

func TestUnknownTopLevelKeysPreserved(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scopes", "u1.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(`{
  "documents": [],
  "future_field": {"nested": [1, 2, 3]},
  "schema_note": "added by a newer version"
}`), 0o644))

	s, err := NewScopeStore(dir, "u1", 0)
	require.NoError(t, err)
	require.NoError(t, s.Add(&Document{ID: "mem-a-1", Content: "hello", Embedding: []float32{1}}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var decoded map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Contains(t, decoded, "future_field")
	assert.Contains(t, decoded, "schema_note")
	assert.JSONEq(t, `{"nested": [1, 2, 3]}`, string(decoded["future_field"]))
}

func TestCorruptFileRecovers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scopes", "u1.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	s, err := NewScopeStore(dir, "u1", 0)
	require.NoError(t, err, "corruption is recovered, never fatal")
	assert.Equal(t, 0, s.Count())

	// The store stays usable and rewrites a valid file.
	require.NoError(t, s.Add(&Document{ID: "mem-a-1", Content: "fresh start", Embedding: []float32{1}}))
	reopened, err := NewScopeStore(dir, "u1", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, reopened.Count())
}

func TestGetLatestOrdering(t *testing.T) {
	s, _ := newStore(t, "u1", 0)
	now := time.Now()
	for i := 1; i <= 5; i++ {
		require.NoError(t, s.Add(&Document{
			ID:      fmt.Sprintf("mem-x-%d", i),
			Content: fmt.Sprintf("turn %d", i),
			Metadata: map[string]any{
				MetadataKeyTimestamp: now.Add(time.Duration(i) * time.Minute).Format(TimestampLayout),
			},
		}))
	}

	latest := s.GetLatest(2)
	require.Len(t, latest, 2)
	assert.Equal(t, "turn 5", latest[0].Content)
	assert.Equal(t, "turn 4", latest[1].Content)
}

func TestLatestTurn(t *testing.T) {
	s, _ := newStore(t, "u1", 0)
	assert.Equal(t, int64(0), s.LatestTurn())

	require.NoError(t, s.Add(&Document{ID: "mem-a-1", Content: "a", Metadata: map[string]any{MetadataKeyTurn: 3}}))
	require.NoError(t, s.Add(&Document{ID: "mem-b-2", Content: "b", Metadata: map[string]any{MetadataKeyTurn: 9}}))
	assert.Equal(t, int64(9), s.LatestTurn())
}

func TestClearEmptiesStore(t *testing.T) {
	s, dir := newStore(t, "u1", 0)
	require.NoError(t, s.Add(&Document{ID: "mem-a-1", Content: "a", Embedding: []float32{1}}))
	require.NoError(t, s.Clear())
	assert.Equal(t, 0, s.Count())

	reopened, err := NewScopeStore(dir, "u1", 0)
	require.NoError(t, err)
	assert.Equal(t, 0, reopened.Count())
}

func TestGroupMessageLog(t *testing.T) {
	s, _ := newStore(t, "g1", 0)

	first, firstIndex, err := s.AddGroupMessage("g1", "alice", "hello group", false)
	require.NoError(t, err)
	second, secondIndex, err := s.AddGroupMessage("g1", "bob", "hi alice", true)
	require.NoError(t, err)
	assert.Less(t, first.Timestamp, second.Timestamp, "timestamps strictly increase")
	assert.Equal(t, 0, firstIndex)
	assert.Equal(t, 1, secondIndex, "positions are assigned with the append, never rederived")

	ok, err := s.UpdateGroupResponse("g1", first.Timestamp, "welcome everyone")
	require.NoError(t, err)
	require.True(t, ok)

	rec, index, found := s.GroupMessageAt("g1", first.Timestamp)
	require.True(t, found)
	assert.Equal(t, 0, index)
	assert.Equal(t, "welcome everyone", rec.AssistantMessage)

	ok, err = s.UpdateGroupResponse("g1", "1999-01-01 00:00:00", "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGroupContextWindow(t *testing.T) {
	s, _ := newStore(t, "g1", 0)
	var timestamps []string
	for i := 1; i <= 10; i++ {
		rec, _, err := s.AddGroupMessage("g1", "alice", fmt.Sprintf("m%d", i), false)
		require.NoError(t, err)
		timestamps = append(timestamps, rec.Timestamp)
	}

	window := s.GroupContextWindow("g1", timestamps[7], 3)
	require.Len(t, window, 3)
	assert.Equal(t, "m5", window[0].HumanMessage)
	assert.Equal(t, "m6", window[1].HumanMessage)
	assert.Equal(t, "m7", window[2].HumanMessage)

	// Empty reference means "before now": the most recent entries.
	tail := s.GroupContextWindow("g1", "", 2)
	require.Len(t, tail, 2)
	assert.Equal(t, "m9", tail[0].HumanMessage)
	assert.Equal(t, "m10", tail[1].HumanMessage)
}

func TestSanitizeScopeID(t *testing.T) {
	assert.Equal(t, "a_b_c", sanitizeScopeID("a/b:c"))
	assert.Equal(t, "_", sanitizeScopeID(""))
}
