package retrieval

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/recall/store"
)

func TestTimeScore(t *testing.T) {
	scorer := newFallbackScorer(&Config{})
	now := time.Now()

	tests := []struct {
		name string
		ts   string
		want func(t *testing.T, got float64)
	}{
		{
			name: "fresh document scores near 1",
			ts:   now.Format(store.TimestampLayout),
			want: func(t *testing.T, got float64) { assert.InDelta(t, 1.0, got, 0.01) },
		},
		{
			name: "old document clamps at 0.1",
			ts:   now.Add(-1000 * time.Hour).Format(store.TimestampLayout),
			want: func(t *testing.T, got float64) { assert.Equal(t, 0.1, got) },
		},
		{
			name: "unparseable timestamp defaults to 0.5",
			ts:   "not-a-timestamp",
			want: func(t *testing.T, got float64) { assert.Equal(t, 0.5, got) },
		},
		{
			name: "missing timestamp defaults to 0.5",
			ts:   "",
			want: func(t *testing.T, got float64) { assert.Equal(t, 0.5, got) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := &store.Document{ID: "mem-x-1", Metadata: map[string]any{}}
			if tt.ts != "" {
				doc.Metadata[store.MetadataKeyTimestamp] = tt.ts
			}
			tt.want(t, scorer.timeScore(doc, now))
		})
	}
}

func TestTurnScore(t *testing.T) {
	scorer := newFallbackScorer(&Config{})

	latest := &store.Document{ID: "mem-x-10", Metadata: map[string]any{store.MetadataKeyTurn: 10}}
	assert.InDelta(t, 1.0, scorer.turnScore(latest, 10), 1e-9)

	distant := &store.Document{ID: "mem-x-1", Metadata: map[string]any{store.MetadataKeyTurn: 1}}
	assert.Less(t, scorer.turnScore(distant, 1000), scorer.turnScore(latest, 10))
	assert.GreaterOrEqual(t, scorer.turnScore(distant, 1000), 0.1)

	noTurn := &store.Document{ID: "mem-x-0", Metadata: map[string]any{}}
	assert.Equal(t, 0.5, scorer.turnScore(noTurn, 10))
}

func TestTokenize(t *testing.T) {
	tokens := tokenize("My phone is 13812345678，打电话给我")
	assert.Contains(t, tokens, "phone")
	assert.Contains(t, tokens, "13812345678")
	assert.Contains(t, tokens, "电")
	assert.NotContains(t, tokens, "，")
}

func TestExtractEntities(t *testing.T) {
	entities := extractEntities("打电话 call me a 13812345678 了 7")
	assert.Contains(t, entities, "打电话")
	assert.Contains(t, entities, "call")
	assert.Contains(t, entities, "me", "two-letter words clear the threshold")
	assert.Contains(t, entities, "13812345678")
	// Single characters and digits stay below the entity threshold.
	assert.NotContains(t, entities, "a")
	assert.NotContains(t, entities, "了")
	assert.NotContains(t, entities, "7")
}

func TestSequenceRatio(t *testing.T) {
	assert.Equal(t, 1.0, sequenceRatio("hello", "hello"))
	assert.Equal(t, 0.0, sequenceRatio("", "hello"))
	assert.Greater(t, sequenceRatio("hello world", "hello there"), sequenceRatio("hello world", "zzzzz"))
}

func TestQualityScore(t *testing.T) {
	short := qualityScore("hi")
	informative := qualityScore("u1: I moved to Hangzhou last month and my new address is 123 West Lake Road, near the office. Could you remember that?")
	assert.Greater(t, informative, short)
	assert.LessOrEqual(t, informative, 1.0)
	assert.GreaterOrEqual(t, short, 0.0)
}

func TestRankDeterministicAndComplete(t *testing.T) {
	scorer := newFallbackScorer(&Config{})
	now := time.Now()
	docs := []*store.Document{
		{ID: "mem-a-1", Content: "u1: first entry", Metadata: map[string]any{store.MetadataKeyTurn: 1}},
		{ID: "mem-b-2", Content: "u1: second entry", Metadata: map[string]any{store.MetadataKeyTurn: 2}},
		{ID: "mem-c-3", Content: "u1: third entry", Metadata: map[string]any{store.MetadataKeyTurn: 3}},
	}

	first := scorer.Rank("entry", docs, 3, now, 2)
	require.Len(t, first, 2)
	for i := 0; i < 5; i++ {
		again := scorer.Rank("entry", docs, 3, now, 2)
		require.Len(t, again, 2)
		assert.Equal(t, first[0].Document.ID, again[0].Document.ID)
		assert.Equal(t, first[1].Document.ID, again[1].Document.ID)
	}
}
