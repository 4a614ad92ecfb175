package embedding_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/recall/ai/embedding"
	"github.com/hrygo/recall/ai/embedding/mock"
)

func TestCachedProviderMemoizes(t *testing.T) {
	inner := mock.New(32)
	p := embedding.NewCached(inner, 16)
	ctx := context.Background()

	first, err := p.Embed(ctx, "hello world")
	require.NoError(t, err)
	require.Len(t, first, 32)

	second, err := p.Embed(ctx, "hello world")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, inner.Calls, "second call must be served from cache")

	stats := p.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestCachedProviderDoesNotCacheFailures(t *testing.T) {
	inner := mock.New(32)
	inner.Fail = true
	p := embedding.NewCached(inner, 16)
	ctx := context.Background()

	_, err := p.Embed(ctx, "hello")
	require.ErrorIs(t, err, embedding.ErrUnavailable)

	// Once the provider recovers, the same text must hit it again.
	inner.Fail = false
	vec, err := p.Embed(ctx, "hello")
	require.NoError(t, err)
	assert.Len(t, vec, 32)
	assert.Equal(t, 2, inner.Calls)
}

func TestCachedProviderDimensions(t *testing.T) {
	p := embedding.NewCached(mock.New(64), 16)
	assert.Equal(t, 64, p.Dimensions())
}

func TestMockProviderDeterministic(t *testing.T) {
	m := mock.New(48)
	ctx := context.Background()

	a1, err := m.Embed(ctx, "same text")
	require.NoError(t, err)
	a2, err := m.Embed(ctx, "same text")
	require.NoError(t, err)
	b, err := m.Embed(ctx, "different text")
	require.NoError(t, err)

	assert.Equal(t, a1, a2)
	assert.NotEqual(t, a1, b)

	// Unit norm within floating-point tolerance.
	var norm float64
	for _, v := range a1 {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, norm, 1e-5)
}
