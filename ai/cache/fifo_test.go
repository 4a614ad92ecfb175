package cache

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFIFOCacheBasic(t *testing.T) {
	c := NewFIFOCache[string, int](4)

	_, ok := c.Get("missing")
	assert.False(t, ok)

	c.Set("a", 1)
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 1, stats.Size)
}

func TestFIFOCacheEvictsOldestInserted(t *testing.T) {
	c := NewFIFOCache[string, int](3)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)

	// Reading "a" must not protect it: eviction is insertion order, not LRU.
	_, ok := c.Get("a")
	require.True(t, ok)

	c.Set("d", 4)
	assert.False(t, c.Contains("a"))
	assert.True(t, c.Contains("b"))
	assert.True(t, c.Contains("c"))
	assert.True(t, c.Contains("d"))
}

func TestFIFOCacheUpdateKeepsPosition(t *testing.T) {
	c := NewFIFOCache[string, int](2)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("a", 10) // update, not reinsertion

	c.Set("c", 3) // "a" is still the oldest and must go
	assert.False(t, c.Contains("a"))
	assert.True(t, c.Contains("b"))
	assert.True(t, c.Contains("c"))
}

func TestFIFOCacheCapacityFloor(t *testing.T) {
	c := NewFIFOCache[string, int](0)
	assert.Equal(t, 1000, c.Capacity())
}

func TestFIFOCacheClear(t *testing.T) {
	c := NewFIFOCache[string, int](8)
	for i := 0; i < 5; i++ {
		c.Set(fmt.Sprintf("k%d", i), i)
	}
	require.Equal(t, 5, c.Size())

	c.Clear()
	assert.Equal(t, 0, c.Size())
	// Counters survive a clear; they describe lifetime effectiveness.
	assert.GreaterOrEqual(t, c.Stats().Misses, int64(0))
}
