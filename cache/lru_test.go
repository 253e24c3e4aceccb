package cache_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bpfs/bpfs/cache"
)

func TestPutGetRoundTrip(t *testing.T) {
	c := cache.New[int, string](4)
	_, evicted := c.Put(1, "one")
	require.False(t, evicted)

	v, ok := c.Get(1)
	require.True(t, ok)
	assert.Equal(t, "one", v)
}

func TestPeekDoesNotPromote(t *testing.T) {
	c := cache.New[int, string](2)
	c.Put(0, "a")
	c.Put(1, "b")
	c.Put(2, "c") // evicts 0 (LRU)

	_, ok := c.Peek(0)
	assert.False(t, ok)

	_, ok = c.Peek(1)
	assert.True(t, ok)
	_, ok = c.Peek(2)
	assert.True(t, ok)

	// Peeking 1 last does not promote it past 2, so 1 is still the
	// least recently used entry and is the one the next insert evicts.
	c.Peek(1)
	c.Put(3, "d")
	_, ok = c.Peek(1)
	assert.False(t, ok)
	_, ok = c.Peek(2)
	assert.True(t, ok)
}

func TestCapacityTwoEvictsThirdDistinctBlock(t *testing.T) {
	c := cache.New[int, int](2)
	c.Put(0, 100)
	c.Get(0) // touch, still MRU candidate
	c.Put(1, 101)
	_, evicted := c.Put(2, 102)
	assert.True(t, evicted)

	_, ok := c.Peek(0)
	assert.False(t, ok)
	_, ok1 := c.Peek(1)
	_, ok2 := c.Peek(2)
	assert.True(t, ok1)
	assert.True(t, ok2)
}

func TestReplaceExistingKeyDoesNotEvict(t *testing.T) {
	c := cache.New[int, string](1)
	c.Put(1, "one")
	c.MarkDirty(1)
	_, evicted := c.Put(1, "uno")
	assert.False(t, evicted)

	v, _ := c.Get(1)
	assert.Equal(t, "uno", v)
}

func TestMarkDirtyUnknownKey(t *testing.T) {
	c := cache.New[int, string](1)
	assert.False(t, c.MarkDirty(42))
}

func TestDrainEmptiesCache(t *testing.T) {
	c := cache.New[int, string](3)
	c.Put(1, "a")
	c.Put(2, "b")
	c.MarkDirty(2)

	entries := c.Drain()
	assert.Len(t, entries, 2)
	assert.True(t, c.IsEmpty())

	dirtyCount := 0
	for _, e := range entries {
		if e.Dirty {
			dirtyCount++
		}
	}
	assert.Equal(t, 1, dirtyCount)
}

func TestIsEmpty(t *testing.T) {
	c := cache.New[int, string](1)
	assert.True(t, c.IsEmpty())
	c.Put(1, "a")
	assert.False(t, c.IsEmpty())
}
