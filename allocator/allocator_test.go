package allocator_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bpfs/bpfs/allocator"
	"github.com/bpfs/bpfs/device"
	"github.com/bpfs/bpfs/ioctx"
)

func TestExtentAllocatorHundredAllocsAreDistinctAndIncreasing(t *testing.T) {
	dev := device.NewMemory(1024, 4*1024*1024)
	ioc := ioctx.New(dev, 16)

	ext, err := allocator.NewExtent(ioc, 0)
	require.NoError(t, err)

	seen := make(map[uint64]bool, 100)
	var last uint64
	for i := 0; i < 100; i++ {
		idx, err := ext.Alloc()
		require.NoError(t, err)
		require.False(t, seen[idx], "index %d allocated twice", idx)
		seen[idx] = true
		if i > 0 {
			require.Greater(t, idx, last)
		}
		last = idx
	}
}

func TestExtentAllocatorFinalLeafStateAfterHundredAllocs(t *testing.T) {
	dev := device.NewMemory(1024, 4*1024*1024)
	ioc := ioctx.New(dev, 16)

	ext, err := allocator.NewExtent(ioc, 0)
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		_, err := ext.Alloc()
		require.NoError(t, err)
	}

	remaining, err := ext.Extents()
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, uint64(101), remaining[0].Start)
	assert.Equal(t, uint64(4095-100), remaining[0].Length)
}

func TestExtentAllocatorFreeMergesWithPredecessor(t *testing.T) {
	dev := device.NewMemory(1024, 1024*1024)
	ioc := ioctx.New(dev, 16)

	ext, err := allocator.NewExtent(ioc, 0)
	require.NoError(t, err)

	a, err := ext.Alloc()
	require.NoError(t, err)
	b, err := ext.Alloc()
	require.NoError(t, err)
	require.Equal(t, a+1, b)

	require.NoError(t, ext.Free(a))
	require.NoError(t, ext.Free(b))

	remaining, err := ext.Extents()
	require.NoError(t, err)

	found := false
	for _, e := range remaining {
		if e.Start == a && e.Length >= 2 {
			found = true
		}
	}
	assert.True(t, found, "freeing two adjacent blocks should coalesce into one extent")
}

func TestTestAllocatorIsMonotonicAndFreeIsNoop(t *testing.T) {
	ta := allocator.NewTest()
	first, err := ta.Alloc()
	require.NoError(t, err)
	second, err := ta.Alloc()
	require.NoError(t, err)
	assert.Equal(t, first+1, second)
	assert.NoError(t, ta.Free(first))
}

func TestNoneAllocatorPanics(t *testing.T) {
	var n allocator.None
	assert.Panics(t, func() { n.Alloc() })
	assert.Panics(t, func() { n.Free(0) })
}
