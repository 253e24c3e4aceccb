package bptree_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bpfs/bpfs/bptree"
	"github.com/bpfs/bpfs/device"
	"github.com/bpfs/bpfs/ioctx"
)

// testAllocator is a monotonically increasing counter allocator, the same
// shape as package allocator's Test variant, kept local here so these
// tests depend only on bptree, device and ioctx.
type testAllocator struct{ next uint64 }

func newTestAllocator() *testAllocator { return &testAllocator{next: 1} }

func (a *testAllocator) Alloc() (uint64, error) {
	idx := a.next
	a.next++
	return idx, nil
}

func newTreeForTest(t *testing.T, deviceBytes uint64) (*bptree.Tree, *testAllocator) {
	t.Helper()
	dev := device.NewMemory(1024, deviceBytes)
	ioc := ioctx.New(dev, 64)
	alloc := newTestAllocator()
	tr, err := bptree.New(ioc, alloc)
	require.NoError(t, err)
	return tr, alloc
}

func TestInsertGetRoundTripSplitMix64Scenario(t *testing.T) {
	tr, _ := newTreeForTest(t, 16*1024*1024)
	m := tr.M()
	require.GreaterOrEqual(t, m, uint64(3))

	n := 64 * m
	for i := uint64(0); i < n; i++ {
		key := bptree.SplitMix64(i)
		val := bptree.SplitMix64(key)
		require.NoError(t, tr.Insert(key, val))
	}

	for i := uint64(0); i < n; i++ {
		key := bptree.SplitMix64(i)
		want := bptree.SplitMix64(key)
		got, ok, err := tr.Get(key)
		require.NoError(t, err)
		require.True(t, ok, "key %d should be present", key)
		assert.Equal(t, want, got)
	}

	require.NoError(t, tr.CheckInvariants())
}

func TestLastWriteWins(t *testing.T) {
	tr, _ := newTreeForTest(t, 1024*1024)
	require.NoError(t, tr.Insert(42, 1))
	require.NoError(t, tr.Insert(42, 2))

	got, ok, err := tr.Get(42)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(2), got)
}

func TestAbsentKeyReturnsNotFound(t *testing.T) {
	tr, _ := newTreeForTest(t, 1024*1024)
	require.NoError(t, tr.Insert(1, 1))

	_, ok, err := tr.Get(999)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEmptyTreeGetReturnsNotFound(t *testing.T) {
	tr, _ := newTreeForTest(t, 1024*1024)
	_, ok, err := tr.Get(7)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLeafChainCoversEveryKeyInOrder(t *testing.T) {
	tr, _ := newTreeForTest(t, 8*1024*1024)
	m := tr.M()

	inserted := make(map[uint64]bool)
	for i := uint64(1); i <= 4*m; i++ {
		require.NoError(t, tr.Insert(i, i*10))
		inserted[i] = true
	}

	keys, err := tr.LeafKeysInOrder()
	require.NoError(t, err)
	require.Len(t, keys, len(inserted))
	for i := 1; i < len(keys); i++ {
		assert.Less(t, keys[i-1], keys[i], "leaf chain must be strictly increasing")
	}
}

func TestFanOutCapAndInvariantsHoldAfterSequentialInserts(t *testing.T) {
	tr, _ := newTreeForTest(t, 8*1024*1024)
	m := tr.M()

	for i := uint64(1); i <= 4*m; i++ {
		require.NoError(t, tr.Insert(i, i))
		require.NoError(t, tr.CheckInvariants(), "invariants must hold after inserting key %d", i)
	}
}

func TestReinsertSameKeyLeavesLeafSizeUnchanged(t *testing.T) {
	tr, _ := newTreeForTest(t, 1024*1024)
	require.NoError(t, tr.Insert(5, 100))

	keysBefore, err := tr.LeafKeysInOrder()
	require.NoError(t, err)

	require.NoError(t, tr.Insert(5, 200))
	keysAfter, err := tr.LeafKeysInOrder()
	require.NoError(t, err)

	assert.Equal(t, len(keysBefore), len(keysAfter))
	got, ok, err := tr.Get(5)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(200), got)
}

func TestNewAsBlockManagerBootstrapsSingleExtent(t *testing.T) {
	dev := device.NewMemory(1024, 4*1024*1024)
	ioc := ioctx.New(dev, 16)

	tr, err := bptree.NewAsBlockManager(ioc, 0)
	require.NoError(t, err)

	keys, err := tr.LeafKeysInOrder()
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, uint64(1), keys[0])
}
