// Package allocator implements three block-allocation strategies, built on
// top of package bptree's extent-tree block manager.
package allocator

import (
	"github.com/bpfs/bpfs/bpfserr"
	"github.com/bpfs/bpfs/bptree"
	"github.com/bpfs/bpfs/ioctx"
)

// Allocator hands out and reclaims block indices.
type Allocator interface {
	Alloc() (uint64, error)
	Free(idx uint64) error
}

// None satisfies the Allocator shape for a tree that supplies its own
// blocks via PopFirstExtentBlock and should never be asked to allocate
// through this interface; wiring it in is a configuration mistake, so it
// panics rather than returning an error.
type None struct{}

func (None) Alloc() (uint64, error) {
	panic("allocator: None allocator cannot allocate blocks")
}

func (None) Free(uint64) error {
	panic("allocator: None allocator cannot free blocks")
}

// Extent is a free-space allocator backed by a B+ tree of (start, length)
// extents, itself created in block-manager mode over a region of the
// device.
type Extent struct {
	tree *bptree.Tree
}

// NewExtent bootstraps a fresh extent tree rooted at begBlock, claiming
// every block after it as one free extent.
func NewExtent(ioc *ioctx.Context, begBlock uint64) (*Extent, error) {
	tree, err := bptree.NewAsBlockManager(ioc, begBlock)
	if err != nil {
		return nil, err
	}
	return &Extent{tree: tree}, nil
}

// Alloc peels one block off the first free extent reachable from the
// tree's first leaf.
func (e *Extent) Alloc() (uint64, error) {
	idx, err := e.tree.PopFirstExtentBlock()
	if err != nil {
		return 0, bpfserr.Wrap(bpfserr.KindNoFreeBlocks, "Extent.Alloc", "no free blocks remain", err)
	}
	return idx, nil
}

// OpenExtent reopens an existing extent allocator rooted at begBlock
// without reinitializing its stored extents. It inherits
// bptree.OpenAsBlockManager's limitation: it only finds the right tree
// when begBlock is still that tree's root, i.e. it has not split.
func OpenExtent(ioc *ioctx.Context, begBlock uint64) (*Extent, error) {
	tree, err := bptree.OpenAsBlockManager(ioc, begBlock)
	if err != nil {
		return nil, err
	}
	return &Extent{tree: tree}, nil
}

// Extents returns every (start, length) free region currently held by
// the allocator's tree, in ascending order of start. Exposed for tests
// and diagnostics; Alloc and Free do not need callers to see this.
func (e *Extent) Extents() ([]bptree.Extent, error) {
	return e.tree.Extents()
}

// Free returns idx to the free pool. If an existing extent borders idx
// directly on either side it is extended to absorb idx; otherwise a new
// single-block extent is inserted. Bridging two extents that both border
// idx at once is not attempted: the first match found wins, and the
// other extent stays a separate record. Free never merges two existing
// extents, so contiguous extents left this way remain separate.
func (e *Extent) Free(idx uint64) error {
	extents, err := e.tree.Extents()
	if err != nil {
		return err
	}

	for _, ext := range extents {
		if ext.Start+ext.Length == idx {
			return e.tree.SetExtentValue(ext.Start, ext.Length+1)
		}
	}
	for _, ext := range extents {
		if ext.Start == idx+1 {
			return e.tree.RekeyExtent(ext.Start, idx, ext.Length+1)
		}
	}
	return e.tree.Insert(idx, 1)
}

// Test is a monotonically increasing counter allocator with a no-op
// Free, for use in tests that need distinct block indices without a real
// backing free-space tree.
type Test struct {
	next uint64
}

// NewTest returns a Test allocator that starts handing out block index 1.
func NewTest() *Test {
	return &Test{next: 1}
}

func (t *Test) Alloc() (uint64, error) {
	idx := t.next
	t.next++
	return idx, nil
}

func (t *Test) Free(uint64) error { return nil }
