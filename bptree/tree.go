package bptree

import (
	"fmt"

	"github.com/bpfs/bpfs/bpfserr"
	"github.com/bpfs/bpfs/ioctx"
)

// Allocator supplies a tree with fresh block indices. A tree built with
// NewAsBlockManager ignores it and serves its own blocks out of its
// extent chain via PopFirstExtentBlock instead.
type Allocator interface {
	Alloc() (uint64, error)
}

// Tree is an on-disk B+ tree mapping uint64 keys to uint64 values, one
// node per device block, as laid out in node.go. A nil rootBlock means
// the tree holds no entries yet.
type Tree struct {
	ioc       *ioctx.Context
	rootBlock *uint64
	firstLeaf uint64
	allocator Allocator
	m         uint64
}

// New constructs an empty tree over ioc, drawing new blocks from
// allocator as it grows. It returns an error if ioc's block size is too
// small to give every node at least a 3-slot fan-out.
func New(ioc *ioctx.Context, allocator Allocator) (*Tree, error) {
	if err := validateM(ioc.BlockSize()); err != nil {
		return nil, err
	}
	return &Tree{
		ioc:       ioc,
		allocator: allocator,
		firstLeaf: noNext,
		m:         slotsPerBlock(ioc.BlockSize()),
	}, nil
}

// NewAsBlockManager bootstraps begBlock as a leaf holding a single extent
// spanning every block after it, and returns a tree that allocates
// exclusively from that extent chain. This is how the free-block
// allocator obtains its backing tree.
func NewAsBlockManager(ioc *ioctx.Context, begBlock uint64) (*Tree, error) {
	if err := validateM(ioc.BlockSize()); err != nil {
		return nil, err
	}
	m := slotsPerBlock(ioc.BlockSize())

	h, err := ioc.GetMut(begBlock)
	if err != nil {
		return nil, err
	}
	n, err := newNodeView(h.Bytes(), m)
	if err != nil {
		return nil, err
	}
	n.resetHeader(true, 1)
	n.SetKey(0, begBlock+1)
	totalBlocks := ioc.Capacity() / ioc.BlockSize()
	n.SetVal(0, totalBlocks-begBlock-1)

	root := begBlock
	return &Tree{
		ioc:       ioc,
		rootBlock: &root,
		firstLeaf: begBlock,
		m:         m,
	}, nil
}

// OpenAsBlockManager reopens an existing block-manager tree previously
// created by NewAsBlockManager at begBlock, without touching its stored
// state. This package never persists a tree's root pointer once it grows
// past its initial single leaf, so this only locates the right tree when
// begBlock is still both the root and the first leaf, i.e. the tree has
// not yet split. A caller that needs to reopen a tree that may have split
// must have remembered its current root and first-leaf indices itself and
// should use Reopen.
func OpenAsBlockManager(ioc *ioctx.Context, begBlock uint64) (*Tree, error) {
	if err := validateM(ioc.BlockSize()); err != nil {
		return nil, err
	}
	root := begBlock
	return &Tree{
		ioc:       ioc,
		rootBlock: &root,
		firstLeaf: begBlock,
		m:         slotsPerBlock(ioc.BlockSize()),
	}, nil
}

// Reopen constructs a tree view using a root and first-leaf block index
// the caller persisted itself. The core library does not persist either
// value; a caller that wants a tree to survive a process restart must
// save and restore them through its own means (see RootBlock).
func Reopen(ioc *ioctx.Context, allocator Allocator, root, firstLeaf uint64) (*Tree, error) {
	if err := validateM(ioc.BlockSize()); err != nil {
		return nil, err
	}
	return &Tree{
		ioc:       ioc,
		rootBlock: &root,
		firstLeaf: firstLeaf,
		allocator: allocator,
		m:         slotsPerBlock(ioc.BlockSize()),
	}, nil
}

// RootBlock returns the tree's current root block index, and false if the
// tree is still empty.
func (t *Tree) RootBlock() (uint64, bool) {
	if t.rootBlock == nil {
		return 0, false
	}
	return *t.rootBlock, true
}

// M returns the tree's fan-out: the number of key (and value) slots in
// each node.
func (t *Tree) M() uint64 { return t.m }

// FirstLeaf returns the block index of the leftmost leaf, for callers
// that want to walk the leaf chain directly or persist it for a later
// Reopen.
func (t *Tree) FirstLeaf() uint64 { return t.firstLeaf }

func (t *Tree) alloc() (uint64, error) {
	if t.allocator != nil {
		return t.allocator.Alloc()
	}
	return t.PopFirstExtentBlock()
}

// Insert writes (key, val), overwriting any existing value for key.
func (t *Tree) Insert(key, val uint64) error {
	if t.rootBlock == nil {
		idx, err := t.alloc()
		if err != nil {
			return err
		}
		h, err := t.ioc.GetMut(idx)
		if err != nil {
			return err
		}
		n, err := newNodeView(h.Bytes(), t.m)
		if err != nil {
			return err
		}
		n.resetHeader(true, 1)
		n.SetKey(0, key)
		n.SetVal(0, val)

		t.rootBlock = &idx
		t.firstLeaf = idx
		return nil
	}

	root := *t.rootBlock
	needsSplit, err := t.nodeNeedsSplit(root)
	if err != nil {
		return err
	}

	if needsSplit {
		newRoot, err := t.alloc()
		if err != nil {
			return err
		}
		h, err := t.ioc.GetMut(newRoot)
		if err != nil {
			return err
		}
		n, err := newNodeView(h.Bytes(), t.m)
		if err != nil {
			return err
		}
		n.resetHeader(false, 0)
		n.SetVal(0, root)

		if err := t.splitNode(newRoot, root); err != nil {
			return err
		}
		t.rootBlock = &newRoot
	}

	return t.insertNode(*t.rootBlock, key, val)
}

func (t *Tree) nodeNeedsSplit(blockIdx uint64) (bool, error) {
	h, err := t.ioc.GetMut(blockIdx)
	if err != nil {
		return false, err
	}
	n, err := newNodeView(h.Bytes(), t.m)
	if err != nil {
		return false, err
	}
	return n.NumKeys() >= t.m-1, nil
}

func (t *Tree) insertNode(blockIdx, key, val uint64) error {
	h, err := t.ioc.GetMut(blockIdx)
	if err != nil {
		return err
	}
	n, err := newNodeView(h.Bytes(), t.m)
	if err != nil {
		return err
	}

	if n.IsLeaf() {
		numKeys := n.NumKeys()
		idx, found := leafSearch(n, numKeys, key)
		if found {
			n.SetVal(idx, val)
			return nil
		}
		n.copyKeysWithin(idx, idx+1, numKeys-idx)
		n.copyValsWithin(idx, idx+1, numKeys-idx)
		n.SetKey(idx, key)
		n.SetVal(idx, val)
		n.SetNumKeys(numKeys + 1)
		return nil
	}

	numKeys := n.NumKeys()
	idx := partitionPointLE(n, numKeys, key)
	nextIdx := n.Val(idx)

	needsSplit, err := t.nodeNeedsSplit(nextIdx)
	if err != nil {
		return err
	}

	if needsSplit {
		if err := t.splitNode(blockIdx, nextIdx); err != nil {
			return err
		}
		return t.insertNode(blockIdx, key, val)
	}
	return t.insertNode(nextIdx, key, val)
}

// Get looks up key, returning (value, true, nil) on a hit and
// (0, false, nil) when key is absent.
func (t *Tree) Get(key uint64) (uint64, bool, error) {
	if t.rootBlock == nil {
		return 0, false, nil
	}

	cur := *t.rootBlock
	for {
		h, err := t.ioc.Get(cur)
		if err != nil {
			return 0, false, err
		}
		n, err := newNodeView(h.Bytes(), t.m)
		if err != nil {
			return 0, false, err
		}
		numKeys := n.NumKeys()

		if n.IsLeaf() {
			idx, found := leafSearch(n, numKeys, key)
			if !found {
				return 0, false, nil
			}
			return n.Val(idx), true, nil
		}

		idx := partitionPointLE(n, numKeys, key)
		cur = n.Val(idx)
	}
}

// splitNode splits child, a child of father, allocating a new right
// sibling and promoting a separator key into father.
func (t *Tree) splitNode(father, child uint64) error {
	newNode, err := t.alloc()
	if err != nil {
		return err
	}

	fh, err := t.ioc.GetMut(father)
	if err != nil {
		return err
	}
	fn, err := newNodeView(fh.Bytes(), t.m)
	if err != nil {
		return err
	}

	ch, err := t.ioc.GetMut(child)
	if err != nil {
		return err
	}
	cn, err := newNodeView(ch.Bytes(), t.m)
	if err != nil {
		return err
	}

	nh, err := t.ioc.GetMut(newNode)
	if err != nil {
		return err
	}
	nn, err := newNodeView(nh.Bytes(), t.m)
	if err != nil {
		return err
	}

	numKeys := cn.NumKeys()
	mid := numKeys / 2

	if !cn.IsLeaf() {
		numRight := numKeys - mid - 1
		nn.resetHeader(false, numRight)
		for i := uint64(0); i < numRight; i++ {
			nn.SetKey(i, cn.Key(mid+1+i))
		}
		for i := uint64(0); i <= numRight; i++ {
			nn.SetVal(i, cn.Val(mid+1+i))
		}

		sep := cn.Key(mid)
		cn.SetNumKeys(mid)

		fNumKeys := fn.NumKeys()
		insertIdx := partitionPointLT(fn, fNumKeys, sep)
		fn.copyKeysWithin(insertIdx, insertIdx+1, fNumKeys-insertIdx)
		fn.copyValsWithin(insertIdx+1, insertIdx+2, fNumKeys-insertIdx)
		fn.SetNumKeys(fNumKeys + 1)
		fn.SetKey(insertIdx, sep)
		fn.SetVal(insertIdx+1, newNode)
	} else {
		numRight := numKeys - mid
		nn.resetHeader(true, numRight)
		for i := uint64(0); i < numRight; i++ {
			nn.SetKey(i, cn.Key(mid+i))
			nn.SetVal(i, cn.Val(mid+i))
		}
		cn.SetNumKeys(mid)

		sep := nn.Key(0)
		fNumKeys := fn.NumKeys()
		insertIdx := partitionPointLT(fn, fNumKeys, sep)
		fn.copyKeysWithin(insertIdx, insertIdx+1, fNumKeys-insertIdx)
		fn.SetKey(insertIdx, sep)
		fn.copyValsWithin(insertIdx+1, insertIdx+2, fNumKeys-insertIdx)
		fn.SetVal(insertIdx+1, newNode)
		fn.SetNumKeys(fNumKeys + 1)
	}

	nn.SetNext(cn.Next())
	cn.SetNext(newNode)
	return nil
}

// PopFirstExtentBlock peels one block off the first non-empty extent
// reachable from first_leaf, compacting the leaf that held it, and
// returns the peeled block's index. Used both as the self-allocation
// path for a block-manager tree and directly by the extent allocator.
func (t *Tree) PopFirstExtentBlock() (uint64, error) {
	cur := t.firstLeaf
	for {
		h, err := t.ioc.GetMut(cur)
		if err != nil {
			return 0, err
		}
		n, err := newNodeView(h.Bytes(), t.m)
		if err != nil {
			return 0, err
		}

		numKeys := n.NumKeys()
		for i := uint64(0); i < numKeys; i++ {
			if n.Val(i) == 0 {
				continue
			}

			blockID := n.Key(i)
			n.SetKey(i, n.Key(i)+1)
			n.SetVal(i, n.Val(i)-1)

			n.copyKeysWithin(i, 0, numKeys-i)
			n.copyValsWithin(i, 0, numKeys-i)
			n.SetNumKeys(numKeys - i)
			return blockID, nil
		}

		n.SetNumKeys(0)
		next := n.Next()
		if next == noNext {
			return 0, bpfserr.New(bpfserr.KindTreeEmpty, "Tree.PopFirstExtentBlock", "extent chain exhausted")
		}
		cur = next
	}
}

func leafSearch(n nodeView, numKeys, key uint64) (uint64, bool) {
	lo, hi := uint64(0), numKeys
	for lo < hi {
		mid := lo + (hi-lo)/2
		if n.Key(mid) < key {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo, lo < numKeys && n.Key(lo) == key
}

// partitionPointLE returns the first index i in [0, numKeys) with
// keys[i] > key, or numKeys if there is none, i.e. the child slot to
// descend into for key.
func partitionPointLE(n nodeView, numKeys, key uint64) uint64 {
	lo, hi := uint64(0), numKeys
	for lo < hi {
		mid := lo + (hi-lo)/2
		if n.Key(mid) <= key {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// partitionPointLT returns the first index i in [0, numKeys) with
// keys[i] >= x, or numKeys if there is none: the slot at which x should
// be inserted to keep keys sorted.
func partitionPointLT(n nodeView, numKeys, x uint64) uint64 {
	lo, hi := uint64(0), numKeys
	for lo < hi {
		mid := lo + (hi-lo)/2
		if n.Key(mid) < x {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// LeafKeysInOrder walks the leaf chain starting at the tree's first leaf
// and returns every key in the tree in non-decreasing order.
func (t *Tree) LeafKeysInOrder() ([]uint64, error) {
	if t.rootBlock == nil {
		return nil, nil
	}

	var out []uint64
	for cur := t.firstLeaf; cur != noNext; {
		h, err := t.ioc.Get(cur)
		if err != nil {
			return nil, err
		}
		n, err := newNodeView(h.Bytes(), t.m)
		if err != nil {
			return nil, err
		}
		numKeys := n.NumKeys()
		for i := uint64(0); i < numKeys; i++ {
			out = append(out, n.Key(i))
		}
		cur = n.Next()
	}
	return out, nil
}

// CheckInvariants walks every node reachable from the root and verifies
// the fan-out cap (P7) and that each node's keys are held in strictly
// increasing order. It exists for tests; a production insert/get path has
// no need to pay for a full tree walk on every call.
func (t *Tree) CheckInvariants() error {
	if t.rootBlock == nil {
		return nil
	}
	return t.checkNode(*t.rootBlock)
}

func (t *Tree) checkNode(blockIdx uint64) error {
	h, err := t.ioc.Get(blockIdx)
	if err != nil {
		return err
	}
	n, err := newNodeView(h.Bytes(), t.m)
	if err != nil {
		return err
	}

	numKeys := n.NumKeys()
	if numKeys >= t.m {
		return bpfserr.New(bpfserr.KindTreeSplit, "Tree.CheckInvariants",
			fmt.Sprintf("block %d holds %d keys, fan-out cap is %d", blockIdx, numKeys, t.m))
	}
	for i := uint64(1); i < numKeys; i++ {
		if n.Key(i-1) >= n.Key(i) {
			return bpfserr.New(bpfserr.KindTreeSplit, "Tree.CheckInvariants",
				fmt.Sprintf("block %d keys out of order at index %d", blockIdx, i))
		}
	}

	if !n.IsLeaf() {
		for i := uint64(0); i <= numKeys; i++ {
			if err := t.checkNode(n.Val(i)); err != nil {
				return err
			}
		}
	}
	return nil
}

// Extent describes one (start, length) free region as stored in a
// block-manager tree's leaves.
type Extent struct {
	Start  uint64
	Length uint64
}

// Extents returns every (start, length) entry in the tree's leaf chain,
// in ascending order of Start. The extent allocator's Free scans this
// list for a contiguous neighbor before falling back to a fresh insert.
func (t *Tree) Extents() ([]Extent, error) {
	if t.rootBlock == nil {
		return nil, nil
	}
	var out []Extent
	for cur := t.firstLeaf; cur != noNext; {
		h, err := t.ioc.Get(cur)
		if err != nil {
			return nil, err
		}
		n, err := newNodeView(h.Bytes(), t.m)
		if err != nil {
			return nil, err
		}
		numKeys := n.NumKeys()
		for i := uint64(0); i < numKeys; i++ {
			out = append(out, Extent{Start: n.Key(i), Length: n.Val(i)})
		}
		cur = n.Next()
	}
	return out, nil
}

func (t *Tree) descendToLeafMut(key uint64) (nodeView, error) {
	cur := *t.rootBlock
	for {
		h, err := t.ioc.GetMut(cur)
		if err != nil {
			return nodeView{}, err
		}
		n, err := newNodeView(h.Bytes(), t.m)
		if err != nil {
			return nodeView{}, err
		}
		if n.IsLeaf() {
			return n, nil
		}
		idx := partitionPointLE(n, n.NumKeys(), key)
		cur = n.Val(idx)
	}
}

// SetExtentValue overwrites the value stored at an existing key. Used to
// merge a freed block into its immediate predecessor extent, whose start
// does not move.
func (t *Tree) SetExtentValue(key, newVal uint64) error {
	n, err := t.descendToLeafMut(key)
	if err != nil {
		return err
	}
	idx, found := leafSearch(n, n.NumKeys(), key)
	if !found {
		return bpfserr.New(bpfserr.KindTreeSplit, "Tree.SetExtentValue", "key not present")
	}
	n.SetVal(idx, newVal)
	return nil
}

// RekeyExtent renames the entry currently stored at oldKey to newKey and
// sets its value. Used to merge a freed block into its immediate
// successor extent by sliding that extent's start backward; newKey must
// still sort ahead of every preceding key in the same leaf.
func (t *Tree) RekeyExtent(oldKey, newKey, newVal uint64) error {
	n, err := t.descendToLeafMut(oldKey)
	if err != nil {
		return err
	}
	idx, found := leafSearch(n, n.NumKeys(), oldKey)
	if !found {
		return bpfserr.New(bpfserr.KindTreeSplit, "Tree.RekeyExtent", "key not present")
	}
	n.SetKey(idx, newKey)
	n.SetVal(idx, newVal)
	return nil
}

// SplitMix64 is a deterministic bit mixer used to generate reproducible
// pseudo-random key/value streams in tests, without
// pulling in a general-purpose PRNG for what is fundamentally a fixed
// permutation.
func SplitMix64(x uint64) uint64 {
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	x ^= x >> 31
	return x
}
