// Package bptree implements an on-disk B+ tree: each node occupies exactly
// one device block, laid out as a fixed header followed by m key slots and
// m value slots.
package bptree

import (
	"encoding/binary"

	"github.com/bpfs/bpfs/bpfserr"
)

// headerSize is the size in bytes of nodeHeader: is_leaf (1 byte) + 7 bytes
// of padding + num_keys (8 bytes) + next (8 bytes).
const headerSize = 24

// noNext is the sentinel stored in a node's next field when it has no
// right sibling.
const noNext = ^uint64(0)

// slotsPerBlock returns the key/value slot count m for a device with the
// given block size: (blockSize - headerSize) / 16, two uint64 slots per
// key.
func slotsPerBlock(blockSize uint64) uint64 {
	return (blockSize - headerSize) / 16
}

// minM is the smallest fan-out a tree can function with: a split needs to
// leave both the left and right halves of a full leaf non-empty, and an
// internal node produced by a split must still have room for the separator
// it receives from its own sibling's split.
const minM = 3

// validateM rejects a block size too small to give every node at least
// minM key/value slots.
func validateM(blockSize uint64) error {
	if blockSize <= headerSize {
		return bpfserr.New(bpfserr.KindNodeParse, "validateM", "block size too small to hold a node header")
	}
	if slotsPerBlock(blockSize) < minM {
		return bpfserr.New(bpfserr.KindNodeParse, "validateM", "block size yields fan-out below the minimum of 3")
	}
	return nil
}

// nodeView overlays a raw block buffer with the header-then-keys-then-vals
// layout. It never copies the buffer; every accessor reads or writes
// directly into buf, so mutations are visible to whoever else holds the
// same handle (mirroring the cache's shared-buffer discipline in package
// ioctx).
type nodeView struct {
	buf []byte
	m   uint64
}

// newNodeView wraps buf as a node with m key/value slots, validating that
// buf is large enough to hold the header and both slot arrays.
func newNodeView(buf []byte, m uint64) (nodeView, error) {
	if uint64(len(buf)) < headerSize+2*m*8 {
		return nodeView{}, bpfserr.New(bpfserr.KindNodeParse, "newNodeView", "block too small for node layout")
	}
	return nodeView{buf: buf, m: m}, nil
}

func (n nodeView) IsLeaf() bool { return n.buf[0] == 1 }

func (n nodeView) SetIsLeaf(leaf bool) {
	if leaf {
		n.buf[0] = 1
	} else {
		n.buf[0] = 0
	}
}

func (n nodeView) NumKeys() uint64 {
	return binary.LittleEndian.Uint64(n.buf[8:16])
}

func (n nodeView) SetNumKeys(v uint64) {
	binary.LittleEndian.PutUint64(n.buf[8:16], v)
}

func (n nodeView) Next() uint64 {
	return binary.LittleEndian.Uint64(n.buf[16:24])
}

func (n nodeView) SetNext(v uint64) {
	binary.LittleEndian.PutUint64(n.buf[16:24], v)
}

// resetHeader initializes a fresh node: leaf flag, key count, and no
// sibling yet.
func (n nodeView) resetHeader(leaf bool, numKeys uint64) {
	n.SetIsLeaf(leaf)
	n.SetNumKeys(numKeys)
	n.SetNext(noNext)
}

func (n nodeView) keyOffset(i uint64) int { return headerSize + int(i)*8 }
func (n nodeView) valOffset(i uint64) int { return headerSize + int(n.m)*8 + int(i)*8 }

func (n nodeView) Key(i uint64) uint64 {
	off := n.keyOffset(i)
	return binary.LittleEndian.Uint64(n.buf[off : off+8])
}

func (n nodeView) SetKey(i, v uint64) {
	off := n.keyOffset(i)
	binary.LittleEndian.PutUint64(n.buf[off:off+8], v)
}

func (n nodeView) Val(i uint64) uint64 {
	off := n.valOffset(i)
	return binary.LittleEndian.Uint64(n.buf[off : off+8])
}

func (n nodeView) SetVal(i, v uint64) {
	off := n.valOffset(i)
	binary.LittleEndian.PutUint64(n.buf[off:off+8], v)
}

// copyKeysWithin copies the count keys starting at slot src to slot dst
// (the ranges may overlap); used by insertNode, splitNode and
// PopFirstExtentBlock to shift or compact a node's slots. copyValsWithin
// does the same for values.
func (n nodeView) copyKeysWithin(src, dst, count uint64) {
	copy(n.buf[n.keyOffset(dst):n.keyOffset(dst+count)], n.buf[n.keyOffset(src):n.keyOffset(src+count)])
}

func (n nodeView) copyValsWithin(src, dst, count uint64) {
	copy(n.buf[n.valOffset(dst):n.valOffset(dst+count)], n.buf[n.valOffset(src):n.valOffset(src+count)])
}
