package main

import (
	"encoding/binary"

	"github.com/spf13/afero"

	"github.com/bpfs/bpfs/allocator"
	"github.com/bpfs/bpfs/bptree"
	"github.com/bpfs/bpfs/device"
	"github.com/bpfs/bpfs/ioctx"
)

// superblockBlock is reserved by mkfs out of the free-extent allocator so
// it is never handed out to ordinary allocations. It records the data
// tree's root and first-leaf block indices — a CLI-only convention, since
// the core library itself never persists a tree's root (see
// bptree.Reopen).
const superblockBlock = 1

func clearSuperblock(ioc *ioctx.Context) error {
	return writeSuperblockRaw(ioc, 0, 0)
}

func writeSuperblockRaw(ioc *ioctx.Context, root, firstLeaf uint64) error {
	h, err := ioc.GetMut(superblockBlock)
	if err != nil {
		return err
	}
	buf := h.Bytes()
	binary.LittleEndian.PutUint64(buf[0:8], root)
	binary.LittleEndian.PutUint64(buf[8:16], firstLeaf)
	return nil
}

func readSuperblock(ioc *ioctx.Context) (root, firstLeaf uint64, err error) {
	h, err := ioc.Get(superblockBlock)
	if err != nil {
		return 0, 0, err
	}
	buf := h.Bytes()
	return binary.LittleEndian.Uint64(buf[0:8]), binary.LittleEndian.Uint64(buf[8:16]), nil
}

// mounted bundles the handles a subcommand needs to touch a formatted
// device: the device itself, the I/O context buffering it, the
// free-extent allocator rooted at block 0, and the data tree whose
// pointers live in the superblock.
type mounted struct {
	dev  *device.File
	ioc  *ioctx.Context
	ext  *allocator.Extent
	tree *bptree.Tree
}

func mount() (*mounted, error) {
	dev, err := device.OpenExistingFile(afero.NewOsFs(), devicePath, blockSize)
	if err != nil {
		return nil, err
	}

	ioc := ioctx.New(dev, cacheCapacity)
	ext, err := allocator.OpenExtent(ioc, 0)
	if err != nil {
		dev.Close()
		return nil, err
	}

	root, firstLeaf, err := readSuperblock(ioc)
	if err != nil {
		dev.Close()
		return nil, err
	}

	var tree *bptree.Tree
	if root == 0 {
		tree, err = bptree.New(ioc, ext)
	} else {
		tree, err = bptree.Reopen(ioc, ext, root, firstLeaf)
	}
	if err != nil {
		dev.Close()
		return nil, err
	}

	return &mounted{dev: dev, ioc: ioc, ext: ext, tree: tree}, nil
}

// close persists the data tree's current root/first-leaf pointers,
// flushes every dirty block, and releases the device.
func (m *mounted) close() error {
	if root, ok := m.tree.RootBlock(); ok {
		if err := writeSuperblockRaw(m.ioc, root, m.tree.FirstLeaf()); err != nil {
			m.dev.Close()
			return err
		}
	}
	if err := m.ioc.Flush(); err != nil {
		m.dev.Close()
		return err
	}
	return m.dev.Close()
}
