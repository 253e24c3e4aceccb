// Package fs wires the storage substrate's three core subsystems — the
// block device, the buffered I/O context, and a block-manager B+ tree —
// into a single handle. It stops there deliberately: directory and inode
// semantics are left for a layer built on top of FS.
package fs

import (
	"github.com/bpfs/bpfs/bpfserr"
	"github.com/bpfs/bpfs/bptree"
	"github.com/bpfs/bpfs/device"
	"github.com/bpfs/bpfs/ioctx"
)

// DefaultCacheCapacity is used when New's caller has no specific sizing
// requirement. It is deliberately generous relative to the 2*depth+O(1)
// minimum needed to avoid evicting a tree's own re-entrant handles for
// typical shallow trees.
const DefaultCacheCapacity = 64

// FS owns one device, the I/O context buffering it, and a block-manager
// tree rooted at block 0 that serves as the device's free-block index.
type FS struct {
	Device device.BlockDevice
	IO     *ioctx.Context
	Blocks *bptree.Tree
}

// New formats dev as a fresh filesystem: block 0 is bootstrapped as a
// block-manager B+ tree owning every block after it as free space.
// cacheCapacity is the I/O context's buffer pool size; pass
// DefaultCacheCapacity when there is no specific requirement.
func New(dev device.BlockDevice, cacheCapacity int) (*FS, error) {
	if dev.Capacity()/dev.BlockSize() < 2 {
		return nil, bpfserr.New(bpfserr.KindDeviceSize, "fs.New", "device must hold at least 2 blocks")
	}

	ioc := ioctx.New(dev, cacheCapacity)
	blocks, err := bptree.NewAsBlockManager(ioc, 0)
	if err != nil {
		return nil, err
	}

	return &FS{Device: dev, IO: ioc, Blocks: blocks}, nil
}

// Flush writes every dirty cached block back to the device.
func (f *FS) Flush() error {
	return f.IO.Flush()
}
