// Package ioctx implements the buffered I/O context: the single point
// through which the B+ tree and the allocator touch the block device,
// mediated by an LRU write-back cache.
package ioctx

import (
	"fmt"

	"github.com/bpfs/bpfs/bpfserr"
	"github.com/bpfs/bpfs/cache"
	"github.com/bpfs/bpfs/device"
)

// Block is the shared, cached image of one device block. The cache and
// any outstanding handle both observe the same slice; a write through a
// WriteHandle is visible to every other holder immediately.
type Block struct {
	Data []byte
}

// Context owns one device and one cache and hands out scoped handles onto
// cached blocks, reading through to the device on a miss and writing back
// dirty entries on eviction or Flush.
type Context struct {
	device device.BlockDevice
	cache  *cache.LRU[uint64, *Block]
}

// New builds a Context over dev with a cache of the given block capacity.
// Capacity should be at least 2*treeDepth+O(1) so that the tree's own
// re-entrant handle pairs (parent+child during a split, or the allocator's
// own tree during a nested allocation) never evict a still-live handle.
func New(dev device.BlockDevice, capacity int) *Context {
	return &Context{
		device: dev,
		cache:  cache.New[uint64, *Block](capacity),
	}
}

// BlockSize returns the device's fixed block size.
func (c *Context) BlockSize() uint64 { return c.device.BlockSize() }

// Capacity returns the device's total capacity in bytes.
func (c *Context) Capacity() uint64 { return c.device.Capacity() }

// ReadHandle lends read-only access to a cached block's bytes.
type ReadHandle struct {
	block *Block
}

// Bytes returns the block's current contents. The slice is shared with
// the cache; callers must not hold it across a further Context call that
// may evict this block (any miss while the cache is full). Once evicted,
// the slice is detached from the cache: later writes to it are never
// written back, and a later Get of the same key loads a separate copy.
func (h ReadHandle) Bytes() []byte { return h.block.Data }

// WriteHandle lends mutable access to a cached block's bytes. Acquiring
// one marks the entry dirty immediately, independent of whether the bytes
// are actually changed.
type WriteHandle struct {
	block *Block
}

// Bytes returns the block's current contents for in-place mutation.
func (h WriteHandle) Bytes() []byte { return h.block.Data }

// Get returns a read-only handle onto the block at idx, loading it from
// the device on a miss.
func (c *Context) Get(idx uint64) (ReadHandle, error) {
	b, err := c.fetch(idx)
	if err != nil {
		return ReadHandle{}, err
	}
	return ReadHandle{block: b}, nil
}

// GetMut returns a mutable handle onto the block at idx, loading it from
// the device on a miss, and marks the entry dirty.
func (c *Context) GetMut(idx uint64) (WriteHandle, error) {
	b, err := c.fetch(idx)
	if err != nil {
		return WriteHandle{}, err
	}
	c.cache.MarkDirty(idx)
	return WriteHandle{block: b}, nil
}

// fetch returns the cached block for idx, reading it from the device on a
// miss. If inserting a freshly-read block would evict a dirty entry, that
// entry is written back to the device first; a failure there leaves the
// cache untouched and the new block is not inserted.
func (c *Context) fetch(idx uint64) (*Block, error) {
	if b, ok := c.cache.Get(idx); ok {
		return b, nil
	}

	if c.cache.Full() {
		if lru, ok := c.cache.LeastRecent(); ok && lru.Dirty {
			if err := c.device.Write(lru.Key, lru.Value.Data); err != nil {
				return nil, bpfserr.Wrap(bpfserr.KindDeviceIO, "Context.fetch",
					fmt.Sprintf("writeback of block %d before evicting for %d", lru.Key, idx), err)
			}
		}
		// The entry is either clean or has just been written back: free
		// its slot now so the Put below has room and does not perform a
		// second, redundant eviction of the same entry.
		c.cache.EvictLRU()
	}

	buf := make([]byte, c.device.BlockSize())
	if err := c.device.Read(idx, buf); err != nil {
		return nil, bpfserr.Wrap(bpfserr.KindDeviceIO, "Context.fetch",
			fmt.Sprintf("reading block %d", idx), err)
	}

	b := &Block{Data: buf}
	c.cache.Put(idx, b)
	return b, nil
}

// Flush writes every dirty cached block back to the device and empties
// the cache.
func (c *Context) Flush() error {
	for _, e := range c.cache.Drain() {
		if !e.Dirty {
			continue
		}
		if err := c.device.Write(e.Key, e.Value.Data); err != nil {
			return bpfserr.Wrap(bpfserr.KindDeviceIO, "Context.Flush",
				fmt.Sprintf("writing block %d", e.Key), err)
		}
	}
	return nil
}
