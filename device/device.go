// Package device implements the block device collaborator: a
// fixed-block-size backing store that the I/O context reads and writes
// whole blocks from/to.
package device

import "github.com/bpfs/bpfs/bpfserr"

// BlockDevice is the external collaborator contract every disk
// implementation in this package (and any caller's own) must satisfy.
// BlockSize is fixed for the lifetime of a device; Capacity is always a
// multiple of BlockSize.
type BlockDevice interface {
	// Read fills buf (which must be exactly BlockSize() bytes) with the
	// contents of the block at idx.
	Read(idx uint64, buf []byte) error
	// Write stores buf (which must be exactly BlockSize() bytes) as the
	// contents of the block at idx.
	Write(idx uint64, buf []byte) error
	// BlockSize returns the fixed size of one block, in bytes.
	BlockSize() uint64
	// Capacity returns the total size of the device, in bytes.
	Capacity() uint64
}

// TotalBlocks returns the number of addressable blocks on d.
func TotalBlocks(d BlockDevice) uint64 {
	return d.Capacity() / d.BlockSize()
}

func checkBounds(d BlockDevice, idx uint64, buf []byte, op string) error {
	total := TotalBlocks(d)
	if idx >= total {
		return bpfserr.New(bpfserr.KindDeviceRange, op,
			"idx out of range")
	}
	if uint64(len(buf)) != d.BlockSize() {
		return bpfserr.New(bpfserr.KindDeviceSize, op,
			"buffer length does not match block size")
	}
	return nil
}
