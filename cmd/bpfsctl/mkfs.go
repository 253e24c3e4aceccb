package main

import (
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/bpfs/bpfs/device"
	"github.com/bpfs/bpfs/fs"
)

var mkfsSize uint64

var mkfsCmd = &cobra.Command{
	Use:   "mkfs",
	Short: "Format a file as a fresh bpfs device",
	Long: `mkfs creates (or truncates) the file at --device to --size bytes and
bootstraps block 0 as a block-manager B+ tree owning every remaining
block as one free extent, then takes block 1 out of that extent for the
superblock record the other subcommands read.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireDevicePath(); err != nil {
			return err
		}
		if mkfsSize%blockSize != 0 {
			return fmt.Errorf("--size must be a multiple of --block-size")
		}

		dev, err := device.OpenFile(afero.NewOsFs(), devicePath, blockSize, mkfsSize)
		if err != nil {
			return err
		}
		defer dev.Close()

		bfs, err := fs.New(dev, cacheCapacity)
		if err != nil {
			return err
		}

		// Reserve block 1 for the superblock record (data tree root +
		// first-leaf) that put/get/stat rely on across invocations, so
		// the allocator never hands it out as ordinary free space.
		reserved, err := bfs.Blocks.PopFirstExtentBlock()
		if err != nil {
			return err
		}
		if reserved != superblockBlock {
			return fmt.Errorf("internal error: expected superblock reservation at block %d, got %d", superblockBlock, reserved)
		}
		if err := clearSuperblock(bfs.IO); err != nil {
			return err
		}

		if err := bfs.Flush(); err != nil {
			return err
		}

		fmt.Printf("formatted %s: %d bytes, block size %d, %d blocks\n",
			devicePath, mkfsSize, blockSize, mkfsSize/blockSize)
		return nil
	},
}

func init() {
	mkfsCmd.Flags().Uint64Var(&mkfsSize, "size", 16*1024*1024, "device size in bytes")
}
