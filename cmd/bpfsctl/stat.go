package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var statCmd = &cobra.Command{
	Use:   "stat",
	Short: "Print device and allocator statistics",
	Long: `stat reports the device's block size and capacity along with the
free-extent allocator's current extents. Each run is tagged with a random
session id so repeated invocations against the same device can be told
apart in scripted output.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireDevicePath(); err != nil {
			return err
		}

		m, err := mount()
		if err != nil {
			return err
		}
		defer m.dev.Close()

		session := uuid.New()
		totalBlocks := m.dev.Capacity() / m.dev.BlockSize()
		fmt.Printf("session:     %s\n", session)
		fmt.Printf("device:      %s\n", devicePath)
		fmt.Printf("block size:  %d\n", m.dev.BlockSize())
		fmt.Printf("capacity:    %d bytes (%d blocks)\n", m.dev.Capacity(), totalBlocks)

		extents, err := m.ext.Extents()
		if err != nil {
			return err
		}
		var free uint64
		for _, e := range extents {
			free += e.Length
		}
		fmt.Printf("free blocks: %d across %d extent(s)\n", free, len(extents))
		for _, e := range extents {
			fmt.Printf("  [%d, %d)\n", e.Start, e.Start+e.Length)
		}

		if root, ok := m.tree.RootBlock(); ok {
			fmt.Printf("data tree root: block %d\n", root)
		} else {
			fmt.Println("data tree: empty")
		}

		return nil
	},
}
