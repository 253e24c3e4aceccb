package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var allocCount int

var allocCmd = &cobra.Command{
	Use:   "alloc",
	Short: "Pop blocks from the device's free-extent allocator and print their indices",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireDevicePath(); err != nil {
			return err
		}

		m, err := mount()
		if err != nil {
			return err
		}

		for i := 0; i < allocCount; i++ {
			idx, err := m.ext.Alloc()
			if err != nil {
				m.dev.Close()
				return err
			}
			fmt.Println(idx)
		}

		return m.close()
	},
}

func init() {
	allocCmd.Flags().IntVar(&allocCount, "count", 1, "number of blocks to allocate")
}
