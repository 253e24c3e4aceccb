package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	putKey uint64
	putVal uint64
	getKey uint64
)

var putCmd = &cobra.Command{
	Use:   "put",
	Short: "Insert a single key/value pair into the device's data tree",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireDevicePath(); err != nil {
			return err
		}

		m, err := mount()
		if err != nil {
			return err
		}

		if err := m.tree.Insert(putKey, putVal); err != nil {
			m.dev.Close()
			return err
		}

		return m.close()
	},
}

var getCmd = &cobra.Command{
	Use:   "get",
	Short: "Read a single key from the device's data tree",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireDevicePath(); err != nil {
			return err
		}

		m, err := mount()
		if err != nil {
			return err
		}

		val, ok, err := m.tree.Get(getKey)
		if err != nil {
			m.dev.Close()
			return err
		}
		if !ok {
			m.dev.Close()
			return fmt.Errorf("key %d not found", getKey)
		}
		fmt.Println(val)

		return m.close()
	},
}

func init() {
	putCmd.Flags().Uint64Var(&putKey, "key", 0, "key to insert")
	putCmd.Flags().Uint64Var(&putVal, "value", 0, "value to insert")

	getCmd.Flags().Uint64Var(&getKey, "key", 0, "key to look up")
}
