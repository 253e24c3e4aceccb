// Command bpfsctl is a small command-line front end over the bpfs storage
// substrate: formatting a file-backed device, allocating blocks, and
// reading or writing individual key/value pairs for inspection and
// scripting.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	devicePath    string
	blockSize     uint64
	cacheCapacity int
)

var rootCmd = &cobra.Command{
	Use:   "bpfsctl",
	Short: "Inspect and drive a bpfs block device from the command line",
	Long: `bpfsctl operates directly on a bpfs-formatted file: formatting a fresh
device, allocating blocks from its free-extent tree, and reading or
writing single key/value pairs, without going through any higher-level
filesystem layer.`,
	Version: "0.1.0-dev",
}

func init() {
	cfg, err := LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "bpfsctl: %v\n", err)
		os.Exit(1)
	}

	rootCmd.PersistentFlags().StringVar(&devicePath, "device", cfg.DevicePath, "path to the backing device file")
	rootCmd.PersistentFlags().Uint64Var(&blockSize, "block-size", cfg.BlockSize, "device block size in bytes")
	rootCmd.PersistentFlags().IntVar(&cacheCapacity, "cache-capacity", cfg.CacheCapacity, "I/O context cache capacity in blocks")

	rootCmd.AddCommand(mkfsCmd, allocCmd, putCmd, getCmd, statCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "bpfsctl: %v\n", err)
		os.Exit(1)
	}
}

func requireDevicePath() error {
	if devicePath == "" {
		return fmt.Errorf("--device is required")
	}
	return nil
}
