package main

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config holds the settings bpfsctl needs to open or format a device, with
// viper supplying environment and config-file overrides.
type Config struct {
	BlockSize     uint64 `mapstructure:"block_size"`
	CacheCapacity int    `mapstructure:"cache_capacity"`
	DevicePath    string `mapstructure:"device_path"`
}

// LoadConfig reads bpfsctl configuration from (in order of increasing
// priority) built-in defaults, a config file, and BPFSCTL_*-prefixed
// environment variables.
func LoadConfig() (*Config, error) {
	viper.SetConfigName("bpfsctl")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.bpfs")
	viper.AddConfigPath("/etc/bpfs")

	viper.SetDefault("block_size", 4096)
	viper.SetDefault("cache_capacity", 64)
	viper.SetDefault("device_path", "")

	viper.SetEnvPrefix("BPFSCTL")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading bpfsctl config: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling bpfsctl config: %w", err)
	}
	return &cfg, nil
}
