// Package config loads device geometry and session defaults via viper, the
// way the richer repo in the retrieval pack configures its own services:
// environment variables under a fixed prefix, with an optional file on top.
package config

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/zebreus/rudelblinken-filestore/upload"
)

// Config describes a block device's geometry and the session defaults the
// upload endpoint and CLI use when none are given explicitly.
type Config struct {
	Blocks          int    `mapstructure:"blocks"`
	BlockSize       int    `mapstructure:"block_size"`
	DefaultChunk    int    `mapstructure:"default_chunk_size"`
	MaxFramePayload int    `mapstructure:"max_frame_payload"`
	MetadataPath    string `mapstructure:"metadata_path"`
	LogLevel        string `mapstructure:"log_level"`
}

// EnvPrefix is the prefix every RUDEL_-namespaced environment variable
// uses to override configuration.
const EnvPrefix = "RUDEL"

// Load reads configuration from, in increasing precedence: built-in
// defaults, an optional file at path (if non-empty), and RUDEL_-prefixed
// environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetDefault("blocks", 16)
	v.SetDefault("block_size", 4096)
	v.SetDefault("default_chunk_size", 200)
	v.SetDefault("max_frame_payload", upload.DefaultMaxFramePayload)
	v.SetDefault("metadata_path", "")
	v.SetDefault("log_level", "info")

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}
