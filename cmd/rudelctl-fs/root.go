package main

import (
	"github.com/spf13/cobra"

	"github.com/zebreus/rudelblinken-filestore/internal/config"
	"github.com/zebreus/rudelblinken-filestore/internal/logging"
	"github.com/zebreus/rudelblinken-filestore/store"
)

var (
	flagImage     string
	flagBlocks    int
	flagBlockSize int
	flagLogLevel  string
	flagMemory    bool
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "rudelctl-fs",
		Short: "Drive a rudelblinken file store against a host disk image",
	}

	root.PersistentFlags().StringVar(&flagImage, "image", "store.img", "path to the backing flash-image file")
	root.PersistentFlags().IntVar(&flagBlocks, "blocks", 0, "override the number of blocks (0: use config default)")
	root.PersistentFlags().IntVar(&flagBlockSize, "block-size", 0, "override the block size in bytes (0: use config default)")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "override the log level (debug|info|warn|error)")
	root.PersistentFlags().BoolVar(&flagMemory, "memory", false, "use an in-RAM device instead of --image, discarded on exit")

	root.AddCommand(newMountCmd())
	root.AddCommand(newLsCmd())
	root.AddCommand(newUploadCmd())
	root.AddCommand(newRmCmd())
	root.AddCommand(newStatusCmd())
	return root
}

// loadConfig loads configuration and applies any persistent flag overrides.
// Shared by every subcommand that needs config without necessarily opening
// a store (upload needs cfg.DefaultChunk before it builds the request).
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load("")
	if err != nil {
		return nil, err
	}
	if flagBlocks > 0 {
		cfg.Blocks = flagBlocks
	}
	if flagBlockSize > 0 {
		cfg.BlockSize = flagBlockSize
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}
	return cfg, nil
}

// openStore loads configuration, opens the backing device (memory or
// host-file-backed) and mounts the store over it.
func openStore() (*store.Store, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	log := logging.New(cfg.LogLevel)

	dev, closeDev, err := openDevice(cfg)
	if err != nil {
		return nil, nil, err
	}

	s, err := store.Mount(dev, log)
	if err != nil {
		closeDev()
		return nil, nil, err
	}
	return s, closeDev, nil
}
