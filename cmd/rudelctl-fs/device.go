package main

import (
	"github.com/zebreus/rudelblinken-filestore/device"
	"github.com/zebreus/rudelblinken-filestore/internal/config"
)

// openDevice opens either an in-RAM device (--memory) or a host-file-backed
// mmap device at --image, sized per cfg.
func openDevice(cfg *config.Config) (device.Device, func(), error) {
	if flagMemory {
		dev := device.NewMemory(cfg.Blocks, cfg.BlockSize)
		return dev, func() { _ = dev.Close() }, nil
	}

	dev, err := device.OpenMmapFile(flagImage, cfg.Blocks, cfg.BlockSize, cfg.MetadataPath)
	if err != nil {
		return nil, nil, err
	}
	return dev, func() { _ = dev.Close() }, nil
}
