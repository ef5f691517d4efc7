package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newMountCmd opens the backing image (creating it if it does not exist),
// mounts the store over it, then reports its geometry. Useful as a first step before ls/upload against --image.
func newMountCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mount",
		Short: "Create or open the backing image and report its geometry",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, closeDev, err := openStore()
			if err != nil {
				return err
			}
			defer closeDev()

			name, ok, err := s.DeviceName()
			if err != nil {
				return err
			}
			fmt.Printf("blocks:     %d\n", s.Blocks())
			fmt.Printf("block size: %d\n", s.BlockSize())
			if ok {
				fmt.Printf("device:     %s\n", name)
			}
			return nil
		},
	}
}
