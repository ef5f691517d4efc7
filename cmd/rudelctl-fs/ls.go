package main

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"
)

func newLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "List files in the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, closeDev, err := openStore()
			if err != nil {
				return err
			}
			defer closeDev()

			for _, f := range s.List() {
				flag := " "
				if f.MarkedForDeletion {
					flag = "D"
				}
				fmt.Printf("%s %-16s %8d bytes  %3d blocks  %s\n",
					flag, f.Name, f.Length, f.Blocks, hex.EncodeToString(f.Hash[:]))
			}
			return nil
		},
	}
}
