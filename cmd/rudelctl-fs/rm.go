package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <name>",
		Short: "Mark a file for deletion by name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, closeDev, err := openStore()
			if err != nil {
				return err
			}
			defer closeDev()

			if err := s.DeleteByName(args[0]); err != nil {
				return err
			}
			s.Cleanup()
			fmt.Printf("removed %s\n", args[0])
			return nil
		},
	}
}
