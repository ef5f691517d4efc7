package main

import (
	"fmt"

	"github.com/spf13/cobra"
	times "gopkg.in/djherbis/times.v1"
)

// newStatusCmd reports image geometry, occupancy and the backing file's
// creation time, the way a real flash-image inspection tool would surface
// both logical and host-filesystem provenance.
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report device geometry, file count and image provenance",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, closeDev, err := openStore()
			if err != nil {
				return err
			}
			defer closeDev()

			files := s.List()
			var liveBytes int64
			marked := 0
			for _, f := range files {
				if f.MarkedForDeletion {
					marked++
					continue
				}
				liveBytes += int64(f.Length)
			}

			fmt.Printf("blocks:              %d\n", s.Blocks())
			fmt.Printf("block size:          %d\n", s.BlockSize())
			fmt.Printf("files:               %d (%d marked for deletion)\n", len(files)-marked, marked)
			fmt.Printf("live content bytes:  %d\n", liveBytes)

			if !flagMemory {
				t, err := times.Stat(flagImage)
				if err != nil {
					fmt.Printf("image created:       unknown (%v)\n", err)
					return nil
				}
				if t.HasBirthTime() {
					fmt.Printf("image created:       %s\n", t.BirthTime().Format("2006-01-02T15:04:05Z07:00"))
				} else {
					fmt.Printf("image modified:      %s\n", t.ModTime().Format("2006-01-02T15:04:05Z07:00"))
				}
			}
			return nil
		},
	}
}
