// Command rudelctl-fs drives a rudelblinken file store against a host disk
// image, for local testing and simulation of the firmware's storage
// subsystem without real flash hardware.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
