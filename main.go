// qatmgr-go is a privileged per-host broker for Intel QuickAssist Technology
// (QAT) accelerator virtual functions.
//
// It discovers VFs passed through VFIO, partitions them into admin-policy
// sections, and serves them to client processes over a Unix domain socket.
//
// Commands:
//
//	serve    - Run the broker in the foreground
//	devices  - List discovered QAT accelerators
//	version  - Print version information
package main

import (
	"fmt"
	"os"

	"qatmgr-go/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
