package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"qatmgr-go/protocol"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print version information for qatmgr-go.`,
	Args:  cobra.NoArgs,
	Run:   runVersion,
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func runVersion(cmd *cobra.Command, args []string) {
	fmt.Printf("qatmgr-go version %s\n", Version)
	fmt.Printf("protocol: %d.%d\n", protocol.ServerVersion>>8, protocol.ServerVersion&0xff)
	fmt.Printf("go: %s\n", runtime.Version())
	if BuildTime != "unknown" {
		fmt.Printf("build: %s\n", BuildTime)
	}
}
