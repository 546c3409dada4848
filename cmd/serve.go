package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"qatmgr-go/broker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the broker in the foreground",
	Long:  `Discover QAT accelerators, partition them into sections, and serve clients over the broker socket until interrupted.`,
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := GetContext()

	opts := broker.Options{
		SocketPath: GetSocketPath(),
		Policy:     globalPolicy,
		StaticCfg:  globalStaticCfg,
		Debug:      globalDebug,
	}

	if err := broker.Run(ctx, opts); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}
