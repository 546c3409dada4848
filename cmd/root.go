// Package cmd implements the CLI commands for qatmgr-go.
package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"qatmgr-go/logging"
)

// Version information set at build time.
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
)

// Global flags.
var (
	globalSocket    string
	globalPolicy    int
	globalStaticCfg bool
	globalLog       string
	globalLogFormat string
	globalDebug     bool
)

// DefaultSocketPath is the broker's default listen address.
const DefaultSocketPath = "/run/qat/qatmgr.sock"

// rootCmd is the base command for qatmgr-go.
var rootCmd = &cobra.Command{
	Use:   "qatmgr-go",
	Short: "QAT accelerator section broker",
	Long: `qatmgr-go discovers Intel QuickAssist Technology virtual functions
passed through VFIO, partitions them into admin-policy-sized sections, and
serves them to client processes over a local Unix domain socket.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogging()
		return nil
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// GetContext returns a context that cancels on SIGINT/SIGTERM.
func GetContext() context.Context {
	ctx, _ := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	return ctx
}

// GetSocketPath returns the configured broker socket path.
func GetSocketPath() string {
	if globalSocket != "" {
		return globalSocket
	}
	return DefaultSocketPath
}

func init() {
	rootCmd.PersistentFlags().StringVar(&globalSocket, "socket", "", "path to the broker's Unix domain socket (default: "+DefaultSocketPath+")")
	rootCmd.PersistentFlags().IntVar(&globalPolicy, "policy", 0, "VFs per section; 0 groups sections by PF adjacency")
	rootCmd.PersistentFlags().BoolVar(&globalStaticCfg, "static-cfg", false, "build a single section of --policy VFs (fails if fewer are found)")
	rootCmd.PersistentFlags().StringVar(&globalLog, "log", "", "set the log file path")
	rootCmd.PersistentFlags().StringVar(&globalLogFormat, "log-format", "text", "set the format for log output (text or json)")
	rootCmd.PersistentFlags().BoolVar(&globalDebug, "debug", false, "enable debug logging, including per-message protocol tracing")
}

func setupLogging() {
	logOutput := os.Stderr
	var fileOutput *os.File
	if globalLog != "" {
		f, err := os.OpenFile(globalLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err == nil {
			fileOutput = f
		}
	}

	logLevel := slog.LevelInfo
	if globalDebug {
		logLevel = slog.LevelDebug
	}

	format := globalLogFormat
	if os.Getenv("NOTIFY_SOCKET") != "" {
		// Running under a service manager with journal capture: prefer
		// structured output even if the operator didn't ask for it.
		format = "json"
	}

	if format == "json" || fileOutput != nil || globalDebug {
		out := logOutput
		if fileOutput != nil {
			out = fileOutput
		}
		logger := logging.NewLogger(logging.Config{
			Level:  logLevel,
			Format: format,
			Output: out,
		})
		logging.SetDefault(logger)
	}
}
