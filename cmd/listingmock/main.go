// Package main is the entry point for the listingmock CLI tool.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/szaher/designs/listingmock/internal/runtime"
	"github.com/szaher/designs/listingmock/internal/telemetry"
)

// Global flags.
var (
	envFile   string
	logLevel  string
	logFormat string
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "listingmock",
		Short: "Mock backend and client for the list-a-product workflow",
		Long: `listingmock serves the login, recognize, aspects and publish endpoints
with synthetic payloads, keeps uploads in a temporary store that is removed on
shutdown, and can drive the same workflow as a client.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return runtime.LoadDotEnv(envFile)
		},
	}

	root.PersistentFlags().StringVar(&envFile, "env-file", "", "Path to a dotenv file to load (ignored when missing)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: json or text")

	root.AddCommand(newServeCmd())
	root.AddCommand(newWalkCmd())
	root.AddCommand(newVersionCmd())

	return root
}

// newLogger builds the process logger; flags win over the config values.
// Values registered with the returned Redactor never reach the output.
func newLogger(w io.Writer, config *runtime.Config) (*slog.Logger, *telemetry.Redactor) {
	level, format := config.LogLevel, config.LogFormat
	if logLevel != "" {
		level = logLevel
	}
	if logFormat != "" {
		format = logFormat
	}
	return telemetry.NewRedactingLogger(w, telemetry.ParseLevel(level), format)
}

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
