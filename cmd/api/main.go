package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is the build version reported by --version.
var Version = "dev"

// configPath is the optional YAML file given with --config.
var configPath string

// main boots the CLI; with no subcommand it serves the ingestion API.
func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "api",
		Short:         "Financial record ingestion API",
		Version:       Version,
		RunE:          runServe,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file (overrides CONFIG_FILE)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(reconcileCmd())
	rootCmd.AddCommand(reclaimCmd())
	rootCmd.AddCommand(configCmd())
	return rootCmd
}
