// Package commands provides the CLI commands for the honeypot.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/SomethingGeneric/aihoneypot/internal/logging"
)

// Version information set at build time
var (
	Version   = "0.1.0"
	BuildTime = "dev"
)

// Global flags
var (
	logLevel   string
	prettyLogs bool
)

var rootCmd = &cobra.Command{
	Use:   "aihoneypot",
	Short: "SSH honeypot backed by a text-generation model",
	Long: `aihoneypot impersonates an interactive shell over SSH (or a bare
TCP fallback) and answers attacker commands with model-generated output.

Run 'aihoneypot serve' to start listening.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg := logging.DefaultConfig()
		cfg.Level = logging.ParseLevel(logLevel)
		cfg.Pretty = prettyLogs
		logging.Init(cfg)
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help() //nolint:errcheck
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "INFO", "Log level (DEBUG|INFO|WARN|ERROR)")
	rootCmd.PersistentFlags().BoolVar(&prettyLogs, "pretty-logs", false, "Human-readable console logs")

	rootCmd.SetVersionTemplate(fmt.Sprintf("aihoneypot %s (%s)\n", Version, BuildTime))

	rootCmd.AddCommand(serveCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
