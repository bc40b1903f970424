// Package main is the sitewatch CLI entry point.
//
// Usage:
//
//	sitewatch serve -c config.yaml     # Run the monitor bot
//	sitewatch validate -c config.yaml  # Validate a config file
//	sitewatch version                  # Show version info
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "sitewatch",
	Short: "Website availability monitor with Telegram notifications",
	Long: `sitewatch probes a fixed list of websites on a schedule and notifies
subscribed Telegram chats when they are available.

Quick start:
  1. Create a config file with bot_token, admin_id, database_path,
     url_check_delay and urls_to_check
  2. Run: sitewatch serve -c config.yaml`,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("sitewatch %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Cobra already printed the error.
		os.Exit(1)
	}
}
