package main

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"sitewatch/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file",
	Long: `Validate a configuration file without starting the bot.

Parses the YAML, expands environment variables and checks every field.
Useful in CI or before a deploy.

Exit codes:
  0 - config is valid
  1 - config is invalid

Example:
  sitewatch validate -c config.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().StringP("config", "c", "config.yaml", "path to config file")
}

func runValidate(cmd *cobra.Command, args []string) error {
	_ = godotenv.Load()

	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	fmt.Printf("Config is valid!\n")
	fmt.Printf("  URLs:            %d\n", len(cfg.URLsToCheck))
	fmt.Printf("  Check delay:     %s\n", cfg.URLCheckDelay)
	fmt.Printf("  Max subscribers: %d\n", cfg.MaxSubscribers)
	fmt.Printf("  Notify on:       %s\n", cfg.NotifyOn)
	fmt.Printf("  Web API:         %s\n", onOff(cfg.Web.Enabled))
	fmt.Printf("  AMQP publisher:  %s\n", onOff(cfg.AMQP.Enabled))
	fmt.Printf("  Daily digest:    %s\n", onOff(cfg.Digest.Enabled))
	return nil
}

func onOff(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}
