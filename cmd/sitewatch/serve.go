package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"sitewatch/internal/app"
)

const shutdownGrace = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the monitor bot",
	Long: `Run the website monitor bot.

Loads the YAML config, opens the subscriber store, starts the probe loop,
the Telegram router and the optional HTTP status API, then runs until
SIGINT/SIGTERM. Under systemd Type=notify the service reports READY once
everything is running.

Example:
  sitewatch serve -c config.yaml`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("config", "c", "config.yaml", "path to config file")
}

func runServe(cmd *cobra.Command, args []string) error {
	// .env is optional; it feeds the ${VAR} references in the YAML.
	_ = godotenv.Load()

	cfgPath, _ := cmd.Flags().GetString("config")
	a, err := app.NewApp(cfgPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Signals go through a channel instead of NotifyContext so the stop
	// reason can name the actual signal.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	if err := a.Start(ctx); err != nil {
		return err
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	reason := app.StopUnknown
	select {
	case sig := <-sigCh:
		if sig == syscall.SIGTERM {
			reason = app.StopSIGTERM
		} else {
			reason = app.StopSIGINT
		}
	case <-a.Done():
		reason = app.StopFatalError
	}

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer stopCancel()
	if err := a.Stop(stopCtx, reason); err != nil {
		return err
	}

	if reason == app.StopFatalError {
		if err := a.Err(); err != nil {
			return fmt.Errorf("app failed: %w", err)
		}
	}
	return nil
}
