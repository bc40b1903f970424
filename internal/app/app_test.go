package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sitewatch/internal/config"
)

func baseConfig() *config.Config {
	return &config.Config{
		BotToken:       "token",
		AdminID:        1,
		DatabasePath:   "./bot.db",
		URLCheckDelay:  config.Duration(time.Minute),
		URLsToCheck:    []string{"https://one.example"},
		MaxSubscribers: 100,
		NotifyOn:       config.NotifyEveryCheck,
	}
}

func TestChangedFixedSectionsDetectsRestartOnlyChanges(t *testing.T) {
	t.Parallel()

	prev := baseConfig()
	next := baseConfig()
	next.URLsToCheck = []string{"https://one.example", "https://two.example"}
	next.MaxSubscribers = 200
	next.Web.Enabled = true

	require.Equal(t,
		[]string{"urls_to_check", "max_subscribers", "web"},
		changedFixedSections(prev, next),
	)
}

func TestChangedFixedSectionsIgnoresLogging(t *testing.T) {
	t.Parallel()

	prev := baseConfig()
	next := baseConfig()
	next.Logging.Level = "debug"
	next.Logging.Telegram.Enabled = true

	require.Empty(t, changedFixedSections(prev, next))
}

func TestMapLogConfigCarriesTelegramSink(t *testing.T) {
	t.Parallel()

	got := mapLogConfig(config.LoggingConfig{
		Level:   "debug",
		Console: true,
		File:    config.FileLogConfig{Enabled: true, Path: "/tmp/sw.log"},
		Telegram: config.TelegramLogConfig{
			Enabled:    true,
			MinLevel:   "warn",
			RatePerSec: 2,
		},
	})

	require.Equal(t, "debug", got.Level)
	require.True(t, got.Console)
	require.Equal(t, "/tmp/sw.log", got.File.Path)
	require.True(t, got.Telegram.Enabled)
	require.Equal(t, "warn", got.Telegram.MinLevel)
	require.Equal(t, 2, got.Telegram.RatePerSec)
}
