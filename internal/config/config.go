// Package config loads and validates the sitewatch configuration file.
//
// The file is YAML. ${VAR} references are expanded from the environment
// before decoding so credentials can stay out of the file, and decoding is
// strict: unknown keys are an error.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"
)

// ValidationError reports an invalid or missing configuration parameter.
// It is fatal at startup: the process must not start with a bad config.
type ValidationError struct {
	Key    string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Key, e.Reason)
}

func invalid(key, reason string) error {
	return &ValidationError{Key: key, Reason: reason}
}

const (
	// DefaultMaxSubscribers caps the subscriber table.
	DefaultMaxSubscribers = 10000

	defaultProbeTimeout    = 10 * time.Second
	defaultNotifyRate      = 25
	defaultNotifyBurst     = 5
	defaultNetcheckTimeout = 2 * time.Minute
)

// Notification trigger policies for the monitor loop.
const (
	NotifyEveryCheck = "every_check" // event on every cycle a URL is observed up
	NotifyOnRecovery = "recovery"    // event only on an observed down->up transition
)

type Config struct {
	BotToken       string   `yaml:"bot_token"`
	AdminID        int64    `yaml:"admin_id"`
	DatabasePath   string   `yaml:"database_path"`
	URLCheckDelay  Duration `yaml:"url_check_delay"`
	URLsToCheck    []string `yaml:"urls_to_check"`
	MaxSubscribers int      `yaml:"max_subscribers"`
	NotifyOn       string   `yaml:"notify_on"`

	Probe    ProbeConfig    `yaml:"probe"`
	Notify   NotifyConfig   `yaml:"notify"`
	Logging  LoggingConfig  `yaml:"logging"`
	Web      WebConfig      `yaml:"web"`
	AMQP     AMQPConfig     `yaml:"amqp"`
	Digest   DigestConfig   `yaml:"digest"`
	Netcheck NetcheckConfig `yaml:"netcheck"`
}

type ProbeConfig struct {
	Timeout   Duration `yaml:"timeout"`
	UserAgent string   `yaml:"user_agent"`
}

type NotifyConfig struct {
	RatePerSec int `yaml:"rate_per_sec"`
	Burst      int `yaml:"burst"`
}

type LoggingConfig struct {
	Level    string            `yaml:"level"`
	Console  bool              `yaml:"console"`
	File     FileLogConfig     `yaml:"file"`
	Telegram TelegramLogConfig `yaml:"telegram"`
}

type FileLogConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type TelegramLogConfig struct {
	Enabled    bool   `yaml:"enabled"`
	MinLevel   string `yaml:"min_level"`
	RatePerSec int    `yaml:"rate_per_sec"`
}

type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	// Pprof mounts net/http/pprof under /debug/pprof. Only honored when
	// Addr is a loopback address.
	Pprof bool `yaml:"pprof"`
}

type AMQPConfig struct {
	Enabled    bool   `yaml:"enabled"`
	URL        string `yaml:"url"`
	Exchange   string `yaml:"exchange"`
	RoutingKey string `yaml:"routing_key"`
	Queue      string `yaml:"queue"`
}

type DigestConfig struct {
	Enabled  bool   `yaml:"enabled"`
	At       string `yaml:"at"`       // HH:MM
	Timezone string `yaml:"timezone"` // IANA name; empty = local
}

type NetcheckConfig struct {
	Timeout Duration `yaml:"timeout"`
}

// Load reads, expands, decodes, defaults, and validates the config file.
// Any returned error means the process must not start.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config file %s is missing", path)
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes raw YAML into a validated Config. Exposed separately so the
// watcher can re-parse file content it already read.
func Parse(raw []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(raw))

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.MaxSubscribers == 0 {
		c.MaxSubscribers = DefaultMaxSubscribers
	}
	if c.NotifyOn == "" {
		c.NotifyOn = NotifyEveryCheck
	}
	if c.Probe.Timeout.Duration() <= 0 {
		c.Probe.Timeout = Duration(defaultProbeTimeout)
	}
	if c.Notify.RatePerSec <= 0 {
		c.Notify.RatePerSec = defaultNotifyRate
	}
	if c.Notify.Burst <= 0 {
		c.Notify.Burst = defaultNotifyBurst
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
		c.Logging.Console = true
	}
	if c.Logging.Telegram.RatePerSec <= 0 {
		c.Logging.Telegram.RatePerSec = 1
	}
	if c.Netcheck.Timeout.Duration() <= 0 {
		c.Netcheck.Timeout = Duration(defaultNetcheckTimeout)
	}
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.BotToken) == "" {
		return invalid("bot_token", "missing required parameter")
	}
	if c.AdminID == 0 {
		return invalid("admin_id", "missing required parameter")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return invalid("database_path", "missing required parameter")
	}
	if c.URLCheckDelay.Duration() <= 0 {
		return invalid("url_check_delay", "must be > 0")
	}
	if len(c.URLsToCheck) == 0 {
		return invalid("urls_to_check", "must be a non-empty list")
	}
	for _, u := range c.URLsToCheck {
		if err := validateURL(u); err != nil {
			return invalid("urls_to_check", err.Error())
		}
	}
	if c.MaxSubscribers < 1 {
		return invalid("max_subscribers", "must be >= 1")
	}
	switch c.NotifyOn {
	case NotifyEveryCheck, NotifyOnRecovery:
	default:
		return invalid("notify_on", fmt.Sprintf("must be %q or %q", NotifyEveryCheck, NotifyOnRecovery))
	}
	if c.Web.Enabled && strings.TrimSpace(c.Web.Addr) == "" {
		return invalid("web.addr", "required when web.enabled is true")
	}
	if c.AMQP.Enabled {
		if strings.TrimSpace(c.AMQP.URL) == "" {
			return invalid("amqp.url", "required when amqp.enabled is true")
		}
		if strings.TrimSpace(c.AMQP.Exchange) == "" {
			return invalid("amqp.exchange", "required when amqp.enabled is true")
		}
	}
	if c.Digest.Enabled {
		if _, _, err := ParseHHMM(c.Digest.At); err != nil {
			return invalid("digest.at", err.Error())
		}
		if tz := strings.TrimSpace(c.Digest.Timezone); tz != "" {
			if _, err := time.LoadLocation(tz); err != nil {
				return invalid("digest.timezone", fmt.Sprintf("unknown timezone %q", tz))
			}
		}
	}
	return nil
}

func validateURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid url %q", raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url %q must use http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("url %q has no host", raw)
	}
	return nil
}

// ParseHHMM parses a wall-clock "HH:MM" value.
func ParseHHMM(s string) (hour, minute int, err error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}
