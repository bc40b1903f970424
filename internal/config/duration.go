package config

import (
	"fmt"
	"strconv"
	"time"

	yaml "go.yaml.in/yaml/v3"
)

// Duration is a config duration that accepts either a bare integer (seconds,
// the legacy file format) or a Go duration string like "90s" or "2m".
type Duration time.Duration

func (d Duration) Duration() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("invalid duration: expected a scalar, got %s", value.Tag)
	}
	raw := value.Value
	if secs, err := strconv.Atoi(raw); err == nil {
		*d = Duration(time.Duration(secs) * time.Second)
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: use seconds or a value like \"90s\"", raw)
	}
	*d = Duration(parsed)
	return nil
}
