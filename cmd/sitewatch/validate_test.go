package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// executeValidate runs "sitewatch validate -c <path>" and returns captured
// stdout plus any command error. Not parallel-safe: it swaps os.Stdout.
func executeValidate(t *testing.T, configPath string) (string, error) {
	t.Helper()

	old := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w

	rootCmd.SetArgs([]string{"validate", "-c", configPath})
	execErr := rootCmd.Execute()

	_ = w.Close()
	os.Stdout = old
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(r)
	return buf.String(), execErr
}

func TestValidateAcceptsGoodConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	cfg := `
bot_token: "123:abc"
admin_id: 42
database_path: ` + filepath.Join(dir, "bot.db") + `
url_check_delay: 60
urls_to_check:
  - https://one.example
  - https://two.example
web:
  enabled: true
  addr: ":8080"
`
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))

	out, err := executeValidate(t, path)
	require.NoError(t, err)
	require.Contains(t, out, "Config is valid!")
	require.Contains(t, out, "URLs:            2")
	require.Contains(t, out, "Check delay:     1m0s")
	require.Contains(t, out, "Web API:         enabled")
	require.Contains(t, out, "AMQP publisher:  disabled")
}

func TestValidateRejectsBadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("admin_id: 42\n"), 0o644))

	_, err := executeValidate(t, path)
	require.ErrorContains(t, err, "bot_token")
}

func TestValidateMissingFile(t *testing.T) {
	_, err := executeValidate(t, filepath.Join(t.TempDir(), "absent.yaml"))
	require.ErrorContains(t, err, "missing")
}
