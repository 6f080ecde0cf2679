package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadFromPathMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadFromPath(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 20, cfg.RateLimit.RequestsPerSecond)
	assert.Empty(t, cfg.Database.Driver)
}

func TestLoadFromPathReadsYAML(t *testing.T) {
	path := writeFile(t, "config.yaml", `
server:
  host: 127.0.0.1
  port: 9090
logging:
  level: debug
database:
  driver: postgres
  dsn: postgres://localhost/app
webhook:
  secret: whsec_abc
rate_limit:
  requests_per_second: 5
  burst: 10
`)

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "postgres://localhost/app", cfg.Database.DSN)
	assert.Equal(t, "whsec_abc", cfg.Webhook.Secret)
	assert.Equal(t, 5, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 10, cfg.RateLimit.Burst)
}

func TestLoadFromPathEnvOverridesFile(t *testing.T) {
	path := writeFile(t, "config.yaml", `
server:
  port: 9090
`)
	t.Setenv("SERVER_PORT", "7070")
	t.Setenv("WEBHOOK_SECRET", "from-env")

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "from-env", cfg.Webhook.Secret)
}

func TestLoadFromPathRejectsBadPort(t *testing.T) {
	path := writeFile(t, "config.yaml", `
server:
  port: -1
`)

	_, err := LoadFromPath(path)
	assert.Error(t, err)
}

func TestLoadFromPathRejectsMalformedYAML(t *testing.T) {
	path := writeFile(t, "config.yaml", "server: [not a map")

	_, err := LoadFromPath(path)
	assert.Error(t, err)
}

func TestLoadSteps(t *testing.T) {
	path := writeFile(t, "steps.yaml", `
steps:
  - name: start
    message: "Welcome!"
    next: pay
  - name: pay
    message: "Pay up, {refCode}."
    cost: 25
    reward: 10
  - name: done
    message: "Done."
`)

	steps, err := LoadSteps(path)
	require.NoError(t, err)
	require.Len(t, steps, 3)

	assert.Equal(t, "start", steps[0].Name)
	assert.Equal(t, "pay", steps[0].NextStep)
	assert.Equal(t, int64(25), steps[1].Cost)
	assert.Equal(t, int64(10), steps[1].Reward)
	assert.True(t, steps[2].Terminal())
}

func TestLoadStepsEmpty(t *testing.T) {
	path := writeFile(t, "steps.yaml", "steps: []")

	_, err := LoadSteps(path)
	assert.Error(t, err)
}

func TestLoadStepsMissingFile(t *testing.T) {
	_, err := LoadSteps(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
