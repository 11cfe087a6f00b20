// ABOUTME: Tests for configuration loading
// ABOUTME: Covers YAML parsing, env var expansion, duration parsing, and validation

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "perch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const validConfig = `
token: "token-abc"
api:
  base_url: "https://api.example.com/v10"
  user_agent: "perch-test"
gateway:
  url: "wss://gateway.example.com"
  shard_count: 4
  intents: 513
  hello_timeout: "15s"
  identify_timeout: "30s"
  max_consecutive_failures: 5
  backoff:
    base: "1s"
    cap: "1m"
    multiplier: 2.0
    jitter: 0.25
ratelimit:
  max_buckets: 2048
  global_limit: 50
  global_window: "1s"
  identify_every: "5s"
logging:
  level: "debug"
  format: "json"
`

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, validConfig)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "token-abc", cfg.Token)
	assert.Equal(t, "https://api.example.com/v10", cfg.API.BaseURL)
	assert.Equal(t, "perch-test", cfg.API.UserAgent)

	assert.Equal(t, "wss://gateway.example.com", cfg.Gateway.URL)
	assert.Equal(t, 4, cfg.Gateway.ShardCount)
	assert.EqualValues(t, 513, cfg.Gateway.Intents)
	assert.Equal(t, 15*time.Second, cfg.Gateway.HelloTimeout)
	assert.Equal(t, 30*time.Second, cfg.Gateway.IdentifyTimeout)
	assert.Equal(t, 5, cfg.Gateway.MaxConsecutiveFailures)

	assert.Equal(t, time.Second, cfg.Gateway.Backoff.Base)
	assert.Equal(t, time.Minute, cfg.Gateway.Backoff.Cap)
	assert.Equal(t, 2.0, cfg.Gateway.Backoff.Multiplier)
	assert.Equal(t, 0.25, cfg.Gateway.Backoff.Jitter)

	assert.Equal(t, 2048, cfg.RateLimit.MaxBuckets)
	assert.Equal(t, 50, cfg.RateLimit.GlobalLimit)
	assert.Equal(t, time.Second, cfg.RateLimit.GlobalWindow)
	assert.Equal(t, 5*time.Second, cfg.RateLimit.IdentifyEvery)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	t.Setenv("PERCH_TEST_TOKEN", "secret-from-env")

	path := writeConfig(t, `
token: "${PERCH_TEST_TOKEN}"
api:
  base_url: "https://api.example.com"
gateway:
  url: "wss://gateway.example.com"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "secret-from-env", cfg.Token)
}

func TestLoad_UnsetEnvVarBecomesEmpty(t *testing.T) {
	path := writeConfig(t, `
token: "${PERCH_DEFINITELY_UNSET_VAR}"
api:
  base_url: "https://api.example.com"
gateway:
  url: "wss://gateway.example.com"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token is required")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/perch.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "token: [unclosed")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config file")
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := writeConfig(t, `
token: "t"
api:
  base_url: "https://api.example.com"
gateway:
  url: "wss://gateway.example.com"
  hello_timeout: "fifteen seconds"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gateway.hello_timeout")
}

func TestLoad_OmittedDurationsStayZero(t *testing.T) {
	path := writeConfig(t, `
token: "t"
api:
  base_url: "https://api.example.com"
gateway:
  url: "wss://gateway.example.com"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Zero(t, cfg.Gateway.HelloTimeout, "callers apply their own defaults")
	assert.Zero(t, cfg.RateLimit.GlobalWindow)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Token:   "t",
			API:     APIConfig{BaseURL: "https://api.example.com"},
			Gateway: GatewayConfig{URL: "wss://gateway.example.com"},
		}
	}

	assert.NoError(t, base().Validate())

	c := base()
	c.Token = ""
	assert.ErrorContains(t, c.Validate(), "token")

	c = base()
	c.API.BaseURL = ""
	assert.ErrorContains(t, c.Validate(), "api.base_url")

	c = base()
	c.Gateway.URL = ""
	assert.ErrorContains(t, c.Validate(), "gateway.url")

	c = base()
	c.Gateway.ShardCount = -1
	assert.ErrorContains(t, c.Validate(), "shard_count")
}
