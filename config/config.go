// ABOUTME: Configuration loading and parsing for perch
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete perch configuration
type Config struct {
	Token     string          `yaml:"token"`
	API       APIConfig       `yaml:"api"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// APIConfig holds the REST surface configuration
type APIConfig struct {
	BaseURL   string `yaml:"base_url"`
	UserAgent string `yaml:"user_agent"`
}

// GatewayConfig holds gateway connection and session timing configuration
type GatewayConfig struct {
	URL        string `yaml:"url"`
	ShardCount int    `yaml:"shard_count"`
	Intents    int64  `yaml:"intents"`

	HelloTimeout           time.Duration `yaml:"-"`
	IdentifyTimeout        time.Duration `yaml:"-"`
	MaxConsecutiveFailures int           `yaml:"max_consecutive_failures"`

	// Raw string values for YAML unmarshaling
	HelloTimeoutRaw    string `yaml:"hello_timeout"`
	IdentifyTimeoutRaw string `yaml:"identify_timeout"`

	Backoff BackoffConfig `yaml:"backoff"`
}

// BackoffConfig holds the reconnect backoff curve
type BackoffConfig struct {
	Base       time.Duration `yaml:"-"`
	Cap        time.Duration `yaml:"-"`
	Multiplier float64       `yaml:"multiplier"`
	Jitter     float64       `yaml:"jitter"`

	BaseRaw string `yaml:"base"`
	CapRaw  string `yaml:"cap"`
}

// RateLimitConfig holds bucket manager tuning
type RateLimitConfig struct {
	MaxBuckets  int `yaml:"max_buckets"`
	GlobalLimit int `yaml:"global_limit"`

	GlobalWindow  time.Duration `yaml:"-"`
	IdentifyEvery time.Duration `yaml:"-"`

	GlobalWindowRaw  string `yaml:"global_window"`
	IdentifyEveryRaw string `yaml:"identify_every"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Token == "" {
		return fmt.Errorf("token is required")
	}
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	if c.Gateway.URL == "" {
		return fmt.Errorf("gateway.url is required")
	}
	if c.Gateway.ShardCount < 0 {
		return fmt.Errorf("gateway.shard_count must not be negative")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		raw  string
		name string
		dst  *time.Duration
	}{
		{cfg.Gateway.HelloTimeoutRaw, "gateway.hello_timeout", &cfg.Gateway.HelloTimeout},
		{cfg.Gateway.IdentifyTimeoutRaw, "gateway.identify_timeout", &cfg.Gateway.IdentifyTimeout},
		{cfg.Gateway.Backoff.BaseRaw, "gateway.backoff.base", &cfg.Gateway.Backoff.Base},
		{cfg.Gateway.Backoff.CapRaw, "gateway.backoff.cap", &cfg.Gateway.Backoff.Cap},
		{cfg.RateLimit.GlobalWindowRaw, "ratelimit.global_window", &cfg.RateLimit.GlobalWindow},
		{cfg.RateLimit.IdentifyEveryRaw, "ratelimit.identify_every", &cfg.RateLimit.IdentifyEvery},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
