// ABOUTME: Configuration structure, loading, env expansion, and validation.
// ABOUTME: Duration fields unmarshal as raw strings and are parsed afterwards.

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete courier-gateway configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Sessions SessionsConfig `yaml:"sessions"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds the HTTP API address.
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// SessionsConfig holds session-manager settings.
type SessionsConfig struct {
	// StateDir is the root directory for per-session transport
	// credentials; each session gets a namespace under it.
	StateDir string `yaml:"state_dir"`

	WebhookTimeout time.Duration `yaml:"-"`
	DedupeTTL      time.Duration `yaml:"-"`
	DedupeMax      int           `yaml:"dedupe_max"`

	// Raw string values for YAML unmarshaling
	WebhookTimeoutRaw string `yaml:"webhook_timeout"`
	DedupeTTLRaw      string `yaml:"dedupe_ttl"`
}

// DatabaseConfig holds the message-log location.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads the configuration file at path. Environment variables in the
// format ${VAR_NAME} are expanded before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with environment variable
// values; unset variables expand to the empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = ":8089"
	}
	if c.Sessions.WebhookTimeout == 0 {
		c.Sessions.WebhookTimeout = 30 * time.Second
	}
	// An explicit "0s" disables suppression, so only a missing key gets
	// the default.
	if c.Sessions.DedupeTTLRaw == "" {
		c.Sessions.DedupeTTL = 10 * time.Minute
	}
	if c.Sessions.DedupeMax == 0 {
		c.Sessions.DedupeMax = 10000
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks required fields, returning the first failure.
func (c *Config) Validate() error {
	if c.Sessions.StateDir == "" {
		return fmt.Errorf("sessions.state_dir is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be \"text\" or \"json\", got %q", c.Logging.Format)
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Sessions.WebhookTimeoutRaw != "" {
		cfg.Sessions.WebhookTimeout, err = time.ParseDuration(cfg.Sessions.WebhookTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing webhook_timeout %q: %w", cfg.Sessions.WebhookTimeoutRaw, err)
		}
	}

	if cfg.Sessions.DedupeTTLRaw != "" {
		cfg.Sessions.DedupeTTL, err = time.ParseDuration(cfg.Sessions.DedupeTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing dedupe_ttl %q: %w", cfg.Sessions.DedupeTTLRaw, err)
		}
	}

	return nil
}
