// ABOUTME: Configuration loading and parsing for support-gateway
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath overrides the default config file location.
const EnvConfigPath = "SUPPORT_GATEWAY_CONFIG"

// minSecretLength mirrors auth.MinSecretLength.
const minSecretLength = 32

// Config represents the complete support-gateway configuration
type Config struct {
	Server   ServerConfig   `yaml:"server" toml:"server"`
	Database DatabaseConfig `yaml:"database" toml:"database"`
	Auth     AuthConfig     `yaml:"auth" toml:"auth"`
	Chat     ChatConfig     `yaml:"chat" toml:"chat"`
	Relay    RelayConfig    `yaml:"relay" toml:"relay"`
	Jobs     JobsConfig     `yaml:"jobs" toml:"jobs"`
	Mail     MailConfig     `yaml:"mail" toml:"mail"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics" toml:"metrics"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`

	// AllowedOrigins lists the browser origins allowed to open chat sockets.
	// Empty allows same-origin requests only; "*" allows any origin.
	AllowedOrigins []string `yaml:"allowed_origins" toml:"allowed_origins"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver string `yaml:"driver" toml:"driver"` // "sqlite" (default) or "postgres"
	Path   string `yaml:"path" toml:"path"`     // sqlite file
	DSN    string `yaml:"dsn" toml:"dsn"`       // postgres connection string
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret        string `yaml:"jwt_secret" toml:"jwt_secret"`
	DenylistRedisURL string `yaml:"denylist_redis_url" toml:"denylist_redis_url"`

	TokenTTL    time.Duration `yaml:"-" toml:"-"`
	TokenTTLRaw string        `yaml:"token_ttl" toml:"token_ttl"`
}

// ChatConfig holds realtime chat tuning
type ChatConfig struct {
	JoinPolicy   string  `yaml:"join_policy" toml:"join_policy"`
	RateLimit    float64 `yaml:"rate_limit" toml:"rate_limit"` // messages per second per connection
	Burst        int     `yaml:"burst" toml:"burst"`
	SendBuffer   int     `yaml:"send_buffer" toml:"send_buffer"`
	MaxFrameSize int64   `yaml:"max_frame_size" toml:"max_frame_size"`
	HistoryLimit int     `yaml:"history_limit" toml:"history_limit"`
	DedupeSize   int     `yaml:"dedupe_size" toml:"dedupe_size"`

	DedupeTTL    time.Duration `yaml:"-" toml:"-"`
	DedupeTTLRaw string        `yaml:"dedupe_ttl" toml:"dedupe_ttl"`
}

// RelayConfig holds the optional multi-instance relay configuration
type RelayConfig struct {
	RedisURL string `yaml:"redis_url" toml:"redis_url"`
	Channel  string `yaml:"channel" toml:"channel"`
}

// JobsConfig holds background job configuration
type JobsConfig struct {
	RedisURL    string `yaml:"redis_url" toml:"redis_url"`
	Concurrency int    `yaml:"concurrency" toml:"concurrency"`
}

// MailConfig holds outbound email configuration
type MailConfig struct {
	SMTPHost   string `yaml:"smtp_host" toml:"smtp_host"`
	SMTPPort   int    `yaml:"smtp_port" toml:"smtp_port"`
	Username   string `yaml:"username" toml:"username"`
	Password   string `yaml:"password" toml:"password"`
	From       string `yaml:"from" toml:"from"`
	AdminEmail string `yaml:"admin_email" toml:"admin_email"` // defaults to From; empty disables /api/contact
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// DefaultPath returns the config file location: $SUPPORT_GATEWAY_CONFIG, or
// gateway.yaml under the XDG config directory.
func DefaultPath() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "support-gateway", "gateway.yaml")
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, anything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expandedData, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
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

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = 24 * time.Hour
	}
	if c.Chat.JoinPolicy == "" {
		c.Chat.JoinPolicy = "open"
	}
	if c.Chat.RateLimit == 0 {
		c.Chat.RateLimit = 5
	}
	if c.Chat.Burst == 0 {
		c.Chat.Burst = 10
	}
	if c.Chat.SendBuffer == 0 {
		c.Chat.SendBuffer = 128
	}
	if c.Chat.MaxFrameSize == 0 {
		c.Chat.MaxFrameSize = 64 * 1024
	}
	if c.Chat.HistoryLimit == 0 {
		c.Chat.HistoryLimit = 200
	}
	if c.Chat.DedupeTTL == 0 {
		c.Chat.DedupeTTL = 10 * time.Minute
	}
	if c.Chat.DedupeSize == 0 {
		c.Chat.DedupeSize = 10000
	}
	if c.Jobs.Concurrency == 0 {
		c.Jobs.Concurrency = 4
	}
	if c.Mail.AdminEmail == "" {
		c.Mail.AdminEmail = c.Mail.From
	}
	if c.Mail.SMTPPort == 0 {
		c.Mail.SMTPPort = 587
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.Database.Driver)
	}

	if len(c.Auth.JWTSecret) < minSecretLength {
		return fmt.Errorf("auth.jwt_secret must be at least %d bytes", minSecretLength)
	}

	switch c.Chat.JoinPolicy {
	case "open", "participant":
	default:
		return fmt.Errorf("chat.join_policy must be open or participant, got %q", c.Chat.JoinPolicy)
	}
	if c.Chat.RateLimit < 0 || c.Chat.Burst < 0 {
		return fmt.Errorf("chat.rate_limit and chat.burst must not be negative")
	}
	if c.Chat.SendBuffer < 0 || c.Chat.MaxFrameSize < 0 || c.Chat.HistoryLimit < 0 || c.Chat.DedupeSize < 0 {
		return fmt.Errorf("chat sizes must not be negative")
	}

	if c.Mail.SMTPHost != "" && c.Mail.From == "" {
		return fmt.Errorf("mail.from is required when mail.smtp_host is set")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Auth.TokenTTLRaw != "" {
		cfg.Auth.TokenTTL, err = time.ParseDuration(cfg.Auth.TokenTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing token_ttl %q: %w", cfg.Auth.TokenTTLRaw, err)
		}
	}

	if cfg.Chat.DedupeTTLRaw != "" {
		cfg.Chat.DedupeTTL, err = time.ParseDuration(cfg.Chat.DedupeTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing dedupe_ttl %q: %w", cfg.Chat.DedupeTTLRaw, err)
		}
	}

	return nil
}
