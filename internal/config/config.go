// ABOUTME: Configuration loading for tutor-gateway from YAML or TOML plus environment overrides
// ABOUTME: Expands ${VAR} references, overlays env-tagged fields, parses durations and validates

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v6"
	"gopkg.in/yaml.v3"
)

// ErrTopicNotConfigured is returned when no assistant id is configured for a topic
var ErrTopicNotConfigured = errors.New("assistant not configured for topic")

// Config represents the complete tutor-gateway configuration
type Config struct {
	Server      ServerConfig      `yaml:"server" toml:"server"`
	Tailscale   TailscaleConfig   `yaml:"tailscale" toml:"tailscale"`
	Database    DatabaseConfig    `yaml:"database" toml:"database"`
	OpenAI      OpenAIConfig      `yaml:"openai" toml:"openai"`
	Assistants  AssistantsConfig  `yaml:"assistants" toml:"assistants"`
	Bootstrap   BootstrapConfig   `yaml:"bootstrap" toml:"bootstrap"`
	Auth        AuthConfig        `yaml:"auth" toml:"auth"`
	Idempotency IdempotencyConfig `yaml:"idempotency" toml:"idempotency"`
	Logging     LoggingConfig     `yaml:"logging" toml:"logging"`
}

// ServerConfig holds the HTTP listener settings
type ServerConfig struct {
	HTTPAddr       string        `yaml:"http_addr" toml:"http_addr" env:"TUTOR_HTTP_ADDR"`
	AllowedOrigins []string      `yaml:"allowed_origins" toml:"allowed_origins" env:"TUTOR_ALLOWED_ORIGINS" envSeparator:","`
	RequestTimeout time.Duration `yaml:"-" toml:"-"`

	// Raw string value for unmarshaling
	RequestTimeoutRaw string `yaml:"request_timeout" toml:"request_timeout" env:"TUTOR_REQUEST_TIMEOUT"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key" env:"TS_AUTHKEY"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	Funnel    bool   `yaml:"funnel" toml:"funnel"`
}

// DatabaseConfig selects the transcript store
type DatabaseConfig struct {
	// Driver is one of sqlite, postgres, mongo
	Driver string `yaml:"driver" toml:"driver" env:"TUTOR_DB_DRIVER"`
	// DSN is a file path for sqlite or a connection string otherwise
	DSN string `yaml:"dsn" toml:"dsn" env:"TUTOR_DB_DSN"`
	// Name is the Mongo database name
	Name string `yaml:"name" toml:"name" env:"TUTOR_DB_NAME"`
}

// OpenAIConfig holds upstream API credentials
type OpenAIConfig struct {
	APIKey       string `yaml:"api_key" toml:"api_key" env:"OPENAI_API_KEY"`
	BaseURL      string `yaml:"base_url" toml:"base_url" env:"OPENAI_BASE_URL"`
	Organization string `yaml:"organization" toml:"organization" env:"OPENAI_ORG_ID"`
}

// AssistantsConfig maps topics to upstream assistant ids. Topics missing here
// fall back to the ASSISTANT{TOPIC}_ID environment variable.
type AssistantsConfig struct {
	Topics map[string]string `yaml:"topics" toml:"topics"`
}

// BootstrapConfig controls the hidden opening exchange
type BootstrapConfig struct {
	Sentinel        string        `yaml:"sentinel" toml:"sentinel"`
	Auto            bool          `yaml:"auto" toml:"auto"`
	MaxPollAttempts int           `yaml:"max_poll_attempts" toml:"max_poll_attempts"`
	PollInterval    time.Duration `yaml:"-" toml:"-"`
	PollIntervalRaw string        `yaml:"poll_interval" toml:"poll_interval"`
}

// AuthConfig enables bearer token checks when JWTSecret is set
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret" env:"TUTOR_JWT_SECRET"`
	// Audience is the required "aud" claim; empty disables the check
	Audience string `yaml:"audience" toml:"audience" env:"TUTOR_JWT_AUDIENCE"`
}

// IdempotencyConfig bounds the Idempotency-Key replay window
type IdempotencyConfig struct {
	TTL     time.Duration `yaml:"-" toml:"-"`
	TTLRaw  string        `yaml:"ttl" toml:"ttl"`
	MaxKeys int           `yaml:"max_keys" toml:"max_keys"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level" env:"TUTOR_LOG_LEVEL"`
	Format string `yaml:"format" toml:"format" env:"TUTOR_LOG_FORMAT"`
}

// Default returns a configuration with every optional field populated
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPAddr:          ":8080",
			RequestTimeoutRaw: "30s",
		},
		Tailscale: TailscaleConfig{Hostname: "tutor-gateway"},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "data/tutor.db",
		},
		Bootstrap: BootstrapConfig{
			Sentinel:        "Hi",
			Auto:            true,
			MaxPollAttempts: 30,
			PollIntervalRaw: "1s",
		},
		Auth: AuthConfig{Audience: "authenticated"},
		Idempotency: IdempotencyConfig{
			TTLRaw:  "10m",
			MaxKeys: 10000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds a Config from defaults, the file at path (YAML, or TOML when the
// extension is .toml) and environment overrides, then validates it.
// An empty path or a missing file yields an environment-only configuration.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("reading config file: %w", err)
		default:
			if err := decode(path, expandEnvVars(string(data)), cfg); err != nil {
				return nil, fmt.Errorf("parsing config file: %w", err)
			}
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func decode(path, data string, cfg *Config) error {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		_, err := toml.Decode(data, cfg)
		return err
	}
	return yaml.Unmarshal([]byte(data), cfg)
}

var envRef = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with environment values; unset variables expand to "".
func expandEnvVars(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envRef.FindStringSubmatch(match)[1])
	})
}

// Validate checks required fields and returns the first failure
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	switch c.Database.Driver {
	case "sqlite", "postgres", "mongo":
	default:
		return fmt.Errorf("database.driver must be sqlite, postgres or mongo, got %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	if c.OpenAI.APIKey == "" {
		return fmt.Errorf("openai.api_key is required (or set OPENAI_API_KEY)")
	}

	if c.Bootstrap.Sentinel == "" {
		return fmt.Errorf("bootstrap.sentinel must not be empty")
	}
	if c.Bootstrap.MaxPollAttempts <= 0 {
		return fmt.Errorf("bootstrap.max_poll_attempts must be positive")
	}

	return nil
}

// AssistantID resolves the upstream assistant for topic: the assistants.topics
// map first, then the ASSISTANT{TOPIC}_ID environment variable.
func (c *Config) AssistantID(topic string) (string, error) {
	if id := c.Assistants.Topics[topic]; id != "" {
		return id, nil
	}
	if id := os.Getenv(AssistantEnvVar(topic)); id != "" {
		return id, nil
	}
	return "", fmt.Errorf("%w: %s", ErrTopicNotConfigured, topic)
}

// AssistantEnvVar names the environment variable holding topic's assistant id
func AssistantEnvVar(topic string) string {
	return "ASSISTANT" + strings.ToUpper(topic) + "_ID"
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"server.request_timeout", cfg.Server.RequestTimeoutRaw, &cfg.Server.RequestTimeout},
		{"bootstrap.poll_interval", cfg.Bootstrap.PollIntervalRaw, &cfg.Bootstrap.PollInterval},
		{"idempotency.ttl", cfg.Idempotency.TTLRaw, &cfg.Idempotency.TTL},
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
