// ABOUTME: Configuration loading and parsing for dispatch-gateway
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

// DefaultClasses is the class allow-list used when the config file names none.
var DefaultClasses = []string{"58.0.6", "58.1.1", "58.-1.23", "58.0.8", "58.1.3", "58.-1.25"}

const (
	defaultHTTPAddr            = "0.0.0.0:5000"
	defaultPingInterval        = 30 * time.Second
	defaultPongTimeout         = 60 * time.Second
	defaultWriteTimeout        = 10 * time.Second
	defaultLogCapacity         = 100
	defaultCorrelationLookback = 20
	defaultTokenTTL            = 24 * time.Hour
	minJWTSecretLength         = 32
)

// Config represents the complete dispatch-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth"`
	Classes   []string        `yaml:"classes" toml:"classes"`
	Agents    AgentsConfig    `yaml:"agents" toml:"agents"`
	Activity  ActivityConfig  `yaml:"activity" toml:"activity"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	HTTPS     bool   `yaml:"https" toml:"https"` // serve on :443 with tailnet certs
}

// DatabaseConfig holds the operator database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// AuthConfig holds operator authentication configuration.
// An empty JWTSecret disables operator auth entirely.
type AuthConfig struct {
	JWTSecret     string        `yaml:"jwt_secret" toml:"jwt_secret"`
	TokenTTL      time.Duration `yaml:"-" toml:"-"`
	LoginAttempts int           `yaml:"login_attempts" toml:"login_attempts"` // per IP per LoginWindow
	LoginWindow   time.Duration `yaml:"-" toml:"-"`

	TokenTTLRaw    string `yaml:"token_ttl" toml:"token_ttl"`
	LoginWindowRaw string `yaml:"login_window" toml:"login_window"`
}

// AgentsConfig holds agent transport timing configuration
type AgentsConfig struct {
	PingInterval    time.Duration `yaml:"-" toml:"-"`
	PongTimeout     time.Duration `yaml:"-" toml:"-"`
	WriteTimeout    time.Duration `yaml:"-" toml:"-"`
	LongPollTimeout time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	PingIntervalRaw    string `yaml:"ping_interval" toml:"ping_interval"`
	PongTimeoutRaw     string `yaml:"pong_timeout" toml:"pong_timeout"`
	WriteTimeoutRaw    string `yaml:"write_timeout" toml:"write_timeout"`
	LongPollTimeoutRaw string `yaml:"long_poll_timeout" toml:"long_poll_timeout"`
}

// ActivityConfig sizes the activity log
type ActivityConfig struct {
	Capacity            int `yaml:"capacity" toml:"capacity"`
	CorrelationLookback int `yaml:"correlation_lookback" toml:"correlation_lookback"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return Parse(data, strings.EqualFold(filepath.Ext(path), ".toml"))
}

// Parse decodes raw configuration bytes, applies defaults and validates the result.
func Parse(data []byte, isTOML bool) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if isTOML {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
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

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" && !c.Tailscale.Enabled {
		c.Server.HTTPAddr = defaultHTTPAddr
	}
	if len(c.Classes) == 0 {
		c.Classes = append([]string(nil), DefaultClasses...)
	}
	if c.Agents.PingInterval == 0 {
		c.Agents.PingInterval = defaultPingInterval
	}
	if c.Agents.PongTimeout == 0 {
		c.Agents.PongTimeout = defaultPongTimeout
	}
	if c.Agents.WriteTimeout == 0 {
		c.Agents.WriteTimeout = defaultWriteTimeout
	}
	if c.Activity.Capacity == 0 {
		c.Activity.Capacity = defaultLogCapacity
	}
	if c.Activity.CorrelationLookback == 0 {
		c.Activity.CorrelationLookback = defaultCorrelationLookback
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = defaultTokenTTL
	}
	if c.Auth.LoginAttempts == 0 {
		c.Auth.LoginAttempts = 100
	}
	if c.Auth.LoginWindow == 0 {
		c.Auth.LoginWindow = 15 * time.Minute
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Auth.JWTSecret != "" && c.Database.Path == "" {
		return fmt.Errorf("database.path is required when auth.jwt_secret is set")
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < minJWTSecretLength {
		return fmt.Errorf("auth.jwt_secret must be at least %d bytes", minJWTSecretLength)
	}

	seen := make(map[string]bool, len(c.Classes))
	for _, class := range c.Classes {
		if strings.TrimSpace(class) == "" {
			return fmt.Errorf("classes must not contain empty entries")
		}
		if seen[class] {
			return fmt.Errorf("duplicate class %q", class)
		}
		seen[class] = true
	}

	if c.Agents.PongTimeout <= c.Agents.PingInterval {
		return fmt.Errorf("agents.pong_timeout (%s) must exceed agents.ping_interval (%s)",
			c.Agents.PongTimeout, c.Agents.PingInterval)
	}

	if c.Activity.Capacity < 0 || c.Activity.CorrelationLookback < 0 {
		return fmt.Errorf("activity sizes must not be negative")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"ping_interval", cfg.Agents.PingIntervalRaw, &cfg.Agents.PingInterval},
		{"pong_timeout", cfg.Agents.PongTimeoutRaw, &cfg.Agents.PongTimeout},
		{"write_timeout", cfg.Agents.WriteTimeoutRaw, &cfg.Agents.WriteTimeout},
		{"long_poll_timeout", cfg.Agents.LongPollTimeoutRaw, &cfg.Agents.LongPollTimeout},
		{"token_ttl", cfg.Auth.TokenTTLRaw, &cfg.Auth.TokenTTL},
		{"login_window", cfg.Auth.LoginWindowRaw, &cfg.Auth.LoginWindow},
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
