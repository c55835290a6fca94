// ABOUTME: Configuration loading and parsing for coven-groups
// ABOUTME: YAML or TOML files with env expansion, env overrides, and duration parsing

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "COVEN_GROUPS"

// EnvConfigPath names the environment variable holding the config file path.
const EnvConfigPath = "COVEN_GROUPS_CONFIG"

// Config represents the complete coven-groups configuration
type Config struct {
	Server  ServerConfig  `yaml:"server" toml:"server"`
	Auth    AuthConfig    `yaml:"auth" toml:"auth"`
	Sync    SyncConfig    `yaml:"sync" toml:"sync"`
	Logging LoggingConfig `yaml:"logging" toml:"logging"`
}

// ServerConfig holds the backend location
type ServerConfig struct {
	BaseURL        string        `yaml:"base_url" toml:"base_url" split_words:"true"`
	RequestTimeout time.Duration `yaml:"-" toml:"-" split_words:"true"`

	RequestTimeoutRaw string `yaml:"request_timeout" toml:"request_timeout" ignored:"true"`
}

// AuthConfig holds bearer token settings
type AuthConfig struct {
	Token     string `yaml:"token" toml:"token" split_words:"true"`
	TokenFile string `yaml:"token_file" toml:"token_file" split_words:"true"`
}

// SyncConfig holds the timing knobs of the sync engine
type SyncConfig struct {
	Sender       string  `yaml:"sender" toml:"sender" split_words:"true"`
	MaxRetries   int     `yaml:"max_retries" toml:"max_retries" split_words:"true"`
	RefetchRate  float64 `yaml:"refetch_rate" toml:"refetch_rate" split_words:"true"`
	RefetchBurst int     `yaml:"refetch_burst" toml:"refetch_burst" split_words:"true"`

	BackoffBase       time.Duration `yaml:"-" toml:"-" split_words:"true"`
	BackoffMax        time.Duration `yaml:"-" toml:"-" split_words:"true"`
	ChainDebounce     time.Duration `yaml:"-" toml:"-" split_words:"true"`
	SendRefetchDelay  time.Duration `yaml:"-" toml:"-" split_words:"true"`
	ReconcileSkew     time.Duration `yaml:"-" toml:"-" split_words:"true"`
	PendingStaleAfter time.Duration `yaml:"-" toml:"-" split_words:"true"`
	DedupeTTL         time.Duration `yaml:"-" toml:"-" split_words:"true"`

	// Raw string values for unmarshaling
	BackoffBaseRaw       string `yaml:"backoff_base" toml:"backoff_base" ignored:"true"`
	BackoffMaxRaw        string `yaml:"backoff_max" toml:"backoff_max" ignored:"true"`
	ChainDebounceRaw     string `yaml:"chain_debounce" toml:"chain_debounce" ignored:"true"`
	SendRefetchDelayRaw  string `yaml:"send_refetch_delay" toml:"send_refetch_delay" ignored:"true"`
	ReconcileSkewRaw     string `yaml:"reconcile_skew" toml:"reconcile_skew" ignored:"true"`
	PendingStaleAfterRaw string `yaml:"pending_stale_after" toml:"pending_stale_after" ignored:"true"`
	DedupeTTLRaw         string `yaml:"dedupe_ttl" toml:"dedupe_ttl" ignored:"true"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level" split_words:"true"`
	Format string `yaml:"format" toml:"format" split_words:"true"`
}

// Default returns a configuration with every field set to its default.
func Default() *Config {
	cfg := &Config{
		Server: ServerConfig{
			BaseURL:           "http://localhost:8000/api/v1",
			RequestTimeoutRaw: "30s",
		},
		Sync: SyncConfig{
			Sender:               "user",
			MaxRetries:           10,
			RefetchRate:          4,
			RefetchBurst:         2,
			BackoffBaseRaw:       "1s",
			BackoffMaxRaw:        "30s",
			ChainDebounceRaw:     "500ms",
			SendRefetchDelayRaw:  "1s",
			ReconcileSkewRaw:     "30s",
			PendingStaleAfterRaw: "2m",
			DedupeTTLRaw:         "10s",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
	// Defaults are known-good.
	_ = parseDurations(cfg)
	return cfg
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded, COVEN_GROUPS_*
// overrides are applied, and duration strings are parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()

	// Expand environment variables in the raw content
	expanded := expandEnvVars(string(data))

	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	return finish(cfg)
}

// LoadOrDefault loads path, falling back to defaults (plus environment
// overrides) when path is empty or the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	if path != "" {
		cfg, err := Load(path)
		if err == nil || !errors.Is(err, os.ErrNotExist) {
			return cfg, err
		}
	}
	return finish(Default())
}

func finish(cfg *Config) (*Config, error) {
	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	// Overrides go last so they win over the file; durations are parsed by envconfig.
	if err := applyEnv(cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// ResolvePath picks the config file path: the explicit flag value, then
// COVEN_GROUPS_CONFIG, then the XDG location.
func ResolvePath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	return DefaultPath()
}

// DefaultPath returns the default config file location, or "" when no home
// directory can be determined.
func DefaultPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "coven", "groups.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "coven", "groups.yaml")
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

func applyEnv(cfg *Config) error {
	sections := []struct {
		name string
		spec any
	}{
		{"SERVER", &cfg.Server},
		{"AUTH", &cfg.Auth},
		{"SYNC", &cfg.Sync},
		{"LOGGING", &cfg.Logging},
	}
	for _, s := range sections {
		if err := envconfig.Process(EnvPrefix+"_"+s.name, s.spec); err != nil {
			return fmt.Errorf("%s: %w", strings.ToLower(s.name), err)
		}
	}
	return nil
}

// Validate checks that all configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.BaseURL == "" {
		return fmt.Errorf("server.base_url is required")
	}
	u, err := url.Parse(c.Server.BaseURL)
	if err != nil {
		return fmt.Errorf("server.base_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("server.base_url must be an http or https URL, got %q", c.Server.BaseURL)
	}
	if u.Host == "" {
		return fmt.Errorf("server.base_url has no host")
	}
	if c.Server.RequestTimeout <= 0 {
		return fmt.Errorf("server.request_timeout must be positive")
	}

	if c.Sync.Sender == "" {
		return fmt.Errorf("sync.sender is required")
	}
	if c.Sync.BackoffBase <= 0 {
		return fmt.Errorf("sync.backoff_base must be positive")
	}
	if c.Sync.BackoffMax < c.Sync.BackoffBase {
		return fmt.Errorf("sync.backoff_max (%s) is below sync.backoff_base (%s)", c.Sync.BackoffMax, c.Sync.BackoffBase)
	}
	if c.Sync.MaxRetries < 0 {
		return fmt.Errorf("sync.max_retries cannot be negative")
	}
	if c.Sync.RefetchRate <= 0 {
		return fmt.Errorf("sync.refetch_rate must be positive")
	}
	if c.Sync.RefetchBurst < 1 {
		return fmt.Errorf("sync.refetch_burst must be at least 1")
	}
	if c.Sync.ChainDebounce < 0 || c.Sync.SendRefetchDelay < 0 {
		return fmt.Errorf("sync delays cannot be negative")
	}
	if c.Sync.ReconcileSkew < 0 || c.Sync.PendingStaleAfter <= 0 || c.Sync.DedupeTTL <= 0 {
		return fmt.Errorf("sync.reconcile_skew, pending_stale_after and dedupe_ttl must be positive")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not one of text, json", c.Logging.Format)
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
		{"request_timeout", cfg.Server.RequestTimeoutRaw, &cfg.Server.RequestTimeout},
		{"backoff_base", cfg.Sync.BackoffBaseRaw, &cfg.Sync.BackoffBase},
		{"backoff_max", cfg.Sync.BackoffMaxRaw, &cfg.Sync.BackoffMax},
		{"chain_debounce", cfg.Sync.ChainDebounceRaw, &cfg.Sync.ChainDebounce},
		{"send_refetch_delay", cfg.Sync.SendRefetchDelayRaw, &cfg.Sync.SendRefetchDelay},
		{"reconcile_skew", cfg.Sync.ReconcileSkewRaw, &cfg.Sync.ReconcileSkew},
		{"pending_stale_after", cfg.Sync.PendingStaleAfterRaw, &cfg.Sync.PendingStaleAfter},
		{"dedupe_ttl", cfg.Sync.DedupeTTLRaw, &cfg.Sync.DedupeTTL},
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
