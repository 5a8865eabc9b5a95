package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// expandTilde expands ~ or ~/ at the start of a path to the user's home directory
func expandTilde(path string) string {
	if path == "" {
		return path
	}
	if path == "~" {
		home, _ := os.UserHomeDir()
		return home
	}
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// Config holds all configuration for the sync tool
type Config struct {
	Provider ProviderConfig `yaml:"provider"`
	Sync     SyncConfig     `yaml:"sync"`
	Store    StoreConfig    `yaml:"store"`
	Slack    SlackConfig    `yaml:"slack"`
}

// ProviderConfig holds remote business-data API settings
type ProviderConfig struct {
	BaseURL       string   `yaml:"base_url"`
	AccessToken   string   `yaml:"access_token"`    // literal token (supports ${ENV} expansion)
	TokenEnv      string   `yaml:"token_env"`       // env var holding the token (default: BIZSYNC_TOKEN)
	OwnerID       string   `yaml:"owner_id"`        // local brand/owner identifier for sync runs
	AccountFilter []string `yaml:"account_filter"`  // only sync accounts matching these glob patterns
	UserAgent     string   `yaml:"user_agent"`
}

// SyncConfig holds sync behavior settings
type SyncConfig struct {
	MaxConcurrent       int    `yaml:"max_concurrent"`        // in-flight remote calls per data type (default 5)
	LocationBatchSize   int    `yaml:"location_batch_size"`   // locations per batch (default 10)
	MaxRetries          int    `yaml:"max_retries"`           // attempts per remote call (default 3)
	RetryDelayMs        int    `yaml:"retry_delay_ms"`        // base backoff delay (default 1000)
	FetchTimeoutSecs    int    `yaml:"fetch_timeout_secs"`    // per-attempt timeout (default 30)
	MaxErrors           int    `yaml:"max_errors"`            // per-type validation error ceiling per run (default 50)
	BreakerThreshold    int    `yaml:"breaker_threshold"`     // consecutive failures before the circuit opens (default 5)
	BreakerCooldownSecs int    `yaml:"breaker_cooldown_secs"` // open-state cooldown before a half-open probe (default 60)
	PersistDelayMs      int    `yaml:"persist_delay_ms"`      // pause between store write batches (default 100)
	InsightWindowsDays  []int  `yaml:"insight_windows_days"`  // trailing windows fetched per location (default 7,30,90,365)
	KeywordMonths       int    `yaml:"keyword_months"`        // trailing months of search keywords (default 12)
	IncludeTypes        []string `yaml:"include_types"`       // only sync these data types
	ExcludeTypes        []string `yaml:"exclude_types"`       // skip these data types
	DataDir             string `yaml:"data_dir"`
}

// StoreConfig holds document store settings
type StoreConfig struct {
	Backend  string         `yaml:"backend"` // "sqlite" (default) or "postgres"
	Path     string         `yaml:"path"`    // sqlite file path (default: <data_dir>/bizsync.db)
	Postgres PostgresConfig `yaml:"postgres"`
}

// PostgresConfig holds PostgreSQL store connection settings
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"` // disable, require, verify-ca, verify-full (default: require)
}

// SlackConfig holds Slack notification settings
type SlackConfig struct {
	WebhookURL string `yaml:"webhook_url"`
	Channel    string `yaml:"channel"`
	Username   string `yaml:"username"`
	Enabled    bool   `yaml:"enabled"`
}

// LoadOptions controls configuration loading behavior.
type LoadOptions struct {
	SuppressWarnings bool
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	return LoadWithOptions(path, LoadOptions{})
}

// LoadWithOptions reads configuration from a YAML file with options.
func LoadWithOptions(path string, opts LoadOptions) (*Config, error) {
	// Check file permissions before reading (warns if insecure)
	if warning := checkFilePermissions(path); warning != "" && !opts.SuppressWarnings {
		fmt.Fprint(os.Stderr, warning)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return LoadBytes(data)
}

// LoadBytes reads configuration from YAML bytes.
func LoadBytes(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Default returns a config with all defaults applied and no provider set.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// DefaultDataDir returns the default data directory for state storage.
func DefaultDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".bizsync")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", err
	}
	return dir, nil
}

func (c *Config) applyDefaults() {
	if c.Provider.TokenEnv == "" {
		c.Provider.TokenEnv = "BIZSYNC_TOKEN"
	}
	if c.Provider.UserAgent == "" {
		c.Provider.UserAgent = "bizsync"
	}

	if c.Sync.MaxConcurrent <= 0 {
		c.Sync.MaxConcurrent = 5
	}
	if c.Sync.LocationBatchSize <= 0 {
		c.Sync.LocationBatchSize = 10
	}
	if c.Sync.MaxRetries <= 0 {
		c.Sync.MaxRetries = 3
	}
	if c.Sync.RetryDelayMs <= 0 {
		c.Sync.RetryDelayMs = 1000
	}
	if c.Sync.FetchTimeoutSecs <= 0 {
		c.Sync.FetchTimeoutSecs = 30
	}
	if c.Sync.MaxErrors <= 0 {
		c.Sync.MaxErrors = 50
	}
	if c.Sync.BreakerThreshold <= 0 {
		c.Sync.BreakerThreshold = 5
	}
	if c.Sync.BreakerCooldownSecs <= 0 {
		c.Sync.BreakerCooldownSecs = 60
	}
	if c.Sync.PersistDelayMs < 0 {
		c.Sync.PersistDelayMs = 0
	} else if c.Sync.PersistDelayMs == 0 {
		c.Sync.PersistDelayMs = 100
	}
	if len(c.Sync.InsightWindowsDays) == 0 {
		c.Sync.InsightWindowsDays = []int{7, 30, 90, 365}
	}
	if c.Sync.KeywordMonths <= 0 {
		c.Sync.KeywordMonths = 12
	}
	if c.Sync.DataDir == "" {
		if dir, err := DefaultDataDir(); err == nil {
			c.Sync.DataDir = dir
		} else {
			c.Sync.DataDir = ".bizsync"
		}
	}
	c.Sync.DataDir = expandTilde(c.Sync.DataDir)

	if c.Store.Backend == "" {
		c.Store.Backend = "sqlite"
	}
	if c.Store.Backend == "sqlite" && c.Store.Path == "" {
		c.Store.Path = filepath.Join(c.Sync.DataDir, "bizsync.db")
	}
	c.Store.Path = expandTilde(c.Store.Path)
	if c.Store.Backend == "postgres" {
		if c.Store.Postgres.Port == 0 {
			c.Store.Postgres.Port = 5432
		}
		if c.Store.Postgres.SSLMode == "" {
			c.Store.Postgres.SSLMode = "require"
		}
	}
}

func (c *Config) validate() error {
	if c.Provider.BaseURL == "" {
		return fmt.Errorf("missing required field provider.base_url")
	}
	if !strings.HasPrefix(c.Provider.BaseURL, "http://") && !strings.HasPrefix(c.Provider.BaseURL, "https://") {
		return fmt.Errorf("invalid value for provider.base_url: %q (must be http(s) URL)", c.Provider.BaseURL)
	}

	switch c.Store.Backend {
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("missing required field store.path for sqlite backend")
		}
	case "postgres":
		if c.Store.Postgres.Host == "" {
			return fmt.Errorf("missing required field store.postgres.host")
		}
		if c.Store.Postgres.Database == "" {
			return fmt.Errorf("missing required field store.postgres.database")
		}
	default:
		return fmt.Errorf("invalid value for store.backend: %q (valid: sqlite, postgres)", c.Store.Backend)
	}

	seen := map[string]bool{"reviews": true, "posts": true, "insights": true, "searchkeywords": true}
	for _, t := range append(append([]string{}, c.Sync.IncludeTypes...), c.Sync.ExcludeTypes...) {
		if !seen[strings.ToLower(t)] {
			return fmt.Errorf("invalid value for sync data type: %q", t)
		}
	}

	for _, d := range c.Sync.InsightWindowsDays {
		if d <= 0 {
			return fmt.Errorf("invalid value for sync.insight_windows_days: %d", d)
		}
	}

	return nil
}

// DataTypeEnabled reports whether a data type passes the include/exclude filters.
func (c *Config) DataTypeEnabled(name string) bool {
	name = strings.ToLower(name)
	if len(c.Sync.IncludeTypes) > 0 {
		found := false
		for _, t := range c.Sync.IncludeTypes {
			if strings.ToLower(t) == name {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for _, t := range c.Sync.ExcludeTypes {
		if strings.ToLower(t) == name {
			return false
		}
	}
	return true
}
