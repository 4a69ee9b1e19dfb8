// Package config implements TOML configuration loading, validation, and
// platform path resolution for quantiva-go. Overrides layer as
// defaults -> config file -> environment -> CLI flags.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Backend and transport selector values.
const (
	StoreFile   = "file"
	StoreSQLite = "sqlite"

	BroadcastFile  = "file"
	BroadcastRedis = "redis"
	BroadcastOff   = "off"
)

// Defaults. These are the "layer 0" of the override chain and work without
// any config file against a local development API.
const (
	defaultBaseURL          = "https://api.quantiva.app/v1"
	defaultTimeout          = 30 * time.Second
	defaultStoreBackend     = StoreFile
	defaultBroadcast        = BroadcastFile
	defaultChannel          = "quantiva-session"
	defaultRefreshThreshold = 5 * time.Minute
	defaultLogLevel         = "info"
)

// Config is the top-level configuration parsed from a TOML file.
type Config struct {
	API       APIConfig       `toml:"api"`
	Store     StoreConfig     `toml:"store"`
	Broadcast BroadcastConfig `toml:"broadcast"`
	Session   SessionConfig   `toml:"session"`
	LogLevel  string          `toml:"log_level"`
}

// APIConfig locates the Quantiva auth API.
type APIConfig struct {
	BaseURL string `toml:"base_url"`
	Timeout string `toml:"timeout"`
}

// StoreConfig selects the credential store backend. Path defaults to a
// per-user state directory when empty.
type StoreConfig struct {
	Backend string `toml:"backend"` // "file" or "sqlite"
	Path    string `toml:"path"`
}

// BroadcastConfig selects how refreshed tokens propagate to other
// processes.
type BroadcastConfig struct {
	Transport string `toml:"transport"` // "file", "redis", or "off"
	Dir       string `toml:"dir"`       // file transport: shared channel directory
	Channel   string `toml:"channel"`
	RedisAddr string `toml:"redis_addr"` // redis transport: host:port
}

// SessionConfig tunes the refresh lifecycle.
type SessionConfig struct {
	RefreshThreshold string `toml:"refresh_threshold"`
}

// Environment variable names for overrides.
const (
	EnvConfig    = "QUANTIVA_CONFIG"
	EnvBaseURL   = "QUANTIVA_API_BASE_URL"
	EnvStorePath = "QUANTIVA_STORE_PATH"
	EnvPassword  = "QUANTIVA_PASSWORD" //nolint:gosec // env var name, not a credential
)

// DefaultConfig returns a Config populated with all default values. Used as
// the starting point for TOML decoding so unset fields retain defaults.
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			BaseURL: defaultBaseURL,
			Timeout: defaultTimeout.String(),
		},
		Store: StoreConfig{
			Backend: defaultStoreBackend,
		},
		Broadcast: BroadcastConfig{
			Transport: defaultBroadcast,
			Channel:   defaultChannel,
		},
		Session: SessionConfig{
			RefreshThreshold: defaultRefreshThreshold.String(),
		},
		LogLevel: defaultLogLevel,
	}
}

// Load resolves the effective configuration. path comes from --config; when
// empty, QUANTIVA_CONFIG and then the platform default path are tried. A
// missing config file is not an error — defaults apply.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = os.Getenv(EnvConfig)
	}

	if path == "" {
		var err error
		if path, err = DefaultPath(); err != nil {
			return nil, err
		}
	}

	meta, err := toml.DecodeFile(path, cfg)

	switch {
	case errors.Is(err, fs.ErrNotExist):
		// No config file — defaults plus env overrides.
	case err != nil:
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	default:
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("config: unknown key %q in %s", undecoded[0].String(), path)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyEnvOverrides layers environment variables over the file values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvBaseURL); v != "" {
		cfg.API.BaseURL = v
	}

	if v := os.Getenv(EnvStorePath); v != "" {
		cfg.Store.Path = v
	}
}

func (c *Config) validate() error {
	if c.API.BaseURL == "" {
		return errors.New("config: api.base_url must not be empty")
	}

	switch c.Store.Backend {
	case StoreFile, StoreSQLite:
	default:
		return fmt.Errorf("config: unknown store backend %q (want %q or %q)",
			c.Store.Backend, StoreFile, StoreSQLite)
	}

	switch c.Broadcast.Transport {
	case BroadcastFile, BroadcastRedis, BroadcastOff:
	default:
		return fmt.Errorf("config: unknown broadcast transport %q", c.Broadcast.Transport)
	}

	if c.Broadcast.Transport == BroadcastRedis && c.Broadcast.RedisAddr == "" {
		return errors.New("config: broadcast.redis_addr required for the redis transport")
	}

	if _, err := c.APITimeout(); err != nil {
		return err
	}

	if _, err := c.RefreshThreshold(); err != nil {
		return err
	}

	return nil
}

// APITimeout parses the api.timeout duration string.
func (c *Config) APITimeout() (time.Duration, error) {
	d, err := time.ParseDuration(c.API.Timeout)
	if err != nil {
		return 0, fmt.Errorf("config: invalid api.timeout: %w", err)
	}

	return d, nil
}

// RefreshThreshold parses the session.refresh_threshold duration string.
func (c *Config) RefreshThreshold() (time.Duration, error) {
	d, err := time.ParseDuration(c.Session.RefreshThreshold)
	if err != nil {
		return 0, fmt.Errorf("config: invalid session.refresh_threshold: %w", err)
	}

	return d, nil
}
