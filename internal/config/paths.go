package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const appDir = "quantiva"

// DefaultPath returns the platform default config file location,
// e.g. ~/.config/quantiva/config.toml on Linux.
func DefaultPath() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("config: resolving user config dir: %w", err)
	}

	return filepath.Join(base, appDir, "config.toml"), nil
}

// stateDir returns the per-user state directory, honoring XDG_STATE_HOME.
func stateDir() (string, error) {
	if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
		return filepath.Join(xdg, appDir), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: resolving home dir: %w", err)
	}

	return filepath.Join(home, ".local", "state", appDir), nil
}

// StorePath resolves the credential store location for the configured
// backend, defaulting into the per-user state directory.
func (c *Config) StorePath() (string, error) {
	if c.Store.Path != "" {
		return c.Store.Path, nil
	}

	dir, err := stateDir()
	if err != nil {
		return "", err
	}

	if c.Store.Backend == StoreSQLite {
		return filepath.Join(dir, "credentials.db"), nil
	}

	return filepath.Join(dir, "credentials.json"), nil
}

// AgentPIDPath resolves the PID file location for the background agent.
func (c *Config) AgentPIDPath() (string, error) {
	dir, err := stateDir()
	if err != nil {
		return "", err
	}

	return filepath.Join(dir, "agent.pid"), nil
}

// BroadcastDir resolves the channel directory for the file transport,
// defaulting into the per-user state directory.
func (c *Config) BroadcastDir() (string, error) {
	if c.Broadcast.Dir != "" {
		return c.Broadcast.Dir, nil
	}

	dir, err := stateDir()
	if err != nil {
		return "", err
	}

	return filepath.Join(dir, "broadcast"), nil
}
