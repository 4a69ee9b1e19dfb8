package config

import (
	"fmt"
	"io"
)

// RenderEffective writes the resolved configuration as a human-readable
// annotated summary to w. This powers the "config show" command, giving
// users visibility into the effective values after all override layers
// (defaults -> file -> env -> CLI) have been applied.
func RenderEffective(cfg *Config, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration\n\n")

	renderAPISection(ew, &cfg.API)
	renderStoreSection(ew, cfg)
	renderBroadcastSection(ew, &cfg.Broadcast)
	renderSessionSection(ew, &cfg.Session)

	ew.printf("log_level = %q\n", cfg.LogLevel)

	return ew.err
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops, so callers can chain
// printf calls without checking each one individually.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

func renderAPISection(ew *errWriter, a *APIConfig) {
	ew.printf("[api]\n")
	ew.printf("  base_url = %q\n", a.BaseURL)
	ew.printf("  timeout  = %q\n", a.Timeout)
	ew.printf("\n")
}

func renderStoreSection(ew *errWriter, cfg *Config) {
	ew.printf("[store]\n")
	ew.printf("  backend = %q\n", cfg.Store.Backend)

	// Show the resolved location, not just the raw (possibly empty) setting.
	if path, err := cfg.StorePath(); err == nil {
		ew.printf("  path    = %q\n", path)
	}

	ew.printf("\n")
}

func renderBroadcastSection(ew *errWriter, b *BroadcastConfig) {
	ew.printf("[broadcast]\n")
	ew.printf("  transport = %q\n", b.Transport)

	if b.Transport == BroadcastFile && b.Dir != "" {
		ew.printf("  dir       = %q\n", b.Dir)
	}

	if b.Transport != BroadcastOff {
		ew.printf("  channel   = %q\n", b.Channel)
	}

	if b.Transport == BroadcastRedis {
		ew.printf("  redis_addr = %q\n", b.RedisAddr)
	}

	ew.printf("\n")
}

func renderSessionSection(ew *errWriter, s *SessionConfig) {
	ew.printf("[session]\n")
	ew.printf("  refresh_threshold = %q\n", s.RefreshThreshold)
	ew.printf("\n")
}
