package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/quantiva/quantiva-go/internal/api"
	"github.com/quantiva/quantiva-go/internal/broadcast"
	"github.com/quantiva/quantiva-go/internal/config"
	"github.com/quantiva/quantiva-go/internal/session"
	"github.com/quantiva/quantiva-go/internal/tokenstore"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
)

// resolvedCfg holds the effective configuration loaded by PersistentPreRunE.
// It is available to all subcommands after the root pre-run phase completes.
var resolvedCfg *config.Config

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "quantiva-go",
		Short:   "Quantiva session client",
		Long:    "CLI client and session keeper for the Quantiva construction-project platform.",
		Version: version,
		// Silence Cobra's default error/usage printing — we handle it ourselves.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load(flagConfigPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			resolvedCfg = cfg

			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newWhoamiCmd())
	cmd.AddCommand(newRefreshCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newAgentCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// buildLogger creates an slog.Logger configured by the resolved config and
// CLI flags. Config-file log level provides the baseline; --verbose and
// --quiet override it because CLI flags always win.
func buildLogger() *slog.Logger {
	level := slog.LevelInfo

	if resolvedCfg != nil {
		switch resolvedCfg.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}

	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

// sessionEnv bundles a wired session manager with the resources it owns.
// Commands call close when done; close never clears the stored session.
type sessionEnv struct {
	manager *session.Manager
	close   func()
}

// newSessionEnv wires store, broadcaster, API client, and manager from the
// resolved config.
func newSessionEnv(logger *slog.Logger) (*sessionEnv, error) {
	cfg := resolvedCfg

	timeout, err := cfg.APITimeout()
	if err != nil {
		return nil, err
	}

	client := api.NewClient(cfg.API.BaseURL, &http.Client{Timeout: timeout}, logger)

	store, closeStore, err := newStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	bc, closeBroadcast, err := newBroadcaster(cfg, logger)
	if err != nil {
		closeStore()
		return nil, err
	}

	threshold, err := cfg.RefreshThreshold()
	if err != nil {
		closeBroadcast()
		closeStore()

		return nil, err
	}

	manager := session.NewManager(client, store, bc, session.Config{
		RefreshThreshold: threshold,
	}, logger)

	return &sessionEnv{
		manager: manager,
		close: func() {
			manager.Close()
			closeBroadcast()
			closeStore()
		},
	}, nil
}

// newStore builds the configured credential store. The returned close func
// is a no-op for the file backend.
func newStore(cfg *config.Config, logger *slog.Logger) (tokenstore.Store, func(), error) {
	path, err := cfg.StorePath()
	if err != nil {
		return nil, nil, err
	}

	if cfg.Store.Backend == config.StoreSQLite {
		store, err := tokenstore.NewSQLiteStore(path, logger)
		if err != nil {
			return nil, nil, err
		}

		return store, func() { _ = store.Close() }, nil
	}

	return tokenstore.NewFileStore(path, logger), func() {}, nil
}

// newBroadcaster builds the configured cross-process transport. Returns a
// nil broadcaster for the "off" transport.
func newBroadcaster(cfg *config.Config, logger *slog.Logger) (broadcast.Broadcaster, func(), error) {
	switch cfg.Broadcast.Transport {
	case config.BroadcastRedis:
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Broadcast.RedisAddr})

		ch, err := broadcast.NewRedisChannel(context.Background(), rdb, cfg.Broadcast.Channel, logger)
		if err != nil {
			_ = rdb.Close()
			return nil, nil, err
		}

		return ch, func() {
			_ = ch.Close()
			_ = rdb.Close()
		}, nil

	case config.BroadcastOff:
		return nil, func() {}, nil

	default:
		dir, err := cfg.BroadcastDir()
		if err != nil {
			return nil, nil, err
		}

		ch, err := broadcast.NewFileChannel(dir, cfg.Broadcast.Channel, logger)
		if err != nil {
			return nil, nil, err
		}

		return ch, func() { _ = ch.Close() }, nil
	}
}
