package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/quantiva/quantiva-go/internal/session"
)

func newAgentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "agent",
		Short: "Keep the session fresh in the background",
		Long: "Restore the stored session and keep it alive: the access token is\n" +
			"refreshed before it expires and every refresh is broadcast so other\n" +
			"quantiva-go processes adopt the new token without refreshing again.\n" +
			"Runs until interrupted.",
		RunE: runAgent,
	}
}

func runAgent(_ *cobra.Command, _ []string) error {
	logger := buildLogger()
	ctx := shutdownContext(context.Background(), logger)

	pidPath, err := resolvedCfg.AgentPIDPath()
	if err != nil {
		return err
	}

	cleanupPID, err := writePIDFile(pidPath)
	if err != nil {
		return err
	}
	defer cleanupPID()

	env, err := newSessionEnv(logger)
	if err != nil {
		return err
	}
	defer env.close()

	if err := env.manager.Restore(ctx); err != nil {
		return err
	}

	snap := env.manager.Snapshot()

	if !snap.IsAuthenticated() {
		if snap.SessionExpired {
			return errors.New("session expired — run 'quantiva-go login' again")
		}

		return errors.New("not logged in — run 'quantiva-go login' first")
	}

	logger.Info("agent running", "user", snap.User.Email)
	statusf("Keeping session fresh for %s. Press Ctrl-C to stop.\n", snap.User.Email)

	threshold, err := resolvedCfg.RefreshThreshold()
	if err != nil {
		return err
	}

	// A token already inside the refresh window armed no timer during
	// restore. Refresh once now so the keeper starts with a full lifetime
	// and a pending timer.
	if needsImmediateRefresh(session.TokenExpiry(env.manager.AccessToken()), threshold) {
		if _, err := env.manager.RefreshToken(ctx); err != nil {
			if env.manager.Snapshot().SessionExpired {
				return errors.New("session expired — run 'quantiva-go login' again")
			}

			logger.Warn("initial refresh failed", slog.String("error", err.Error()))
		}
	}

	// The scheduler does the work from here; the agent just waits for a
	// shutdown signal.
	<-ctx.Done()

	statusf("Shutting down.\n")

	return nil
}

// needsImmediateRefresh reports whether the access token is already inside
// the refresh window (or has no readable expiry), meaning the scheduler
// armed no timer for it.
func needsImmediateRefresh(expiry time.Time, threshold time.Duration) bool {
	return expiry.IsZero() || time.Until(expiry) <= threshold
}
