package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quantiva/quantiva-go/internal/api"
	"github.com/quantiva/quantiva-go/internal/config"
	"github.com/quantiva/quantiva-go/internal/session"
)

var (
	flagEmail      string
	flagBackupCode string
)

// twoFactorAttempts is how many wrong codes the login prompt tolerates
// before the challenge is canceled.
const twoFactorAttempts = 3

func newLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in to Quantiva",
		Long: "Sign in with email and password. Accounts with two-factor auth are\n" +
			"prompted for a code; --backup-code answers the challenge with a\n" +
			"one-time backup code instead.",
		RunE: runLogin,
	}

	cmd.Flags().StringVar(&flagEmail, "email", "", "account email (prompted if omitted)")
	cmd.Flags().StringVar(&flagBackupCode, "backup-code", "", "answer the 2FA challenge with a backup code")

	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and remove saved credentials",
		RunE:  runLogout,
	}
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Display the authenticated user",
		RunE:  runWhoami,
	}
}

func newRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Force a token refresh",
		RunE:  runRefresh,
	}
}

func runLogin(_ *cobra.Command, _ []string) error {
	logger := buildLogger()
	ctx := context.Background()

	env, err := newSessionEnv(logger)
	if err != nil {
		return err
	}
	defer env.close()

	stdin := bufio.NewReader(os.Stdin)

	email := flagEmail
	if email == "" {
		if email, err = promptLine(stdin, "Email: "); err != nil {
			return err
		}
	}

	// The password comes from the environment in scripts and CI; the
	// interactive prompt is the fallback.
	password := os.Getenv(config.EnvPassword)
	if password == "" {
		if password, err = promptLine(stdin, "Password: "); err != nil {
			return err
		}
	}

	if err := env.manager.Login(ctx, email, password); err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	if snap := env.manager.Snapshot(); snap.TwoFactor != nil {
		if err := answerChallenge(ctx, env.manager, stdin); err != nil {
			return err
		}
	}

	snap := env.manager.Snapshot()
	if !snap.IsAuthenticated() {
		return errors.New("login did not establish a session")
	}

	logger.Info("login successful", "email", snap.User.Email)
	statusf("Logged in as %s.\n", snap.User.Email)

	return nil
}

// answerChallenge resolves a pending two-factor challenge, either with the
// --backup-code flag or by prompting for TOTP codes. A wrong code keeps the
// challenge pending, so the prompt retries; an empty input cancels.
func answerChallenge(ctx context.Context, manager *session.Manager, stdin *bufio.Reader) error {
	if flagBackupCode != "" {
		if err := manager.VerifyBackupCode(ctx, flagBackupCode); err != nil {
			manager.Cancel2FA()
			return fmt.Errorf("backup code rejected: %w", err)
		}

		return nil
	}

	for attempt := 1; attempt <= twoFactorAttempts; attempt++ {
		code, err := promptLine(stdin, "Two-factor code (empty to cancel): ")
		if err != nil {
			return err
		}

		if code == "" {
			manager.Cancel2FA()
			return errors.New("login canceled")
		}

		verifyErr := manager.Verify2FA(ctx, code)
		if verifyErr == nil {
			return nil
		}

		if attempt == twoFactorAttempts || api.Classify(verifyErr) == api.ClassTransient {
			manager.Cancel2FA()
			return fmt.Errorf("two-factor verification failed: %w", verifyErr)
		}

		statusf("Code rejected, try again.\n")
	}

	return nil
}

func runLogout(_ *cobra.Command, _ []string) error {
	logger := buildLogger()

	env, err := newSessionEnv(logger)
	if err != nil {
		return err
	}
	defer env.close()

	// Logout never fails: local credentials are cleared even when the
	// remote call does not go through.
	env.manager.Logout(context.Background())

	statusf("Logged out.\n")

	return nil
}

// whoamiOutput is the JSON schema for `whoami --json`.
type whoamiOutput struct {
	ID               string   `json:"id"`
	Email            string   `json:"email"`
	DisplayName      string   `json:"display_name"`
	Roles            []string `json:"roles"`
	EmailVerified    bool     `json:"email_verified"`
	TwoFactorEnabled bool     `json:"two_factor_enabled"`
}

func runWhoami(_ *cobra.Command, _ []string) error {
	logger := buildLogger()
	ctx := context.Background()

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

	if flagJSON {
		return printWhoamiJSON(snap.User)
	}

	printWhoamiText(snap.User)

	return nil
}

func printWhoamiJSON(user *api.User) error {
	out := whoamiOutput{
		ID:               user.ID,
		Email:            user.Email,
		DisplayName:      user.DisplayName,
		Roles:            user.Roles,
		EmailVerified:    user.EmailVerified,
		TwoFactorEnabled: user.TwoFactorEnabled,
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}

	return nil
}

func printWhoamiText(user *api.User) {
	fmt.Printf("User:  %s (%s)\n", user.DisplayName, user.Email)
	fmt.Printf("ID:    %s\n", user.ID)

	if len(user.Roles) > 0 {
		fmt.Printf("Roles: %s\n", strings.Join(user.Roles, ", "))
	}
}

func runRefresh(_ *cobra.Command, _ []string) error {
	logger := buildLogger()

	env, err := newSessionEnv(logger)
	if err != nil {
		return err
	}
	defer env.close()

	token, err := env.manager.RefreshToken(context.Background())
	if err != nil {
		return fmt.Errorf("refresh failed: %w", err)
	}

	if expiry := session.TokenExpiry(token); !expiry.IsZero() {
		statusf("Token refreshed, valid until %s.\n", formatTime(expiry))
	} else {
		statusf("Token refreshed.\n")
	}

	return nil
}

// promptLine prints msg to stderr and reads one trimmed line from r.
// Prompts go to stderr so stdout stays clean for --json output.
func promptLine(r *bufio.Reader, msg string) (string, error) {
	fmt.Fprint(os.Stderr, msg)

	line, err := r.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading input: %w", err)
	}

	return strings.TrimSpace(line), nil
}
