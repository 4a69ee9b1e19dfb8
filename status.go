package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/quantiva/quantiva-go/internal/session"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show stored session state",
		Long: "Show the credential store contents without touching the network:\n" +
			"which tokens are present and when the access token expires.",
		RunE: runStatus,
	}
}

// statusOutput is the JSON schema for `status --json`.
type statusOutput struct {
	StoreBackend    string `json:"store_backend"`
	StorePath       string `json:"store_path"`
	HasRefreshToken bool   `json:"has_refresh_token"`
	HasAccessToken  bool   `json:"has_access_token"`
	ExpiresAt       string `json:"expires_at,omitempty"`
	Expired         bool   `json:"expired"`
	AgentRunning    bool   `json:"agent_running"`
	AgentPID        int    `json:"agent_pid,omitempty"`
}

func runStatus(_ *cobra.Command, _ []string) error {
	logger := buildLogger()

	storePath, err := resolvedCfg.StorePath()
	if err != nil {
		return err
	}

	store, closeStore, err := newStore(resolvedCfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	creds, err := store.Load(context.Background())
	if err != nil {
		return err
	}

	out := statusOutput{
		StoreBackend: resolvedCfg.Store.Backend,
		StorePath:    storePath,
	}

	if creds != nil {
		out.HasRefreshToken = creds.RefreshToken != ""
		out.HasAccessToken = creds.AccessToken != ""

		expiresAt := creds.ExpiresAt
		if expiresAt.IsZero() {
			expiresAt = session.TokenExpiry(creds.AccessToken)
		}

		if !expiresAt.IsZero() {
			out.ExpiresAt = expiresAt.Format(time.RFC3339)
			out.Expired = expiresAt.Before(time.Now())
		}
	}

	if pidPath, pidErr := resolvedCfg.AgentPIDPath(); pidErr == nil {
		out.AgentPID, out.AgentRunning = agentRunning(pidPath)
	}

	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(out)
	}

	printStatusText(out)

	return nil
}

// printStatusText renders an aligned table on a terminal and plain
// key=value lines when piped, so scripts can grep the output.
func printStatusText(out statusOutput) {
	rows := [][]string{
		{"store", fmt.Sprintf("%s (%s)", out.StoreBackend, out.StorePath)},
		{"refresh token", presence(out.HasRefreshToken)},
		{"access token", presence(out.HasAccessToken)},
	}

	if out.ExpiresAt != "" {
		expiry := out.ExpiresAt
		if out.Expired {
			expiry += " (expired)"
		}

		rows = append(rows, []string{"expires", expiry})
	}

	if out.AgentRunning {
		rows = append(rows, []string{"agent", fmt.Sprintf("running (pid %d)", out.AgentPID)})
	} else {
		rows = append(rows, []string{"agent", "not running"})
	}

	if isatty.IsTerminal(os.Stdout.Fd()) {
		printTable(os.Stdout, []string{"FIELD", "VALUE"}, rows)
		return
	}

	for _, row := range rows {
		fmt.Printf("%s=%s\n", row[0], row[1])
	}
}

func presence(present bool) string {
	if present {
		return "present"
	}

	return "absent"
}
