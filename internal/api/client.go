package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const userAgent = "quantiva-go/0.1"

// requestTimeout bounds a single attempt so a hung connection cannot stall
// the session layer's retry loop indefinitely.
const requestTimeout = 15 * time.Second

// Client is an HTTP client for the Quantiva auth API. It handles request
// construction, JSON codec work, and error classification. Each method is
// a single network attempt — no internal retry.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger

	// timeout is the per-attempt deadline. Tests shorten it.
	timeout time.Duration
}

// NewClient creates an auth API client.
// baseURL is typically "https://api.quantiva.example/v1".
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
		timeout:    requestTimeout,
	}
}

// do executes one request. A non-nil in is JSON-encoded as the body; a
// non-nil out receives the decoded JSON response. token, when set, is sent
// as a Bearer credential. Non-2xx responses become *APIError.
func (c *Client) do(ctx context.Context, method, path, token string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader

	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("api: encoding request: %w", err)
		}

		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("api: creating request: %w", err)
	}

	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("api: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    readErrorMessage(resp.Body),
			Err:        classifyStatus(resp.StatusCode),
		}
	}

	c.logger.Debug("request succeeded",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
	)

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("api: decoding %s response: %w", path, err)
	}

	return nil
}

// errorMessageLimit caps how much of an error body is retained.
const errorMessageLimit = 4096

// readErrorMessage extracts the server's error message from a failure body.
// Accepts {"error": "..."} or {"message": "..."}; falls back to raw text.
func readErrorMessage(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, errorMessageLimit))
	if err != nil || len(data) == 0 {
		return ""
	}

	var parsed struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}

	if err := json.Unmarshal(data, &parsed); err == nil {
		if parsed.Error != "" {
			return parsed.Error
		}

		if parsed.Message != "" {
			return parsed.Message
		}
	}

	return string(data)
}
