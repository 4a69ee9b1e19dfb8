// Package api provides an HTTP client for the Quantiva auth API with
// error classification. The client performs exactly one network attempt
// per call — retry policy belongs to the session layer, which needs to
// classify each failure before deciding whether another attempt is safe.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// Sentinel errors for HTTP status code classification.
// Use errors.Is(err, api.ErrUnauthorized) to check.
var (
	ErrBadRequest   = errors.New("api: bad request")
	ErrUnauthorized = errors.New("api: unauthorized")
	ErrForbidden    = errors.New("api: forbidden")
	ErrNotFound     = errors.New("api: not found")
	ErrThrottled    = errors.New("api: throttled")
	ErrServerError  = errors.New("api: server error")
)

// APIError wraps a sentinel error with the HTTP status code and the error
// message body returned by the server.
type APIError struct {
	StatusCode int
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api: HTTP %d: %s", e.StatusCode, e.Message)
	}

	return fmt.Sprintf("api: HTTP %d", e.StatusCode)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// ProtocolError reports a well-formed HTTP response that is missing fields
// the current flow requires. It signals a contract mismatch between client
// and server and must never be retried.
type ProtocolError struct {
	Endpoint string
	Missing  []string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("api: %s response missing %s", e.Endpoint, strings.Join(e.Missing, ", "))
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for 2xx success codes.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}

// Class partitions failures into those worth retrying and those that are
// definitive rejections.
type Class int

const (
	// ClassPermanent means the failure will not heal on its own: invalid or
	// expired credentials, a contract mismatch, or anything unrecognized.
	ClassPermanent Class = iota
	// ClassTransient means the failure is operational (no route, timeout,
	// server error, throttling) and a later attempt may succeed.
	ClassTransient
)

func (c Class) String() string {
	if c == ClassTransient {
		return "transient"
	}

	return "permanent"
}

// Classify labels a failure from an auth API call. Classification keys off
// typed errors and status codes, never message text. Unrecognized errors
// default to permanent so unknown conditions fail fast instead of retrying
// indefinitely.
func Classify(err error) Class {
	if err == nil {
		return ClassPermanent
	}

	// Contract mismatches are never retryable.
	var protoErr *ProtocolError
	if errors.As(err, &protoErr) {
		return ClassPermanent
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusUnauthorized:
			return ClassPermanent
		case apiErr.StatusCode == http.StatusRequestTimeout,
			apiErr.StatusCode == http.StatusTooManyRequests,
			apiErr.StatusCode >= http.StatusInternalServerError:
			// A cold-starting backend surfaces as 5xx until it is ready.
			return ClassTransient
		default:
			return ClassPermanent
		}
	}

	// Connection failures, timeouts, and DNS errors all arrive as net.Error
	// (url.Error included) or as wrapped deadline expiry.
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassTransient
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}

	return ClassPermanent
}
