// Package bridgeerr provides the error taxonomy used across the bridge.
package bridgeerr

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure modes (spec §7 error taxonomy).
var (
	ErrTimeout      = errors.New("operation timed out")
	ErrAuthFailure  = errors.New("authentication failed")
	ErrRateLimit    = errors.New("rate limit exceeded")
	ErrNotFound     = errors.New("resource not found")
	ErrDenied       = errors.New("access denied")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnavailable  = errors.New("service unavailable")
	ErrDisconnect   = errors.New("bridge disconnect")
)

// TransportError wraps a network-layer failure (broken pipe, reset,
// unexpected EOF, TLS error) from the HTTP transport.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ResponseError represents a Slack Web API call whose body carries
// "ok": false. Method is the API method invoked (e.g. "chat.postMessage").
type ResponseError struct {
	Method string
	Slack  string // the remote "error" field
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Method, e.Slack)
}

// NumericHint returns the IRC numeric reply that best matches the kind
// of Slack error observed, per spec §7.
func (e *ResponseError) NumericHint() int {
	switch {
	case isChannelError(e.Slack):
		return 403
	case isUserError(e.Slack):
		return 401
	case isFileError(e.Slack):
		return 424
	default:
		return 421
	}
}

func isChannelError(s string) bool {
	switch s {
	case "channel_not_found", "not_in_channel", "is_archived", "restricted_action":
		return true
	}
	return false
}

func isUserError(s string) bool {
	switch s {
	case "user_not_found", "invalid_auth", "not_authed", "token_revoked", "account_inactive":
		return true
	}
	return false
}

func isFileError(s string) bool {
	switch s {
	case "file_not_found", "invalid_file", "file_too_large":
		return true
	}
	return false
}

// NotFoundError is returned by cache lookups that find nothing; the IRC
// layer translates it to ERR_NOSUCHNICK or ERR_NOSUCHCHANNEL.
type NotFoundError struct {
	Kind string // "user" | "channel" | "im" | "file"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no such %s: %s", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// APIError represents a lower level error from an external API call.
type APIError struct {
	Service    string
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s API error (status %d): %s: %v", e.Service, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("%s API error (status %d): %s", e.Service, e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

// NewAPIError creates a new API error.
func NewAPIError(service string, statusCode int, message string) *APIError {
	return &APIError{Service: service, StatusCode: statusCode, Message: message}
}

// IsRetryable returns true if the error is likely transient and worth
// retrying (used by internal/retry's Do).
func IsRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 429, 500, 502, 503, 504:
			return true
		}
	}
	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return true
	}
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrRateLimit) || errors.Is(err, ErrUnavailable)
}
