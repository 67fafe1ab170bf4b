package model

import (
	"errors"
	"fmt"
	"strings"
)

// UnknownErrorMessage is used only when the upstream rejects a request
// without supplying any message of its own.
const UnknownErrorMessage = "Unknown error"

var (
	// ErrUnauthenticated is returned when a dispatch is attempted without an
	// Active session. No network call is made.
	ErrUnauthenticated = errors.New("unauthenticated: no active session")

	// ErrNotFound is returned when a name-to-code lookup misses.
	ErrNotFound = errors.New("not found")
)

// ConfigError represents a configuration error. It is reported before any
// network call is attempted.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) Unwrap() error { return e.Err }

// TransportError wraps a network-level failure (connect, timeout, unreadable
// body). Never retried.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }

// RemoteAPIError means the upstream was reachable but rejected the request,
// either at the HTTP level or with a non-zero return_code.
type RemoteAPIError struct {
	Code       int
	Message    string
	HTTPStatus int
}

func (e *RemoteAPIError) Error() string {
	return fmt.Sprintf("remote api error %d: %s", e.Code, e.Message)
}

// AuthError is returned by login and revoke when the upstream refuses.
// Reason carries the upstream message verbatim and may be empty.
type AuthError struct {
	Reason     string
	Code       int
	HTTPStatus int
}

func (e *AuthError) Error() string {
	if e.Reason != "" {
		return "auth error: " + e.Reason
	}
	return fmt.Sprintf("auth error: rejected (HTTP %d, code %d)", e.HTTPStatus, e.Code)
}

// UnknownQueryError is returned for a query id not present in the registry.
type UnknownQueryError struct {
	QueryID string
}

func (e *UnknownQueryError) Error() string {
	return "unknown query: " + e.QueryID
}

// InvalidPayloadError lists the required payload fields the caller left out.
type InvalidPayloadError struct {
	QueryID string
	Missing []string
}

func (e *InvalidPayloadError) Error() string {
	return fmt.Sprintf("invalid payload for %s: missing %s", e.QueryID, strings.Join(e.Missing, ", "))
}

// CacheWriteError means the remote fetch succeeded but persisting the result
// locally failed.
type CacheWriteError struct {
	Err error
}

func (e *CacheWriteError) Error() string {
	return "cache write failed: " + e.Err.Error()
}

func (e *CacheWriteError) Unwrap() error { return e.Err }

// Kind maps an error to the stable identifier used on the invoke wire.
func Kind(err error) string {
	var (
		cfgErr     *ConfigError
		transErr   *TransportError
		remoteErr  *RemoteAPIError
		authErr    *AuthError
		unknownErr *UnknownQueryError
		payloadErr *InvalidPayloadError
		cacheErr   *CacheWriteError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &cfgErr):
		return "configuration"
	case errors.As(err, &cacheErr):
		return "cache_write"
	case errors.As(err, &transErr):
		return "transport"
	case errors.As(err, &remoteErr):
		return "remote_api"
	case errors.As(err, &authErr):
		return "auth"
	case errors.As(err, &unknownErr):
		return "unknown_query"
	case errors.As(err, &payloadErr):
		return "invalid_payload"
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "internal"
	}
}
