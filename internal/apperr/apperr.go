// Package apperr tags errors with a coarse kind so that transport handlers
// and retry loops can classify failures without string matching.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind classifies an error for retry and transport mapping decisions.
type Kind string

const (
	BadInput            Kind = "bad_input"
	NotFound            Kind = "not_found"
	Unauthorized        Kind = "unauthorized"
	RateLimited         Kind = "rate_limited"
	UpstreamUnavailable Kind = "upstream_unavailable"
	SchemaMismatch      Kind = "schema_mismatch"
	Cancelled           Kind = "cancelled"
	Internal            Kind = "internal"
)

// Error carries a Kind alongside the message and wrapped cause.
// RetryAfter is advisory: upstreams that announce a quota reset attach
// it to RateLimited errors, zero means no hint was given.
type Error struct {
	Kind       Kind
	Msg        string
	Err        error
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	if e.Err != nil {
		if e.Msg == "" {
			return e.Err.Error()
		}
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a tagged error from a format string.
func New(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap tags err with kind, keeping it on the Unwrap chain.
// Returns nil when err is nil.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// RateLimitedAfter wraps err as RateLimited carrying the upstream's
// suggested wait. Negative waits are clamped to zero.
func RateLimitedAfter(wait time.Duration, err error, msg string) error {
	if wait < 0 {
		wait = 0
	}
	return &Error{Kind: RateLimited, Msg: msg, Err: err, RetryAfter: wait}
}

// RetryAfterOf reports the advisory wait attached to err, zero when the
// chain carries none.
func RetryAfterOf(err error) time.Duration {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.RetryAfter
	}
	return 0
}

// KindOf reports the kind of err. Context cancellation maps to Cancelled
// and anything untagged to Internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Cancelled
	}
	return Internal
}

// IsRetryable reports whether retrying the operation could plausibly
// succeed. Only rate limits and upstream outages qualify; bad input,
// auth failures and schema conflicts never do.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case RateLimited, UpstreamUnavailable:
		return true
	}
	return false
}

// HTTPStatus maps an error to the status code its kind implies.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case BadInput:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case Unauthorized:
		return http.StatusUnauthorized
	case RateLimited:
		return http.StatusTooManyRequests
	case UpstreamUnavailable:
		return http.StatusBadGateway
	case SchemaMismatch:
		return http.StatusConflict
	case Cancelled:
		return 499 // client closed request, nginx convention
	default:
		return http.StatusInternalServerError
	}
}
