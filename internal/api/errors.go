package api

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound    = errors.New("market data not found")
	ErrRateLimited = errors.New("rate limited by market data provider")
	ErrAuthFailed  = errors.New("market data credentials rejected")
	ErrUpstream    = errors.New("market data provider error")
)

// StatusError is a non-200 reply from the market data provider.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("provider status %d", e.Code)
	}
	return fmt.Sprintf("provider status %d: %s", e.Code, e.Body)
}

// Unwrap maps the status onto the package sentinels so callers can use errors.Is.
func (e *StatusError) Unwrap() error {
	switch {
	case e.Code == http.StatusNotFound:
		return ErrNotFound
	case e.Code == http.StatusUnauthorized || e.Code == http.StatusForbidden:
		return ErrAuthFailed
	case e.Code == http.StatusTooManyRequests:
		return ErrRateLimited
	default:
		return ErrUpstream
	}
}

// Retryable reports whether the same request may succeed later.
func (e *StatusError) Retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= http.StatusInternalServerError
}

const maxErrorBody = 256

func newStatusError(code int, body []byte) *StatusError {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return &StatusError{Code: code, Body: string(body)}
}
