package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// HTTPError is a non-2xx provider response. RetryAfter carries the parsed
// Retry-After header when the provider sent one.
type HTTPError struct {
	Status     int
	Body       string
	RetryAfter time.Duration // 0 = no hint
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("provider HTTP %d: %s", e.Status, e.Body)
}

// IsRetryable reports whether the error is transient: throttling, overload,
// or a server-side failure. Anything else (auth, bad request, billing) is
// terminal and must surface immediately.
func IsRetryable(err error) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.Status == http.StatusTooManyRequests:
			return true
		case httpErr.Status >= 500:
			return true
		}
		return false
	}
	// Overloaded errors from SDK-style clients arrive as plain text.
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "overloaded") || strings.Contains(msg, "rate_limit")
}

// RetryHint extracts the provider-advertised retry delay, if any.
func RetryHint(err error) time.Duration {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.RetryAfter
	}
	return 0
}

// ParseRetryAfter parses a Retry-After header value: either delay seconds
// or an HTTP date. Returns 0 if absent or unparseable.
func ParseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(header)); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(header); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

// RetryConfig controls RetryDo.
type RetryConfig struct {
	MaxRetries int           // attempts beyond the first
	BaseDelay  time.Duration // first backoff; doubles per attempt
}

// DefaultRetryConfig matches the upstream providers' tolerances.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxRetries: 3, BaseDelay: 2 * time.Second}
}

// Backoff returns the delay before retry attempt n (0-based): the provider
// hint when present, else BaseDelay doubled per attempt.
func (c RetryConfig) Backoff(attempt int, hint time.Duration) time.Duration {
	if hint > 0 {
		return hint
	}
	d := c.BaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
	}
	return d
}

// RetryDo runs fn, retrying transient failures with backoff. Terminal
// failures and context cancellation return immediately.
func RetryDo[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; ; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !IsRetryable(err) || attempt >= cfg.MaxRetries {
			return zero, lastErr
		}

		delay := cfg.Backoff(attempt, RetryHint(err))
		slog.Debug("provider call failed, retrying",
			"attempt", attempt+1, "max", cfg.MaxRetries, "delay", delay, "error", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
}
