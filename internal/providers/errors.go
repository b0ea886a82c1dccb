package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// DefaultRetryAfter applies when a provider rate-limits without a hint.
const DefaultRetryAfter = 60 * time.Second

var (
	// ErrQuotaExceeded is terminal: the account has no remaining credit.
	ErrQuotaExceeded = errors.New("provider quota exceeded")
	// ErrAuth means the credentials were rejected.
	ErrAuth = errors.New("provider authentication failed")
	// ErrNoOutput means the provider answered without usable content.
	ErrNoOutput = errors.New("provider returned no output")
	// ErrUnsupported means the provider cannot serve the requested operation.
	ErrUnsupported = errors.New("provider does not support operation")
)

// RateLimitedError asks the caller to retry after RetryAfter.
type RateLimitedError struct {
	Provider   string
	RetryAfter time.Duration
	Message    string
}

func (e *RateLimitedError) Error() string {
	msg := fmt.Sprintf("%s: rate limited, retry after %s", e.Provider, e.RetryAfter)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// Error is a provider failure that carries the upstream status and code.
type Error struct {
	Provider string
	Status   int
	Code     string
	Message  string
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Provider)
	if e.Status > 0 {
		b.WriteString(" status ")
		b.WriteString(strconv.Itoa(e.Status))
	}
	if e.Code != "" {
		b.WriteString(" code ")
		b.WriteString(e.Code)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// AsRateLimited extracts a rate limit error.
func AsRateLimited(err error) (*RateLimitedError, bool) {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl, true
	}
	return nil, false
}

// IsTimeout reports whether err is a call that ran out of time rather than a
// provider verdict.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// ParseRetryAfter reads a Retry-After header value in seconds or HTTP date.
func ParseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return DefaultRetryAfter
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs <= 0 {
			return DefaultRetryAfter
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := time.Parse(time.RFC1123, value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return DefaultRetryAfter
}

// Truncate shortens upstream bodies before they are stored as error text.
func Truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
