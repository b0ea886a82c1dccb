package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrUserNotFound         = errors.New("user not found")
	ErrPricingNotConfigured = errors.New("pricing not configured")
	ErrValidation           = errors.New("validation failed")
	ErrInsufficientTokens   = errors.New("insufficient tokens")
	ErrJobTerminal          = errors.New("job already terminal")
	ErrTaskNotClaimable     = errors.New("task not claimable")
	ErrNotAsync             = errors.New("job is not async")
)

// ValidationError lists rejected request fields keyed by field name.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return ErrValidation.Error()
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return ErrValidation.Error() + ": " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// InsufficientTokensError reports that a balance cannot cover a charge.
type InsufficientTokensError struct {
	Required  int
	Available int
}

func (e *InsufficientTokensError) Error() string {
	return fmt.Sprintf("insufficient tokens: required %d, available %d", e.Required, e.Available)
}

func (e *InsufficientTokensError) Unwrap() error { return ErrInsufficientTokens }

// CompensationError signals that spent tokens were returned because the job
// could not be persisted. Cause is the original persistence failure.
type CompensationError struct {
	Refunded int
	Cause    error
}

func (e *CompensationError) Error() string {
	return fmt.Sprintf("job persistence failed, %d tokens refunded: %v", e.Refunded, e.Cause)
}

func (e *CompensationError) Unwrap() error { return e.Cause }
