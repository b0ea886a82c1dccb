package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"cardgen/internal/infra"
)

// Retrying retries failed writes with exponential backoff and wraps the final
// failure in ErrWrite. Writes are idempotent by key so a retry after an
// ambiguous failure is safe.
type Retrying struct {
	next       Store
	maxRetries uint64
	initial    time.Duration
	logger     *infra.Logger
}

// NewRetrying wraps next. maxRetries counts attempts after the first.
func NewRetrying(next Store, maxRetries uint64, logger *infra.Logger) *Retrying {
	if logger == nil {
		logger = infra.DiscardLogger()
	}
	return &Retrying{next: next, maxRetries: maxRetries, initial: 200 * time.Millisecond, logger: logger}
}

func (r *Retrying) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.initial
	policy.MaxElapsedTime = 0
	bo := backoff.WithContext(backoff.WithMaxRetries(policy, r.maxRetries), ctx)

	var url string
	op := func() error {
		var err error
		url, err = r.next.Put(ctx, key, data, contentType)
		if errors.Is(err, ErrInvalidKey) || errors.Is(err, context.Canceled) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		r.logger.Warn().Err(err).Str("key", key).Dur("wait", wait).Msg("storage: retrying put")
	}
	if err := backoff.RetryNotify(op, bo, notify); err != nil {
		return "", fmt.Errorf("%w: %w", ErrWrite, err)
	}
	return url, nil
}

// Close closes the wrapped store when it holds resources.
func (r *Retrying) Close() error {
	if c, ok := r.next.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
