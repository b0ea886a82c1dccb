// Package pricing resolves the token cost of each operation.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/cache/v9"
	"github.com/redis/go-redis/v9"

	"cardgen/internal/domain"
	"cardgen/internal/infra"
)

const (
	keyPrefix      = "cardgen:price:"
	localCacheSize = 64
)

// Options configures a Lookup.
type Options struct {
	// Redis is optional; without it prices are cached in process only.
	Redis  *redis.Client
	TTL    time.Duration
	Logger *infra.Logger
}

// Lookup reads prices through a short-lived two-level cache.
type Lookup struct {
	repo   domain.PricingRepository
	cache  *cache.Cache
	ttl    time.Duration
	logger *infra.Logger
}

func NewLookup(repo domain.PricingRepository, opts Options) *Lookup {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	logger := opts.Logger
	if logger == nil {
		logger = infra.DiscardLogger()
	}
	cacheOpts := &cache.Options{
		LocalCache: cache.NewTinyLFU(localCacheSize, ttl),
	}
	if opts.Redis != nil {
		cacheOpts.Redis = opts.Redis
	}
	return &Lookup{
		repo:   repo,
		cache:  cache.New(cacheOpts),
		ttl:    ttl,
		logger: logger,
	}
}

// PriceFor returns the token cost of op. ErrPricingNotConfigured is returned
// when no positive price exists; callers must not charge in that case.
func (l *Lookup) PriceFor(ctx context.Context, op domain.Operation) (int, error) {
	var tokens int
	err := l.cache.Once(&cache.Item{
		Ctx:   ctx,
		Key:   keyPrefix + string(op),
		Value: &tokens,
		TTL:   l.ttl,
		Do: func(item *cache.Item) (any, error) {
			v, err := l.repo.Get(item.Context(), op)
			if err != nil {
				return nil, err
			}
			if v <= 0 {
				return nil, domain.ErrPricingNotConfigured
			}
			l.logger.Debug().Str("operation", string(op)).Int("tokens", v).Msg("pricing: loaded")
			return v, nil
		},
	})
	if err != nil {
		return 0, fmt.Errorf("pricing: %s: %w", op, err)
	}
	return tokens, nil
}

// Set stores a new price and drops the cached value.
func (l *Lookup) Set(ctx context.Context, op domain.Operation, tokens int) error {
	if tokens <= 0 {
		return fmt.Errorf("pricing: %s: price must be positive", op)
	}
	if err := l.repo.Set(ctx, op, tokens); err != nil {
		return fmt.Errorf("pricing: set %s: %w", op, err)
	}
	return l.Invalidate(ctx, op)
}

// Invalidate removes op from both cache levels.
func (l *Lookup) Invalidate(ctx context.Context, op domain.Operation) error {
	if err := l.cache.Delete(ctx, keyPrefix+string(op)); err != nil && !errors.Is(err, cache.ErrCacheMiss) {
		return fmt.Errorf("pricing: invalidate %s: %w", op, err)
	}
	return nil
}
