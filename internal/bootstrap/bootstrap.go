// Package bootstrap wires the shared pipeline services for the binaries.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bsm/redislock"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"cardgen/internal/adapter/repo"
	"cardgen/internal/analytics"
	"cardgen/internal/domain"
	"cardgen/internal/infra"
	"cardgen/internal/infra/credentials"
	"cardgen/internal/ledger"
	"cardgen/internal/notify"
	"cardgen/internal/orchestrator"
	"cardgen/internal/pricing"
	"cardgen/internal/processor"
	"cardgen/internal/prompt"
	"cardgen/internal/providers"
	"cardgen/internal/queue"
	"cardgen/internal/reaper"
	"cardgen/internal/settle"
	"cardgen/internal/status"
	"cardgen/internal/storage"
)

// Services holds the connections and services every binary shares.
type Services struct {
	Config *infra.Config
	Logger *infra.Logger

	Pool        *pgxpool.Pool
	Runner      *infra.SQLRunner
	Repos       domain.Repositories
	Tx          *repo.Transactor
	Redis       *redis.Client
	Pricing     *pricing.Lookup
	Composer    *notify.Composer
	Publisher   notify.Publisher
	Tracker     analytics.Tracker
	Settler     *settle.Settler
	Store       storage.Store
	Fetcher     *storage.Fetcher
	Credentials *credentials.Store
	Providers   *providers.Registry
	Queue       *asynq.Client
	Enqueuer    *queue.Enqueuer
}

// Open connects to Postgres and Redis and builds the shared services. The
// caller owns the result and must Close it.
func Open(ctx context.Context, cfg *infra.Config, logger *infra.Logger) (*Services, error) {
	s := &Services{Config: cfg, Logger: logger}
	if err := s.open(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Services) open(ctx context.Context) error {
	cfg, logger := s.Config, s.Logger

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		return err
	}
	s.Pool = pool
	s.Runner = infra.NewSQLRunner(pool, logger)
	s.Repos = repo.Bind(s.Runner)
	s.Tx = repo.NewTransactor(s.Runner)
	s.Credentials = credentials.NewStore(s.Runner)

	rdb, err := infra.NewRedisClient(ctx, cfg)
	if err != nil {
		return err
	}
	s.Redis = rdb
	s.Pricing = pricing.NewLookup(repo.NewPricingRepository(s.Runner), pricing.Options{
		Redis:  rdb,
		TTL:    cfg.PriceCacheTTL,
		Logger: logger,
	})

	if s.Composer, err = notify.NewComposer(); err != nil {
		return err
	}
	s.Publisher = notify.Nop{}
	if cfg.PubSubProject != "" {
		pub, err := notify.NewPubSubPublisher(ctx, cfg.PubSubProject, cfg.PubSubTopic, logger)
		if err != nil {
			return err
		}
		s.Publisher = pub
	}
	if s.Tracker, err = analytics.New(cfg.PostHogAPIKey, cfg.PostHogEndpoint, logger); err != nil {
		return err
	}

	s.Settler, err = settle.New(settle.Options{
		Tx:        s.Tx,
		Composer:  s.Composer,
		Publisher: s.Publisher,
		Tracker:   s.Tracker,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	if s.Store, err = storage.New(ctx, *cfg, logger); err != nil {
		return err
	}
	s.Fetcher = storage.NewFetcher(nil, cfg.SourceFetchTimeout)

	httpClient := &http.Client{Timeout: cfg.ProviderTimeout + 30*time.Second}
	s.Providers = BuildProviders(ctx, cfg, s.Credentials, httpClient, logger)

	s.Queue = asynq.NewClient(infra.AsynqRedisOpt(cfg))
	s.Enqueuer = queue.NewEnqueuer(s.Queue, cfg.ProviderTimeout+time.Minute, logger)
	return nil
}

// Close releases every connection opened by Open.
func (s *Services) Close() {
	if s.Queue != nil {
		if err := s.Queue.Close(); err != nil {
			s.Logger.Warn().Err(err).Msg("bootstrap: close queue client")
		}
	}
	if s.Publisher != nil {
		_ = s.Publisher.Close()
	}
	if s.Tracker != nil {
		_ = s.Tracker.Close()
	}
	if closer, ok := s.Store.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
	if s.Redis != nil {
		_ = s.Redis.Close()
	}
	if s.Pool != nil {
		s.Pool.Close()
	}
}

// Ping checks Postgres and Redis.
func (s *Services) Ping(ctx context.Context) error {
	return errors.Join(s.Pool.Ping(ctx), s.Redis.Ping(ctx).Err())
}

// Ledger returns a ledger bound to the pooled repositories.
func (s *Services) Ledger() *ledger.Ledger {
	return ledger.New(s.Repos.Balances, ledger.Options{Logger: s.Logger})
}

// Orchestrator builds the job orchestrator. Tasks are dispatched to the queue.
func (s *Services) Orchestrator() (*orchestrator.Orchestrator, error) {
	return orchestrator.New(orchestrator.Options{
		Repos:               s.Repos,
		Tx:                  s.Tx,
		Pricing:             s.Pricing,
		Dispatcher:          s.Enqueuer,
		Composer:            s.Composer,
		Publisher:           s.Publisher,
		Tracker:             s.Tracker,
		DefaultProviders:    DefaultProviders(s.Config, s.Providers, s.Logger),
		ProviderAvailable:   ProviderAvailable(s.Providers),
		MaxUnits:            s.Config.MaxCardsPerJob,
		DispatchConcurrency: s.Config.WorkerConcurrency,
		Logger:              s.Logger,
	})
}

// Status builds the read side used by the HTTP surface.
func (s *Services) Status() (*status.Service, error) {
	return status.New(status.Options{
		Jobs:      s.Repos.Jobs,
		Tasks:     s.Repos.Tasks,
		Providers: s.Providers,
		Settler:   s.Settler,
		Store:     s.Store,
		Fetcher:   s.Fetcher,
		Logger:    s.Logger,
	})
}

// Processor builds the task processor run by the worker.
func (s *Services) Processor() (*processor.Processor, error) {
	catalog, err := prompt.Default()
	if err != nil {
		return nil, fmt.Errorf("bootstrap: prompts: %w", err)
	}
	return processor.New(processor.Options{
		Jobs:               s.Repos.Jobs,
		Tasks:              s.Repos.Tasks,
		Providers:          s.Providers,
		Prompts:            catalog,
		Store:              s.Store,
		Fetcher:            s.Fetcher,
		MaxRetries:         s.Config.MaxTaskRetries,
		ProviderTimeout:    s.Config.ProviderTimeout,
		SourceFetchTimeout: s.Config.SourceFetchTimeout,
		Logger:             s.Logger,
	})
}

// Reaper builds the stale job reaper guarded by a Redis lock.
func (s *Services) Reaper() (*reaper.Reaper, error) {
	return reaper.New(reaper.Options{
		Jobs:            s.Repos.Jobs,
		Settler:         s.Settler,
		Locker:          redislock.New(s.Redis),
		StaleAfter:      s.Config.StaleAfter,
		VideoStaleAfter: s.Config.VideoStaleAfter,
		Logger:          s.Logger,
	})
}

// RetrySweeper builds the sweeper that re-enqueues due tasks.
func (s *Services) RetrySweeper() (*reaper.RetrySweeper, error) {
	return reaper.NewRetrySweeper(reaper.SweepOptions{
		Tasks:      s.Repos.Tasks,
		Dispatcher: s.Enqueuer,
		Locker:     redislock.New(s.Redis),
		Logger:     s.Logger,
	})
}
