package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"cardgen/internal/bootstrap"
	"cardgen/internal/infra"
	"cardgen/internal/queue"
	"cardgen/internal/reaper"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := infra.SetupTracing(ctx, cfg, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("worker: tracing disabled")
	}

	svc, err := bootstrap.Open(ctx, cfg, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: bootstrap failed")
	}
	defer svc.Close()

	proc, err := svc.Processor()
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: processor")
	}
	rp, err := svc.Reaper()
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: reaper")
	}
	sweeper, err := svc.RetrySweeper()
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: retry sweeper")
	}

	handlers := queue.NewHandlers(queue.HandlerOptions{
		Runner:   proc,
		Settler:  svc.Settler,
		Enqueuer: svc.Enqueuer,
		Reap: func(ctx context.Context) error {
			_, err := rp.Run(ctx)
			if errors.Is(err, reaper.ErrLocked) {
				return nil
			}
			return err
		},
		Sweep: func(ctx context.Context) error {
			_, err := sweeper.Run(ctx)
			if errors.Is(err, reaper.ErrLocked) {
				return nil
			}
			return err
		},
		Logger: &logger,
	})

	redisOpt := infra.AsynqRedisOpt(cfg)
	asynqLogger := queue.NewAsynqLogger(&logger)
	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency:     cfg.WorkerConcurrency,
		Queues:          queue.Priorities,
		Logger:          asynqLogger,
		ShutdownTimeout: 30 * time.Second,
	})
	mux := asynq.NewServeMux()
	handlers.Register(mux)

	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{Logger: asynqLogger, Location: time.UTC})
	if err := queue.RegisterSchedules(scheduler, cfg.ReaperInterval, cfg.RetrySweepInterval); err != nil {
		logger.Fatal().Err(err).Msg("worker: schedules")
	}

	if err := server.Start(mux); err != nil {
		logger.Fatal().Err(err).Msg("worker: start server")
	}
	if err := scheduler.Start(); err != nil {
		logger.Fatal().Err(err).Msg("worker: start scheduler")
	}
	logger.Info().
		Int("concurrency", cfg.WorkerConcurrency).
		Dur("reap_every", cfg.ReaperInterval).
		Dur("sweep_every", cfg.RetrySweepInterval).
		Msg("worker: running")

	<-ctx.Done()

	scheduler.Shutdown()
	server.Shutdown()

	flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := shutdownTracing(flushCtx); err != nil {
		logger.Warn().Err(err).Msg("worker: flush traces")
	}
	logger.Info().Msg("worker: stopped")
}
