package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"cardgen/internal/bootstrap"
	"cardgen/internal/http/handlers"
	httpapi "cardgen/internal/http/httpapi"
	"cardgen/internal/infra"
	"cardgen/internal/infra/geoip"
	"cardgen/internal/middleware"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	if err := cfg.ValidateAPI(); err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := infra.SetupTracing(ctx, cfg, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("api: tracing disabled")
	}

	svc, err := bootstrap.Open(ctx, cfg, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: bootstrap failed")
	}
	defer svc.Close()

	orch, err := svc.Orchestrator()
	if err != nil {
		logger.Fatal().Err(err).Msg("api: orchestrator")
	}
	st, err := svc.Status()
	if err != nil {
		logger.Fatal().Err(err).Msg("api: status service")
	}

	var countries middleware.CountryLookup
	if cfg.GeoIPDBPath != "" {
		resolver, err := geoip.NewResolver(cfg.GeoIPDBPath)
		if err != nil {
			logger.Warn().Err(err).Msg("api: geoip disabled")
		} else {
			defer resolver.Close()
			countries = geoip.Lookup(resolver)
		}
	}

	staticDir := ""
	if cfg.StorageDriver == "" || cfg.StorageDriver == "file" {
		staticDir = cfg.StoragePath
	}

	app := handlers.NewApp(orch, st, svc.Ping, &logger)
	router := httpapi.NewRouter(app, httpapi.Options{
		JWTSecret:       cfg.JWTSecret,
		CORSOrigins:     cfg.CORSOrigins,
		RateLimitPerMin: cfg.RateLimitPerMin,
		CountryLookup:   countries,
		StaticDir:       staticDir,
		Logger:          &logger,
	})

	if err := infra.ServeHTTP(ctx, cfg, router, &logger); err != nil {
		logger.Error().Err(err).Msg("api: http server failed")
	}

	flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := shutdownTracing(flushCtx); err != nil {
		logger.Warn().Err(err).Msg("api: flush traces")
	}
	logger.Info().Msg("api: stopped")
}
