package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"civicbrief/internal/api"
	"civicbrief/internal/config"
	"civicbrief/internal/index"
	"civicbrief/internal/logging"
	"civicbrief/internal/queue"
	"civicbrief/internal/ratelimit"
	"civicbrief/internal/store"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	logger := logging.New(cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to postgres")
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to run migrations")
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer redisClient.Close()

	q := queue.NewRedisQueueWithClient(redisClient, cfg.JobKinds, cfg.VisibilityTimeout)
	limiter := ratelimit.NewTokenBucket(redisClient, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)

	idx, err := index.OpenBleveReadOnly(cfg.IndexPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.IndexPath).Msg("Failed to open search index")
	}
	defer idx.Close()

	server := api.New(cfg, st, q, idx, limiter, logger)
	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Str("port", cfg.HTTPPort).Msg("API server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("HTTP server failed")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Graceful shutdown failed")
		os.Exit(1)
	}
}
