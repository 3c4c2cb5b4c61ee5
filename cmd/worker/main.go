package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"civicbrief/internal/audio"
	"civicbrief/internal/client"
	"civicbrief/internal/config"
	"civicbrief/internal/images"
	"civicbrief/internal/index"
	"civicbrief/internal/logging"
	"civicbrief/internal/models"
	"civicbrief/internal/queue"
	"civicbrief/internal/storage"
	"civicbrief/internal/store"
	"civicbrief/internal/telemetry"
	"civicbrief/internal/worker"
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

	idx, err := index.OpenBleve(cfg.IndexPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.IndexPath).Msg("Failed to open search index")
	}
	defer idx.Close()
	projector := index.NewProjector(st, idx, logger)

	uploader, err := storage.NewS3Client(ctx, &cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create storage client")
	}

	legis := client.NewLegisClient(cfg.LegisBaseURL, cfg.LegisAPIKey)
	news := client.NewNewsClient(cfg.NewsBaseURL, cfg.NewsAPIKey)
	scripts := client.NewScriptClient(cfg.ScriptBaseURL, cfg.ScriptAPIKey, cfg.ScriptModel)
	tts := client.NewTTSClient(cfg.TTSBaseURL, cfg.TTSAPIKey, cfg.TTSTimeout)
	imgSearch := client.NewImageSearchClient(cfg.ImageSearchBaseURL, cfg.ImageSearchAPIKey)

	renderer := audio.NewRenderer(tts, cfg.TTSInterCallDelay)

	waterfall := images.NewWaterfall(logger,
		images.ExplicitStrategy{},
		images.NewPageMetaStrategy(cfg.ImageDownloadTimeout),
		images.NewKeywordStrategy(imgSearch),
		images.NewPlaceholderStrategy(cfg.StoragePublicURL),
	)

	briefHandler := worker.NewBriefHandler(cfg, st, q, legis, news, scripts, renderer, uploader, projector, logger)
	newsHandler := worker.NewNewsHandler(cfg, st, q, news, projector, logger)
	imageHandler := worker.NewImageHandler(cfg, st, waterfall, uploader, projector, logger)

	// Brief and news pipelines are API-rate-bound and run one at a
	// time; image jobs are cheap and fan out.
	core := worker.NewProcessor(cfg, q, st, logger)
	core.RegisterHandler(models.KindBrief, briefHandler.Handle)
	core.RegisterHandler(models.KindNews, newsHandler.Handle)

	imgProc := worker.NewProcessor(cfg, q, st, logger)
	imgProc.RegisterHandler(models.KindImage, imageHandler.Handle)

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			logger.Error().Err(err).Msg("Metrics server stopped")
		}
	}()

	go projector.RunReconciler(ctx, cfg.ReconcileInterval, cfg.ReconcileBatch)
	go runRetention(ctx, st, projector, cfg, logger)

	go func() {
		_ = imgProc.Run(ctx, []string{models.KindImage}, cfg.ImageConcurrency)
	}()

	logger.Info().
		Dur("visibility", cfg.VisibilityTimeout).
		Dur("backoff_initial", cfg.BackoffInitial).
		Msg("Worker started")
	_ = core.Run(ctx, []string{models.KindBrief, models.KindNews}, 1)
}

// runRetention periodically deletes terminal jobs and aged-out articles
// past their retention windows. Purged articles are also dropped from
// the search index so stale hits cannot outlive the canonical rows.
func runRetention(ctx context.Context, st *store.Store, projector *index.Projector, cfg config.Config, logger zerolog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := st.PurgeTerminalJobs(ctx, time.Now().Add(-cfg.JobRetention))
			if err != nil {
				logger.Error().Err(err).Msg("Job retention purge failed")
			} else if n > 0 {
				logger.Info().Int64("purged", n).Msg("Purged terminal jobs")
			}

			ids, err := st.PurgeOldArticles(ctx, time.Now().Add(-cfg.ArticleRetention))
			if err != nil {
				logger.Error().Err(err).Msg("Article retention purge failed")
				continue
			}
			for _, id := range ids {
				if err := projector.DeleteArticle(id); err != nil {
					logger.Error().Err(err).Str("article_id", id).Msg("Failed to drop article projection")
				}
			}
			if len(ids) > 0 {
				logger.Info().Int("purged", len(ids)).Msg("Purged aged-out articles")
			}
		}
	}
}
