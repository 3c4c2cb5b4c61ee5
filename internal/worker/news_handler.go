package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"civicbrief/internal/config"
	"civicbrief/internal/models"
)

// NewsHandler refreshes the article pool for a set of interests and
// fans out image jobs for the new records.
type NewsHandler struct {
	cfg    config.Config
	store  BriefStore
	queue  JobQueue
	news   articleSource
	syncer RecordSyncer
	logger zerolog.Logger
}

// NewNewsHandler wires the refresh dependencies.
func NewNewsHandler(cfg config.Config, st BriefStore, q JobQueue, news articleSource, syncer RecordSyncer, logger zerolog.Logger) *NewsHandler {
	return &NewsHandler{
		cfg:    cfg,
		store:  st,
		queue:  q,
		news:   news,
		syncer: syncer,
		logger: logger.With().Str("handler", "news").Logger(),
	}
}

// Handle fetches, stores and indexes articles for the payload interests.
// Upserts are keyed by URL hash, so refreshing the same feed twice is
// harmless.
func (h *NewsHandler) Handle(ctx context.Context, job models.Job) error {
	var payload models.NewsPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return Permanent(fmt.Errorf("decode news payload: %w", err))
	}
	if len(payload.Interests) == 0 {
		return Permanent(fmt.Errorf("news payload has no interests"))
	}

	logger := h.logger.With().Str("job_id", job.ID).Logger()
	progress := func(pct int) { _ = h.store.UpdateProgress(ctx, job.ID, pct) }

	progress(10)
	articles, err := h.news.Search(ctx, payload.Interests, payload.Region)
	if err != nil {
		return fmt.Errorf("fetch articles: %w", err)
	}
	progress(30)

	for i := range articles {
		a := &articles[i]
		if err := h.store.UpsertArticle(ctx, a); err != nil {
			return fmt.Errorf("store article %s: %w", a.ID, err)
		}
		if err := h.syncer.SyncArticle(ctx, *a); err != nil {
			logger.Warn().Err(err).Str("article_id", a.ID).Msg("Inline article sync failed, reconciler will retry")
		}
		if a.Image == nil {
			if err := enqueueImageJob(ctx, h.cfg, h.store, h.queue, models.RecordArticle, a.ID); err != nil {
				logger.Warn().Err(err).Str("article_id", a.ID).Msg("Failed to enqueue image job")
			}
		}
		if len(articles) > 0 {
			progress(30 + (i+1)*60/len(articles))
		}
	}

	logger.Info().Int("articles", len(articles)).Msg("News refresh finished")
	return nil
}
