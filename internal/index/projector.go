package index

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"civicbrief/internal/models"
	"civicbrief/internal/telemetry"
)

// RecordSource lists the canonical-store reads the projector needs.
type RecordSource interface {
	StaleBills(ctx context.Context, limit int) ([]models.Bill, error)
	StaleArticles(ctx context.Context, limit int) ([]models.Article, error)
	StaleBriefs(ctx context.Context, limit int) ([]models.Brief, error)
	MarkSynced(ctx context.Context, recordKind, id string, at time.Time) error
}

// Writer is the index side of the sync protocol.
type Writer interface {
	Upsert(doc Doc) error
	Delete(id string) error
}

// Projector pushes canonical records into the search index. The order is
// fixed: project, write to the index, then mark synced. A failed index
// write leaves the record stale so the next sweep retries it.
type Projector struct {
	source RecordSource
	writer Writer
	logger zerolog.Logger
}

// NewProjector creates a projector over the given store and index.
func NewProjector(source RecordSource, writer Writer, logger zerolog.Logger) *Projector {
	return &Projector{
		source: source,
		writer: writer,
		logger: logger.With().Str("component", "projector").Logger(),
	}
}

// SyncBill projects and indexes one bill, then marks it synced.
func (p *Projector) SyncBill(ctx context.Context, b models.Bill) error {
	return p.sync(ctx, models.RecordBill, b.ID, ProjectBill(b))
}

// SyncArticle projects and indexes one article, then marks it synced.
func (p *Projector) SyncArticle(ctx context.Context, a models.Article) error {
	return p.sync(ctx, models.RecordArticle, a.ID, ProjectArticle(a))
}

// SyncBrief projects and indexes one brief, then marks it synced.
func (p *Projector) SyncBrief(ctx context.Context, b models.Brief) error {
	return p.sync(ctx, models.RecordBrief, b.ID, ProjectBrief(b))
}

func (p *Projector) sync(ctx context.Context, recordKind, id string, doc Doc) error {
	if err := p.writer.Upsert(doc); err != nil {
		telemetry.IndexSyncTotal.WithLabelValues(recordKind, "error").Inc()
		return err
	}
	if err := p.source.MarkSynced(ctx, recordKind, id, time.Now()); err != nil {
		// The doc is indexed but still flagged stale. The sweep will
		// re-index it, which is safe because upserts are idempotent.
		telemetry.IndexSyncTotal.WithLabelValues(recordKind, "error").Inc()
		return err
	}
	telemetry.IndexSyncTotal.WithLabelValues(recordKind, "ok").Inc()
	return nil
}

// DeleteArticle drops an article's projection after the canonical row
// was purged, so retention does not leave orphaned search hits.
func (p *Projector) DeleteArticle(id string) error {
	return p.writer.Delete(docID(models.RecordArticle, id))
}

// Sweep indexes every stale record, up to batch per record kind, and
// returns how many records it synced. Per-record failures are logged and
// skipped so one bad record cannot wedge the sweep.
func (p *Projector) Sweep(ctx context.Context, batch int) (int, error) {
	synced := 0

	bills, err := p.source.StaleBills(ctx, batch)
	if err != nil {
		return synced, err
	}
	for _, b := range bills {
		if err := p.SyncBill(ctx, b); err != nil {
			p.logger.Error().Err(err).Str("bill_id", b.ID).Msg("Failed to sync bill")
			continue
		}
		synced++
	}

	articles, err := p.source.StaleArticles(ctx, batch)
	if err != nil {
		return synced, err
	}
	for _, a := range articles {
		if err := p.SyncArticle(ctx, a); err != nil {
			p.logger.Error().Err(err).Str("article_id", a.ID).Msg("Failed to sync article")
			continue
		}
		synced++
	}

	briefs, err := p.source.StaleBriefs(ctx, batch)
	if err != nil {
		return synced, err
	}
	for _, b := range briefs {
		if err := p.SyncBrief(ctx, b); err != nil {
			p.logger.Error().Err(err).Str("brief_id", b.ID).Msg("Failed to sync brief")
			continue
		}
		synced++
	}

	return synced, nil
}

// RunReconciler sweeps on a fixed interval until ctx is cancelled. This
// is the safety net behind inline syncs: anything missed by a crash or a
// transient index failure gets picked up here.
func (p *Projector) RunReconciler(ctx context.Context, interval time.Duration, batch int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.logger.Info().Dur("interval", interval).Int("batch", batch).Msg("Reconciler started")

	for {
		select {
		case <-ctx.Done():
			p.logger.Info().Msg("Reconciler stopped")
			return
		case <-ticker.C:
			n, err := p.Sweep(ctx, batch)
			if err != nil {
				p.logger.Error().Err(err).Msg("Reconcile sweep failed")
				continue
			}
			if n > 0 {
				p.logger.Info().Int("synced", n).Msg("Reconcile sweep caught up stale records")
			}
		}
	}
}
