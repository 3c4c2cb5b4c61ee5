package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"civicbrief/internal/audio"
	"civicbrief/internal/config"
	"civicbrief/internal/dialogue"
	"civicbrief/internal/models"
	"civicbrief/internal/storage"
	"civicbrief/internal/store"
)

// Speech pacing estimate used to derive brief duration from transcript
// length, roughly 15 characters per second of audio.
const charsPerSecond = 15.0

// BriefStore is the canonical-store surface of the brief pipeline.
type BriefStore interface {
	UpsertBill(ctx context.Context, b *models.Bill) error
	UpsertArticle(ctx context.Context, a *models.Article) error
	UpsertBrief(ctx context.Context, b *models.Brief) error
	UpdateProgress(ctx context.Context, id string, percent int) error
	CreateJob(ctx context.Context, p store.CreateJobParams) (models.Job, bool, error)
}

// RecordSyncer pushes freshly written records into the search index
// inline. Failures are tolerable because the reconciler sweeps stale
// records anyway.
type RecordSyncer interface {
	SyncBill(ctx context.Context, b models.Bill) error
	SyncArticle(ctx context.Context, a models.Article) error
	SyncBrief(ctx context.Context, b models.Brief) error
}

type billSource interface {
	SearchBills(ctx context.Context, interests []string, region string) ([]models.Bill, error)
}

type articleSource interface {
	Search(ctx context.Context, interests []string, region string) ([]models.Article, error)
}

type scriptGenerator interface {
	GenerateScript(ctx context.Context, material string) (string, error)
}

// BriefHandler runs the whole audio brief pipeline for one user and one
// date: gather material, write the script, render the audio, persist the
// brief, then hand image resolution to a follow-up job.
type BriefHandler struct {
	cfg      config.Config
	store    BriefStore
	queue    JobQueue
	bills    billSource
	news     articleSource
	scripts  scriptGenerator
	renderer *audio.Renderer
	uploader storage.Uploader
	syncer   RecordSyncer
	logger   zerolog.Logger
}

// NewBriefHandler wires the pipeline dependencies.
func NewBriefHandler(
	cfg config.Config,
	st BriefStore,
	q JobQueue,
	bills billSource,
	news articleSource,
	scripts scriptGenerator,
	renderer *audio.Renderer,
	uploader storage.Uploader,
	syncer RecordSyncer,
	logger zerolog.Logger,
) *BriefHandler {
	return &BriefHandler{
		cfg:      cfg,
		store:    st,
		queue:    q,
		bills:    bills,
		news:     news,
		scripts:  scripts,
		renderer: renderer,
		uploader: uploader,
		syncer:   syncer,
		logger:   logger.With().Str("handler", "brief").Logger(),
	}
}

// Handle executes one brief attempt. Any failure restarts the pipeline
// from the top on retry, so every step must be safe to repeat.
func (h *BriefHandler) Handle(ctx context.Context, job models.Job) error {
	var payload models.BriefPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return Permanent(fmt.Errorf("decode brief payload: %w", err))
	}
	if payload.UserID == "" || payload.BriefDate == "" {
		return Permanent(fmt.Errorf("brief payload missing user_id or brief_date"))
	}

	logger := h.logger.With().Str("job_id", job.ID).Str("user_id", payload.UserID).Logger()
	progress := func(pct int) { _ = h.store.UpdateProgress(ctx, job.ID, pct) }

	// Stage 1: gather source material.
	progress(10)
	bills, err := h.bills.SearchBills(ctx, payload.Interests, payload.Region)
	if err != nil {
		return fmt.Errorf("fetch bills: %w", err)
	}
	for i := range bills {
		if err := h.store.UpsertBill(ctx, &bills[i]); err != nil {
			return fmt.Errorf("store bill %s: %w", bills[i].ID, err)
		}
		if err := h.syncer.SyncBill(ctx, bills[i]); err != nil {
			logger.Warn().Err(err).Str("bill_id", bills[i].ID).Msg("Inline bill sync failed, reconciler will retry")
		}
	}
	progress(20)

	articles, err := h.news.Search(ctx, payload.Interests, payload.Region)
	if err != nil {
		return fmt.Errorf("fetch articles: %w", err)
	}
	for i := range articles {
		if err := h.store.UpsertArticle(ctx, &articles[i]); err != nil {
			return fmt.Errorf("store article %s: %w", articles[i].ID, err)
		}
		if err := h.syncer.SyncArticle(ctx, articles[i]); err != nil {
			logger.Warn().Err(err).Str("article_id", articles[i].ID).Msg("Inline article sync failed, reconciler will retry")
		}
	}
	progress(30)

	// Stage 2: write the two-host script.
	material := buildMaterial(payload, bills, articles)
	raw, err := h.scripts.GenerateScript(ctx, material)
	if err != nil {
		return fmt.Errorf("generate script: %w", err)
	}
	progress(40)

	lines, err := dialogue.ParseScript(raw)
	if err != nil {
		// The model occasionally emits malformed output. A fresh
		// attempt usually produces a valid script.
		return fmt.Errorf("parse script: %w", err)
	}
	chunks := dialogue.Chunk(lines, h.cfg.TTSCharBudget)
	progress(60)

	// Stage 3: render and upload the audio. Rendering dominates the
	// attempt wall time, so stretch the lease first.
	_ = h.queue.ExtendLease(ctx, job.ID, h.cfg.VisibilityTimeout)
	combined, err := h.renderer.Render(ctx, chunks)
	if err != nil {
		return fmt.Errorf("render audio: %w", err)
	}
	progress(80)

	key := fmt.Sprintf("briefs/%s/%s.mp3", payload.UserID, payload.BriefDate)
	audioURL, err := h.uploader.Upload(ctx, key, combined, "audio/mpeg")
	if err != nil {
		return fmt.Errorf("upload audio: %w", err)
	}
	progress(90)

	// Stage 4: persist and index the brief.
	brief := models.Brief{
		ID:           payload.UserID + ":" + payload.BriefDate,
		UserID:       payload.UserID,
		BriefDate:    payload.BriefDate,
		Title:        briefTitle(payload.BriefDate),
		Summary:      briefSummary(bills, articles),
		Transcript:   lines,
		AudioURL:     audioURL,
		DurationSecs: estimateDuration(lines),
		Topics:       payload.Interests,
		SourceBills:  billIDs(bills),
	}
	if err := h.store.UpsertBrief(ctx, &brief); err != nil {
		return fmt.Errorf("store brief: %w", err)
	}
	if err := h.syncer.SyncBrief(ctx, brief); err != nil {
		logger.Warn().Err(err).Msg("Inline brief sync failed, reconciler will retry")
	}
	progress(95)

	// Stage 5: image resolution runs as its own job so a flaky image
	// provider cannot fail a finished brief.
	if err := enqueueImageJob(ctx, h.cfg, h.store, h.queue, models.RecordBrief, brief.ID); err != nil {
		logger.Warn().Err(err).Msg("Failed to enqueue image job")
	}

	logger.Info().
		Int("bills", len(bills)).
		Int("articles", len(articles)).
		Int("chunks", len(chunks)).
		Str("audio_url", audioURL).
		Msg("Brief pipeline finished")
	return nil
}

// enqueueImageJob creates and enqueues an image-resolution job for one
// record. Idempotency keyed on the record, so repeated pipeline runs do
// not stack duplicate jobs.
func enqueueImageJob(ctx context.Context, cfg config.Config, st BriefStore, q JobQueue, recordKind, recordID string) error {
	payload, err := json.Marshal(models.ImagePayload{RecordKind: recordKind, RecordID: recordID})
	if err != nil {
		return err
	}
	imageJob, reused, err := st.CreateJob(ctx, store.CreateJobParams{
		Kind:           models.KindImage,
		Payload:        payload,
		IdempotencyKey: "image:" + recordKind + ":" + recordID,
		RunAt:          time.Now(),
		MaxAttempts:    cfg.MaxAttempts,
		IdempotencyTTL: cfg.IdempotencyTTL,
	})
	if err != nil {
		return err
	}
	if reused {
		return nil
	}
	return q.Enqueue(ctx, imageJob.ID, models.KindImage, time.Now())
}

func buildMaterial(payload models.BriefPayload, bills []models.Bill, articles []models.Article) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Daily civic brief for %s.\n", payload.BriefDate)
	if len(payload.Interests) > 0 {
		fmt.Fprintf(&sb, "Listener interests: %s.\n", strings.Join(payload.Interests, ", "))
	}
	if payload.Region != "" {
		fmt.Fprintf(&sb, "Region: %s.\n", payload.Region)
	}

	if len(bills) > 0 {
		sb.WriteString("\nLegislation in motion:\n")
		for _, b := range bills {
			fmt.Fprintf(&sb, "- %s (%s, %s): %s\n", b.Title, b.Chamber, b.BillStatus, b.Summary)
		}
	}
	if len(articles) > 0 {
		sb.WriteString("\nRecent coverage:\n")
		for _, a := range articles {
			fmt.Fprintf(&sb, "- %s (%s): %s\n", a.Title, a.Source, a.Description)
		}
	}
	if len(bills) == 0 && len(articles) == 0 {
		sb.WriteString("\nNo new legislation or coverage matched today. Write a short check-in episode acknowledging the quiet day.\n")
	}
	return sb.String()
}

func briefTitle(briefDate string) string {
	if t, err := time.Parse("2006-01-02", briefDate); err == nil {
		return "Your civic brief for " + t.Format("January 2, 2006")
	}
	return "Your civic brief for " + briefDate
}

func briefSummary(bills []models.Bill, articles []models.Article) string {
	headlines := make([]string, 0, 3)
	for _, b := range bills {
		if len(headlines) == 3 {
			break
		}
		headlines = append(headlines, b.Title)
	}
	for _, a := range articles {
		if len(headlines) == 3 {
			break
		}
		headlines = append(headlines, a.Title)
	}
	if len(headlines) == 0 {
		return "A quiet day in civic news."
	}
	return "Covering: " + strings.Join(headlines, "; ")
}

func estimateDuration(lines []models.DialogueLine) float64 {
	total := 0
	for _, line := range lines {
		total += utf8.RuneCountInString(line.Text)
	}
	return float64(total) / charsPerSecond
}

func billIDs(bills []models.Bill) []string {
	ids := make([]string, 0, len(bills))
	for _, b := range bills {
		ids = append(ids, b.ID)
	}
	return ids
}
