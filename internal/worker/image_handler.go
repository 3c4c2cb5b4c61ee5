package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"time"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"

	"civicbrief/internal/config"
	"civicbrief/internal/images"
	"civicbrief/internal/models"
	"civicbrief/internal/storage"
	"civicbrief/internal/store"
)

// ImageStore is the canonical-store surface of image resolution.
type ImageStore interface {
	GetBill(ctx context.Context, id string) (models.Bill, error)
	GetArticle(ctx context.Context, id string) (models.Article, error)
	GetBrief(ctx context.Context, id string) (models.Brief, error)
	AttachImage(ctx context.Context, recordKind, id string, asset *models.ImageAsset) error
	UpdateProgress(ctx context.Context, id string, percent int) error
}

type imageResolver interface {
	Resolve(ctx context.Context, subject images.Subject) (*models.ImageAsset, error)
}

// ImageHandler resolves an image for one record through the waterfall,
// normalizes it to a hosted thumbnail, and attaches it to the record.
type ImageHandler struct {
	cfg        config.Config
	store      ImageStore
	resolver   imageResolver
	uploader   storage.Uploader
	syncer     RecordSyncer
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewImageHandler wires the image pipeline dependencies.
func NewImageHandler(cfg config.Config, st ImageStore, resolver imageResolver, uploader storage.Uploader, syncer RecordSyncer, logger zerolog.Logger) *ImageHandler {
	timeout := cfg.ImageDownloadTimeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &ImageHandler{
		cfg:        cfg,
		store:      st,
		resolver:   resolver,
		uploader:   uploader,
		syncer:     syncer,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With().Str("handler", "image").Logger(),
	}
}

// Handle resolves, re-hosts and attaches an image for the payload record.
func (h *ImageHandler) Handle(ctx context.Context, job models.Job) error {
	var payload models.ImagePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return Permanent(fmt.Errorf("decode image payload: %w", err))
	}
	if payload.RecordKind == "" || payload.RecordID == "" {
		return Permanent(fmt.Errorf("image payload missing record_kind or record_id"))
	}

	logger := h.logger.With().
		Str("job_id", job.ID).
		Str("record_kind", payload.RecordKind).
		Str("record_id", payload.RecordID).
		Logger()
	progress := func(pct int) { _ = h.store.UpdateProgress(ctx, job.ID, pct) }

	progress(10)
	subject, record, err := h.loadSubject(ctx, payload)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Permanent(fmt.Errorf("record %s/%s not found", payload.RecordKind, payload.RecordID))
		}
		return fmt.Errorf("load record: %w", err)
	}
	progress(25)

	asset, err := h.resolver.Resolve(ctx, subject)
	if err != nil {
		return fmt.Errorf("resolve image: %w", err)
	}
	progress(50)

	// Placeholders already live in our bucket; everything else gets
	// normalized and re-hosted so records never point at third-party
	// image servers.
	if asset.Tier != models.TierPlaceholder {
		hostedURL, err := h.rehost(ctx, payload, asset.URL)
		if err != nil {
			logger.Warn().Err(err).Str("source_url", asset.URL).Msg("Re-host failed, keeping source URL")
		} else {
			asset.URL = hostedURL
		}
	}
	progress(80)

	if err := h.store.AttachImage(ctx, payload.RecordKind, payload.RecordID, asset); err != nil {
		return fmt.Errorf("attach image: %w", err)
	}
	if err := h.syncRecord(ctx, payload, record, asset); err != nil {
		logger.Warn().Err(err).Msg("Inline record sync failed, reconciler will retry")
	}

	logger.Info().Str("tier", asset.Tier).Str("url", asset.URL).Msg("Image attached")
	return nil
}

// loadSubject fetches the record and flattens it for the waterfall.
func (h *ImageHandler) loadSubject(ctx context.Context, payload models.ImagePayload) (images.Subject, any, error) {
	subject := images.Subject{Kind: payload.RecordKind, ID: payload.RecordID}

	switch payload.RecordKind {
	case models.RecordBill:
		bill, err := h.store.GetBill(ctx, payload.RecordID)
		if err != nil {
			return subject, nil, err
		}
		subject.Title = bill.Title
		subject.Description = bill.Summary
		subject.Topics = bill.Topics
		subject.PageURL = bill.SourceURL
		return subject, bill, nil
	case models.RecordArticle:
		article, err := h.store.GetArticle(ctx, payload.RecordID)
		if err != nil {
			return subject, nil, err
		}
		subject.Title = article.Title
		subject.Description = article.Description
		subject.Topics = article.Topics
		subject.ExplicitURL = article.ImageURL
		subject.PageURL = article.URL
		return subject, article, nil
	case models.RecordBrief:
		brief, err := h.store.GetBrief(ctx, payload.RecordID)
		if err != nil {
			return subject, nil, err
		}
		subject.Title = brief.Title
		subject.Description = brief.Summary
		subject.Topics = brief.Topics
		return subject, brief, nil
	default:
		return subject, nil, Permanent(fmt.Errorf("unknown record kind %q", payload.RecordKind))
	}
}

// syncRecord re-indexes the record with its image attached.
func (h *ImageHandler) syncRecord(ctx context.Context, payload models.ImagePayload, record any, asset *models.ImageAsset) error {
	switch r := record.(type) {
	case models.Bill:
		return h.syncer.SyncBill(ctx, r)
	case models.Article:
		r.Image = asset
		return h.syncer.SyncArticle(ctx, r)
	case models.Brief:
		r.Image = asset
		return h.syncer.SyncBrief(ctx, r)
	default:
		return fmt.Errorf("unknown record type for %s", payload.RecordKind)
	}
}

// rehost downloads the source image, scales it to thumbnail width and
// uploads it to our bucket.
func (h *ImageHandler) rehost(ctx context.Context, payload models.ImagePayload, sourceURL string) (string, error) {
	data, err := h.download(ctx, sourceURL)
	if err != nil {
		return "", err
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("decode image: %w", err)
	}

	width := h.cfg.ImageThumbWidth
	if width == 0 {
		width = 640
	}
	if img.Bounds().Dx() > width {
		img = imaging.Resize(img, width, 0, imaging.Lanczos)
	}

	buf := &bytes.Buffer{}
	if err := imaging.Encode(buf, img, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return "", fmt.Errorf("encode image: %w", err)
	}

	key := fmt.Sprintf("images/%s/%s.jpg", payload.RecordKind, payload.RecordID)
	return h.uploader.Upload(ctx, key, buf.Bytes(), "image/jpeg")
}

func (h *ImageHandler) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("download image: status %d", resp.StatusCode)
	}

	limit := h.cfg.ImageMaxBytes
	if limit == 0 {
		limit = 10 * 1024 * 1024
	}
	limited := io.LimitReader(resp.Body, limit+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("image too large (>%d bytes)", limit)
	}
	return body, nil
}
