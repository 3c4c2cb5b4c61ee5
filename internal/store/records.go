package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"civicbrief/internal/models"
)

// Canonical record operations. Every content write bumps updated_at past
// synced_to_index_at so the reconciliation sweep can find stale rows.

// UpsertBill writes or overwrites a bill by its natural key.
func (s *Store) UpsertBill(ctx context.Context, b *models.Bill) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO bills (id, title, summary, chamber, bill_status, sponsor, source_url, topics, introduced_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			summary = EXCLUDED.summary,
			chamber = EXCLUDED.chamber,
			bill_status = EXCLUDED.bill_status,
			sponsor = EXCLUDED.sponsor,
			source_url = EXCLUDED.source_url,
			topics = EXCLUDED.topics,
			introduced_at = EXCLUDED.introduced_at,
			updated_at = NOW()
	`, b.ID, b.Title, b.Summary, b.Chamber, b.BillStatus, b.Sponsor, b.SourceURL, b.Topics, b.IntroducedAt)
	if err != nil {
		return fmt.Errorf("upsert bill: %w", err)
	}
	return nil
}

// UpsertArticle writes or overwrites an article by its content-hash key.
func (s *Store) UpsertArticle(ctx context.Context, a *models.Article) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO articles (id, title, description, url, source, image_url, topics, published_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			url = EXCLUDED.url,
			source = EXCLUDED.source,
			image_url = EXCLUDED.image_url,
			topics = EXCLUDED.topics,
			published_at = EXCLUDED.published_at,
			updated_at = NOW()
	`, a.ID, a.Title, a.Description, a.URL, a.Source, a.ImageURL, a.Topics, a.PublishedAt)
	if err != nil {
		return fmt.Errorf("upsert article: %w", err)
	}
	return nil
}

// UpsertBrief writes or overwrites a brief by its user+date natural key.
// Last write wins when two jobs regenerate the same day's brief.
func (s *Store) UpsertBrief(ctx context.Context, b *models.Brief) error {
	transcript, err := json.Marshal(b.Transcript)
	if err != nil {
		return fmt.Errorf("marshal transcript: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO briefs (id, user_id, brief_date, title, summary, transcript, audio_url, duration_secs, topics, source_bills, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			summary = EXCLUDED.summary,
			transcript = EXCLUDED.transcript,
			audio_url = EXCLUDED.audio_url,
			duration_secs = EXCLUDED.duration_secs,
			topics = EXCLUDED.topics,
			source_bills = EXCLUDED.source_bills,
			updated_at = NOW()
	`, b.ID, b.UserID, b.BriefDate, b.Title, b.Summary, transcript, b.AudioURL, b.DurationSecs, b.Topics, b.SourceBills)
	if err != nil {
		return fmt.Errorf("upsert brief: %w", err)
	}
	return nil
}

// GetBill fetches a bill by id.
func (s *Store) GetBill(ctx context.Context, id string) (models.Bill, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, title, summary, chamber, bill_status, sponsor, source_url, topics, introduced_at, updated_at, synced_to_index_at
		FROM bills WHERE id = $1
	`, id)
	return scanBill(row)
}

// GetArticle fetches an article by id.
func (s *Store) GetArticle(ctx context.Context, id string) (models.Article, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, title, description, url, source, image_url, image, topics, published_at, updated_at, synced_to_index_at
		FROM articles WHERE id = $1
	`, id)
	return scanArticle(row)
}

// GetBrief fetches a brief by id.
func (s *Store) GetBrief(ctx context.Context, id string) (models.Brief, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, user_id, brief_date, title, summary, transcript, audio_url, duration_secs, image, topics, source_bills, created_at, updated_at, synced_to_index_at
		FROM briefs WHERE id = $1
	`, id)
	return scanBrief(row)
}

// AttachImage stores a resolved image asset on an article or brief. This
// is a content write: updated_at moves so the projection re-syncs.
func (s *Store) AttachImage(ctx context.Context, recordKind, id string, asset *models.ImageAsset) error {
	raw, err := json.Marshal(asset)
	if err != nil {
		return fmt.Errorf("marshal image asset: %w", err)
	}
	var table string
	switch recordKind {
	case models.RecordArticle:
		table = "articles"
	case models.RecordBrief:
		table = "briefs"
	default:
		return fmt.Errorf("attach image: unsupported record kind %q", recordKind)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE `+table+` SET image = $2, updated_at = NOW() WHERE id = $1
	`, id, raw)
	if err != nil {
		return fmt.Errorf("attach image: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// StaleBills selects bills whose projection lags the canonical row.
func (s *Store) StaleBills(ctx context.Context, limit int) ([]models.Bill, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, title, summary, chamber, bill_status, sponsor, source_url, topics, introduced_at, updated_at, synced_to_index_at
		FROM bills
		WHERE synced_to_index_at IS NULL OR updated_at > synced_to_index_at
		ORDER BY updated_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query stale bills: %w", err)
	}
	defer rows.Close()

	var out []models.Bill
	for rows.Next() {
		b, err := scanBill(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// StaleArticles selects articles whose projection lags the canonical row.
func (s *Store) StaleArticles(ctx context.Context, limit int) ([]models.Article, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, title, description, url, source, image_url, image, topics, published_at, updated_at, synced_to_index_at
		FROM articles
		WHERE synced_to_index_at IS NULL OR updated_at > synced_to_index_at
		ORDER BY updated_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query stale articles: %w", err)
	}
	defer rows.Close()

	var out []models.Article
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// StaleBriefs selects briefs whose projection lags the canonical row.
func (s *Store) StaleBriefs(ctx context.Context, limit int) ([]models.Brief, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, brief_date, title, summary, transcript, audio_url, duration_secs, image, topics, source_bills, created_at, updated_at, synced_to_index_at
		FROM briefs
		WHERE synced_to_index_at IS NULL OR updated_at > synced_to_index_at
		ORDER BY updated_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query stale briefs: %w", err)
	}
	defer rows.Close()

	var out []models.Brief
	for rows.Next() {
		b, err := scanBrief(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// PurgeOldArticles deletes articles published before the cutoff and
// returns their ids so the caller can drop the index projections too.
func (s *Store) PurgeOldArticles(ctx context.Context, olderThan time.Time) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		DELETE FROM articles WHERE published_at < $1 RETURNING id
	`, olderThan)
	if err != nil {
		return nil, fmt.Errorf("purge articles: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan purged article id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MarkSynced records a successful index write. Runs only after the index
// upsert succeeded; a crash before this call leaves the row stale, and the
// next sweep repeats the idempotent sync.
func (s *Store) MarkSynced(ctx context.Context, recordKind, id string, at time.Time) error {
	var table string
	switch recordKind {
	case models.RecordBill:
		table = "bills"
	case models.RecordArticle:
		table = "articles"
	case models.RecordBrief:
		table = "briefs"
	default:
		return fmt.Errorf("mark synced: unsupported record kind %q", recordKind)
	}
	_, err := s.pool.Exec(ctx, `UPDATE `+table+` SET synced_to_index_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("mark synced: %w", err)
	}
	return nil
}

func scanBill(row pgx.Row) (models.Bill, error) {
	var b models.Bill
	var synced pgtype.Timestamptz
	err := row.Scan(&b.ID, &b.Title, &b.Summary, &b.Chamber, &b.BillStatus, &b.Sponsor,
		&b.SourceURL, &b.Topics, &b.IntroducedAt, &b.UpdatedAt, &synced)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Bill{}, ErrNotFound
	}
	if err != nil {
		return models.Bill{}, fmt.Errorf("scan bill: %w", err)
	}
	b.SyncedAt = tsPtr(synced)
	return b, nil
}

func scanArticle(row pgx.Row) (models.Article, error) {
	var a models.Article
	var image []byte
	var synced pgtype.Timestamptz
	err := row.Scan(&a.ID, &a.Title, &a.Description, &a.URL, &a.Source, &a.ImageURL,
		&image, &a.Topics, &a.PublishedAt, &a.UpdatedAt, &synced)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Article{}, ErrNotFound
	}
	if err != nil {
		return models.Article{}, fmt.Errorf("scan article: %w", err)
	}
	if len(image) > 0 {
		var asset models.ImageAsset
		if err := json.Unmarshal(image, &asset); err != nil {
			return models.Article{}, fmt.Errorf("unmarshal article image: %w", err)
		}
		a.Image = &asset
	}
	a.SyncedAt = tsPtr(synced)
	return a, nil
}

func scanBrief(row pgx.Row) (models.Brief, error) {
	var b models.Brief
	var transcript, image []byte
	var synced pgtype.Timestamptz
	err := row.Scan(&b.ID, &b.UserID, &b.BriefDate, &b.Title, &b.Summary, &transcript,
		&b.AudioURL, &b.DurationSecs, &image, &b.Topics, &b.SourceBills,
		&b.CreatedAt, &b.UpdatedAt, &synced)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Brief{}, ErrNotFound
	}
	if err != nil {
		return models.Brief{}, fmt.Errorf("scan brief: %w", err)
	}
	if len(transcript) > 0 {
		if err := json.Unmarshal(transcript, &b.Transcript); err != nil {
			return models.Brief{}, fmt.Errorf("unmarshal transcript: %w", err)
		}
	}
	if len(image) > 0 {
		var asset models.ImageAsset
		if err := json.Unmarshal(image, &asset); err != nil {
			return models.Brief{}, fmt.Errorf("unmarshal brief image: %w", err)
		}
		b.Image = &asset
	}
	b.SyncedAt = tsPtr(synced)
	return b, nil
}
