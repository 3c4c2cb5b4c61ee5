package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"civicbrief/internal/models"
)

// ErrNotFound is returned when a job or canonical record does not exist.
var ErrNotFound = errors.New("not found")

// Store wraps pgxpool for Postgres persistence. It is the single source of
// truth: the search index only ever holds projections derived from rows
// written here.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// CreateJobParams collects inputs required to insert a job.
type CreateJobParams struct {
	Kind           string
	Payload        json.RawMessage
	IdempotencyKey string
	RunAt          time.Time
	MaxAttempts    int
	IdempotencyTTL time.Duration
}

// CreateJob inserts a job row, honoring idempotency if provided.
// It returns the job and a boolean indicating whether an existing job was
// reused via the idempotency key.
func (s *Store) CreateJob(ctx context.Context, p CreateJobParams) (models.Job, bool, error) {
	if p.MaxAttempts == 0 {
		p.MaxAttempts = 3
	}
	if len(p.Payload) == 0 {
		p.Payload = json.RawMessage("{}")
	}
	if p.RunAt.IsZero() {
		p.RunAt = time.Now().UTC()
	}

	// If an idempotency key already exists, short-circuit before creating anything.
	if p.IdempotencyKey != "" {
		if existing, found, err := s.FindByIdempotencyKey(ctx, p.IdempotencyKey); err != nil {
			return models.Job{}, false, err
		} else if found {
			return existing, true, nil
		}
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Job{}, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	id := uuid.New().String()
	now := time.Now().UTC()

	_, err = tx.Exec(ctx, `
		INSERT INTO jobs (id, kind, payload, status, progress_percent, attempts, max_attempts, next_run_at, idempotency_key, created_at)
		VALUES ($1, $2, $3, $4, 0, 0, $5, $6, $7, $8)
	`, id, p.Kind, p.Payload, models.StatusQueued, p.MaxAttempts, p.RunAt, emptyToNil(p.IdempotencyKey), now)
	if err != nil {
		return models.Job{}, false, fmt.Errorf("insert job: %w", err)
	}

	if p.IdempotencyKey != "" {
		expires := now.Add(p.IdempotencyTTL)
		tag, err := tx.Exec(ctx, `
			INSERT INTO idempotency_keys (key, job_id, expires_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (key) DO NOTHING
		`, p.IdempotencyKey, id, expires)
		if err != nil {
			return models.Job{}, false, fmt.Errorf("insert idempotency key: %w", err)
		}
		if tag.RowsAffected() == 0 {
			// Someone else claimed the key after our initial check; return existing job.
			if err := tx.Rollback(ctx); err != nil {
				return models.Job{}, false, fmt.Errorf("rollback after idempotency conflict: %w", err)
			}
			existing, found, err := s.FindByIdempotencyKey(ctx, p.IdempotencyKey)
			if err != nil {
				return models.Job{}, false, err
			}
			if !found {
				return models.Job{}, false, errors.New("idempotency conflict but no existing job found")
			}
			return existing, true, nil
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return models.Job{}, false, fmt.Errorf("commit: %w", err)
	}

	return models.Job{
		ID:             id,
		Kind:           p.Kind,
		Payload:        p.Payload,
		Status:         models.StatusQueued,
		MaxAttempts:    p.MaxAttempts,
		NextRunAt:      p.RunAt,
		IdempotencyKey: emptyToNil(p.IdempotencyKey),
		CreatedAt:      now,
	}, false, nil
}

// FindByIdempotencyKey returns the job mapped to the key if present and unexpired.
func (s *Store) FindByIdempotencyKey(ctx context.Context, key string) (models.Job, bool, error) {
	var id string
	err := s.pool.QueryRow(ctx, `
		SELECT job_id FROM idempotency_keys WHERE key = $1 AND (expires_at IS NULL OR expires_at > NOW())
	`, key).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Job{}, false, nil
	}
	if err != nil {
		return models.Job{}, false, fmt.Errorf("query idempotency key: %w", err)
	}
	job, err := s.GetJob(ctx, id)
	if err != nil {
		return models.Job{}, false, err
	}
	return job, true, nil
}

const jobColumns = `id, kind, payload, status, progress_percent, attempts, max_attempts, next_run_at, last_error, idempotency_key, created_at, started_at, completed_at`

// GetJob fetches a job by id.
func (s *Store) GetJob(ctx context.Context, id string) (models.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	return scanJob(row)
}

// ClaimJob attempts the atomic queued -> active transition for one job.
// Exactly one worker wins the compare-and-swap; everyone else sees
// claimed=false and must drop the job.
func (s *Store) ClaimJob(ctx context.Context, id string) (models.Job, bool, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE jobs
		SET status = $2, started_at = NOW(), progress_percent = 0
		WHERE id = $1 AND status = $3
		RETURNING `+jobColumns+`
	`, id, models.StatusActive, models.StatusQueued)
	job, err := scanJob(row)
	if errors.Is(err, ErrNotFound) {
		return models.Job{}, false, nil
	}
	if err != nil {
		return models.Job{}, false, err
	}
	return job, true, nil
}

// UpdateProgress records pipeline progress for an active job. GREATEST
// keeps the percentage monotonically non-decreasing within one attempt;
// retries reset it through RescheduleRetry.
func (s *Store) UpdateProgress(ctx context.Context, id string, percent int) error {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET progress_percent = GREATEST(progress_percent, $2)
		WHERE id = $1 AND status = $3
	`, id, percent, models.StatusActive)
	return err
}

// MarkCompleted transitions a job to completed at 100%.
func (s *Store) MarkCompleted(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = $2, progress_percent = 100, completed_at = NOW(), last_error = NULL
		WHERE id = $1
	`, id, models.StatusCompleted)
	return err
}

// MarkFailed transitions a job to failed, persisting the error for
// operator inspection.
func (s *Store) MarkFailed(ctx context.Context, id string, lastError string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = $2, completed_at = NOW(), last_error = $3
		WHERE id = $1
	`, id, models.StatusFailed, lastError)
	return err
}

// RescheduleRetry returns a job to the queue after a transient failure.
// Progress resets to zero: a retried job restarts from stage one, so its
// visible progress can drop across attempts.
func (s *Store) RescheduleRetry(ctx context.Context, id string, attempts int, nextRun time.Time, lastErr string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = $2, attempts = $3, next_run_at = $4, last_error = $5, progress_percent = 0, started_at = NULL
		WHERE id = $1
	`, id, models.StatusQueued, attempts, nextRun, lastErr)
	return err
}

// ReleaseJob puts a lost (lease-expired) job back to queued without
// consuming an attempt.
func (s *Store) ReleaseJob(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = $2, started_at = NULL, progress_percent = 0
		WHERE id = $1 AND status = $3
	`, id, models.StatusQueued, models.StatusActive)
	return err
}

// PurgeTerminalJobs deletes completed/failed jobs older than the retention
// window. Returns the number of rows removed.
func (s *Store) PurgeTerminalJobs(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM jobs
		WHERE status IN ($1, $2) AND completed_at < $3
	`, models.StatusCompleted, models.StatusFailed, olderThan)
	if err != nil {
		return 0, fmt.Errorf("purge jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// QueuedDepth returns how many jobs are ready to run right now.
func (s *Store) QueuedDepth(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM jobs WHERE status = $1 AND next_run_at <= NOW()
	`, models.StatusQueued).Scan(&n); err != nil {
		return 0, fmt.Errorf("count queued jobs: %w", err)
	}
	return n, nil
}

func scanJob(row pgx.Row) (models.Job, error) {
	var job models.Job
	var payload []byte
	var lastErr, idem pgtype.Text
	var startedAt, completedAt pgtype.Timestamptz

	err := row.Scan(&job.ID, &job.Kind, &payload, &job.Status, &job.ProgressPercent,
		&job.Attempts, &job.MaxAttempts, &job.NextRunAt, &lastErr, &idem,
		&job.CreatedAt, &startedAt, &completedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Job{}, ErrNotFound
	}
	if err != nil {
		return models.Job{}, fmt.Errorf("scan job: %w", err)
	}
	job.Payload = payload
	job.LastError = textPtr(lastErr)
	job.IdempotencyKey = textPtr(idem)
	job.StartedAt = tsPtr(startedAt)
	job.CompletedAt = tsPtr(completedAt)
	return job, nil
}

func textPtr(t pgtype.Text) *string {
	if t.Valid {
		return &t.String
	}
	return nil
}

func tsPtr(t pgtype.Timestamptz) *time.Time {
	if t.Valid {
		v := t.Time
		return &v
	}
	return nil
}

func emptyToNil(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
