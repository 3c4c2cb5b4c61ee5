package worker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"civicbrief/internal/config"
	"civicbrief/internal/models"
	"civicbrief/internal/telemetry"
)

// JobStore is the slice of the canonical store the processor needs. The
// store row is authoritative for job state; queue entries are only
// delivery hints.
type JobStore interface {
	ClaimJob(ctx context.Context, id string) (models.Job, bool, error)
	MarkCompleted(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, lastError string) error
	RescheduleRetry(ctx context.Context, id string, attempts int, nextRun time.Time, lastErr string) error
	ReleaseJob(ctx context.Context, id string) error
}

// JobQueue is the delivery side of the worker loop.
type JobQueue interface {
	Enqueue(ctx context.Context, jobID, kind string, runAt time.Time) error
	DequeueWithLease(ctx context.Context, kinds ...string) (string, error)
	Ack(ctx context.Context, jobID string) error
	Schedule(ctx context.Context, jobID, kind string, runAt time.Time) error
	PromoteScheduled(ctx context.Context, now time.Time, limit int64) (int, error)
	RequeueExpired(ctx context.Context, now time.Time, limit int64) ([]string, error)
	ExtendLease(ctx context.Context, jobID string, extension time.Duration) error
	ReadyDepth(ctx context.Context) (int64, error)
}

// Handler executes one job attempt. Returning nil completes the job; a
// PermanentError fails it immediately; any other error schedules a retry.
type Handler func(ctx context.Context, job models.Job) error

// PermanentError marks a failure that retrying cannot fix, such as an
// unparseable payload. The processor fails the job without consuming the
// remaining attempts.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// Processor drives the worker execution loop: dequeue, claim, run the
// handler, then settle the job as completed, retried or failed.
type Processor struct {
	cfg      config.Config
	queue    JobQueue
	store    JobStore
	handlers map[string]Handler
	logger   zerolog.Logger
}

// NewProcessor creates a processor. Handlers are registered per job kind
// before Run.
func NewProcessor(cfg config.Config, q JobQueue, st JobStore, logger zerolog.Logger) *Processor {
	return &Processor{
		cfg:      cfg,
		queue:    q,
		store:    st,
		handlers: make(map[string]Handler),
		logger:   logger.With().Str("component", "worker").Logger(),
	}
}

// RegisterHandler binds a handler to a job kind.
func (p *Processor) RegisterHandler(kind string, handler Handler) {
	if kind == "" || handler == nil {
		return
	}
	p.handlers[kind] = handler
}

// Run starts concurrency poll loops over the given kinds plus one
// maintenance loop, and blocks until ctx is cancelled.
func (p *Processor) Run(ctx context.Context, kinds []string, concurrency int) error {
	if concurrency <= 0 {
		concurrency = 1
	}

	var wg sync.WaitGroup
	wg.Add(concurrency + 1)

	go func() {
		defer wg.Done()
		p.maintenanceLoop(ctx)
	}()
	for i := 0; i < concurrency; i++ {
		go func() {
			defer wg.Done()
			p.pollLoop(ctx, kinds)
		}()
	}

	wg.Wait()
	return ctx.Err()
}

// maintenanceLoop promotes due scheduled jobs, reclaims expired leases
// and keeps the depth gauge fresh.
func (p *Processor) maintenanceLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.WorkerPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		now := time.Now()
		if _, err := p.queue.PromoteScheduled(ctx, now, 100); err != nil {
			p.logger.Warn().Err(err).Msg("Failed to promote scheduled jobs")
		}

		reclaimed, err := p.queue.RequeueExpired(ctx, now, 100)
		if err != nil {
			p.logger.Warn().Err(err).Msg("Failed to requeue expired leases")
		}
		for _, id := range reclaimed {
			// Worker died mid-attempt. Release without consuming an
			// attempt; the retry budget is for handler failures.
			if err := p.store.ReleaseJob(ctx, id); err != nil {
				p.logger.Error().Err(err).Str("job_id", id).Msg("Failed to release reclaimed job")
			} else {
				p.logger.Warn().Str("job_id", id).Msg("Reclaimed job with expired lease")
			}
		}

		if depth, err := p.queue.ReadyDepth(ctx); err == nil {
			telemetry.QueueDepth.WithLabelValues("all").Set(float64(depth))
		}
	}
}

func (p *Processor) pollLoop(ctx context.Context, kinds []string) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		jobID, err := p.queue.DequeueWithLease(ctx, kinds...)
		if err != nil || jobID == "" {
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.cfg.WorkerPollInterval):
			}
			continue
		}

		p.processOne(ctx, jobID)
	}
}

// processOne runs a single dequeued job through claim, handler and
// settlement.
func (p *Processor) processOne(ctx context.Context, jobID string) {
	job, claimed, err := p.store.ClaimJob(ctx, jobID)
	if err != nil {
		p.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to claim job")
		_ = p.queue.Ack(ctx, jobID)
		return
	}
	if !claimed {
		// Lost the CAS, or the job is already terminal. Drop the
		// queue entry and move on.
		_ = p.queue.Ack(ctx, jobID)
		return
	}

	logger := p.logger.With().Str("job_id", job.ID).Str("kind", job.Kind).Logger()
	telemetry.JobsInFlight.WithLabelValues(job.Kind).Inc()
	defer telemetry.JobsInFlight.WithLabelValues(job.Kind).Dec()

	started := time.Now()
	runErr := p.runJob(ctx, job)
	elapsed := time.Since(started).Seconds()

	if runErr == nil {
		_ = p.queue.Ack(ctx, job.ID)
		if err := p.store.MarkCompleted(ctx, job.ID); err != nil {
			logger.Error().Err(err).Msg("Failed to mark job completed")
			return
		}
		telemetry.JobsCompletedTotal.WithLabelValues(job.Kind).Inc()
		telemetry.JobDuration.WithLabelValues(job.Kind, "completed").Observe(elapsed)
		logger.Info().Float64("seconds", elapsed).Msg("Job completed")
		return
	}

	attempts := job.Attempts + 1

	var perm *PermanentError
	if errors.As(runErr, &perm) || attempts >= job.MaxAttempts {
		_ = p.queue.Ack(ctx, job.ID)
		if err := p.store.MarkFailed(ctx, job.ID, runErr.Error()); err != nil {
			logger.Error().Err(err).Msg("Failed to mark job failed")
			return
		}
		telemetry.JobsFailedTotal.WithLabelValues(job.Kind).Inc()
		telemetry.JobDuration.WithLabelValues(job.Kind, "failed").Observe(elapsed)
		logger.Error().Err(runErr).Int("attempts", attempts).Msg("Job failed permanently")
		return
	}

	backoff := backoffWithJitter(p.cfg.BackoffInitial, p.cfg.BackoffMax, attempts)
	nextRun := time.Now().Add(backoff)

	_ = p.queue.Ack(ctx, job.ID)
	if err := p.store.RescheduleRetry(ctx, job.ID, attempts, nextRun, runErr.Error()); err != nil {
		logger.Error().Err(err).Msg("Failed to reschedule retry")
		return
	}
	if err := p.queue.Schedule(ctx, job.ID, job.Kind, nextRun); err != nil {
		logger.Error().Err(err).Msg("Failed to schedule retry delivery")
	}
	telemetry.JobsRetriedTotal.WithLabelValues(job.Kind).Inc()
	logger.Warn().Err(runErr).
		Int("attempt", attempts).
		Dur("backoff", backoff).
		Time("next_run", nextRun).
		Msg("Job attempt failed, retry scheduled")
}

func (p *Processor) runJob(ctx context.Context, job models.Job) error {
	handler, ok := p.handlers[job.Kind]
	if !ok {
		return Permanent(fmt.Errorf("no handler registered for kind %q", job.Kind))
	}
	return handler(ctx, job)
}

func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		return base
	}
	exp := float64(base) * math.Pow(2, float64(attempt-1))
	wait := time.Duration(exp)
	if wait > max {
		wait = max
	}
	jitter := time.Duration(rand.Int63n(int64(wait / 2)))
	return wait/2 + jitter
}
