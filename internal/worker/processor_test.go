package worker

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"civicbrief/internal/config"
	"civicbrief/internal/models"
)

func TestBackoffWithJitter(t *testing.T) {
	rand.Seed(1)
	base := time.Second
	max := 8 * time.Second

	b1 := backoffWithJitter(base, max, 1)
	if b1 < base/2 || b1 > max {
		t.Fatalf("backoff out of range: %s", b1)
	}

	b3 := backoffWithJitter(base, max, 3)
	if b3 < base || b3 > max {
		t.Fatalf("backoff out of range for attempt 3: %s", b3)
	}
}

type retryCall struct {
	attempts int
	nextRun  time.Time
	lastErr  string
}

type fakeJobStore struct {
	job       models.Job
	claimable bool

	completed []string
	failed    map[string]string
	retried   map[string]retryCall
	released  []string
}

func newFakeJobStore(job models.Job) *fakeJobStore {
	return &fakeJobStore{
		job:       job,
		claimable: true,
		failed:    make(map[string]string),
		retried:   make(map[string]retryCall),
	}
}

func (f *fakeJobStore) ClaimJob(_ context.Context, id string) (models.Job, bool, error) {
	if !f.claimable || id != f.job.ID {
		return models.Job{}, false, nil
	}
	f.claimable = false
	job := f.job
	job.Status = models.StatusActive
	return job, true, nil
}

func (f *fakeJobStore) MarkCompleted(_ context.Context, id string) error {
	f.completed = append(f.completed, id)
	return nil
}

func (f *fakeJobStore) MarkFailed(_ context.Context, id string, lastError string) error {
	f.failed[id] = lastError
	return nil
}

func (f *fakeJobStore) RescheduleRetry(_ context.Context, id string, attempts int, nextRun time.Time, lastErr string) error {
	f.retried[id] = retryCall{attempts: attempts, nextRun: nextRun, lastErr: lastErr}
	return nil
}

func (f *fakeJobStore) ReleaseJob(_ context.Context, id string) error {
	f.released = append(f.released, id)
	return nil
}

type fakeJobQueue struct {
	acked     []string
	scheduled map[string]time.Time
	enqueued  []string
}

func newFakeJobQueue() *fakeJobQueue {
	return &fakeJobQueue{scheduled: make(map[string]time.Time)}
}

func (f *fakeJobQueue) Enqueue(_ context.Context, jobID, _ string, _ time.Time) error {
	f.enqueued = append(f.enqueued, jobID)
	return nil
}
func (f *fakeJobQueue) DequeueWithLease(_ context.Context, _ ...string) (string, error) {
	return "", nil
}
func (f *fakeJobQueue) Ack(_ context.Context, jobID string) error {
	f.acked = append(f.acked, jobID)
	return nil
}
func (f *fakeJobQueue) Schedule(_ context.Context, jobID, _ string, runAt time.Time) error {
	f.scheduled[jobID] = runAt
	return nil
}
func (f *fakeJobQueue) PromoteScheduled(_ context.Context, _ time.Time, _ int64) (int, error) {
	return 0, nil
}
func (f *fakeJobQueue) RequeueExpired(_ context.Context, _ time.Time, _ int64) ([]string, error) {
	return nil, nil
}
func (f *fakeJobQueue) ExtendLease(_ context.Context, _ string, _ time.Duration) error { return nil }
func (f *fakeJobQueue) ReadyDepth(_ context.Context) (int64, error)                    { return 0, nil }

func testConfig() config.Config {
	return config.Config{
		MaxAttempts:        3,
		BackoffInitial:     time.Second,
		BackoffMax:         time.Minute,
		WorkerPollInterval: 10 * time.Millisecond,
	}
}

func testJob(attempts int) models.Job {
	return models.Job{
		ID:          "job-1",
		Kind:        models.KindBrief,
		Payload:     []byte(`{}`),
		Status:      models.StatusQueued,
		Attempts:    attempts,
		MaxAttempts: 3,
	}
}

func TestProcessOneCompletes(t *testing.T) {
	st := newFakeJobStore(testJob(0))
	q := newFakeJobQueue()
	p := NewProcessor(testConfig(), q, st, zerolog.Nop())
	p.RegisterHandler(models.KindBrief, func(_ context.Context, _ models.Job) error { return nil })

	p.processOne(context.Background(), "job-1")

	if len(st.completed) != 1 || st.completed[0] != "job-1" {
		t.Fatalf("expected completion, got %v", st.completed)
	}
	if len(q.acked) != 1 {
		t.Fatalf("expected ack, got %v", q.acked)
	}
	if len(st.retried) != 0 || len(st.failed) != 0 {
		t.Fatalf("unexpected retry/failure: %v %v", st.retried, st.failed)
	}
}

func TestProcessOneSchedulesRetryWithBackoff(t *testing.T) {
	st := newFakeJobStore(testJob(0))
	q := newFakeJobQueue()
	p := NewProcessor(testConfig(), q, st, zerolog.Nop())
	p.RegisterHandler(models.KindBrief, func(_ context.Context, _ models.Job) error {
		return errors.New("tts unavailable")
	})

	before := time.Now()
	p.processOne(context.Background(), "job-1")

	call, ok := st.retried["job-1"]
	if !ok {
		t.Fatal("expected retry")
	}
	if call.attempts != 1 {
		t.Fatalf("expected attempts=1, got %d", call.attempts)
	}
	if call.lastErr != "tts unavailable" {
		t.Fatalf("unexpected last error: %q", call.lastErr)
	}
	if !call.nextRun.After(before) {
		t.Fatalf("retry must run in the future: %s", call.nextRun)
	}
	if _, ok := q.scheduled["job-1"]; !ok {
		t.Fatal("expected queue schedule for retry")
	}
	if len(st.failed) != 0 {
		t.Fatalf("job should not be failed yet: %v", st.failed)
	}
}

func TestProcessOneFailsAfterMaxAttempts(t *testing.T) {
	// Two attempts already consumed, max is three: this failure is final.
	st := newFakeJobStore(testJob(2))
	q := newFakeJobQueue()
	p := NewProcessor(testConfig(), q, st, zerolog.Nop())
	p.RegisterHandler(models.KindBrief, func(_ context.Context, _ models.Job) error {
		return errors.New("still broken")
	})

	p.processOne(context.Background(), "job-1")

	if _, ok := st.failed["job-1"]; !ok {
		t.Fatal("expected permanent failure after max attempts")
	}
	if len(st.retried) != 0 {
		t.Fatalf("no retry should be scheduled: %v", st.retried)
	}
}

func TestProcessOnePermanentErrorSkipsRetries(t *testing.T) {
	st := newFakeJobStore(testJob(0))
	q := newFakeJobQueue()
	p := NewProcessor(testConfig(), q, st, zerolog.Nop())
	p.RegisterHandler(models.KindBrief, func(_ context.Context, _ models.Job) error {
		return Permanent(errors.New("payload is garbage"))
	})

	p.processOne(context.Background(), "job-1")

	if _, ok := st.failed["job-1"]; !ok {
		t.Fatal("expected immediate failure for permanent error")
	}
	if len(st.retried) != 0 {
		t.Fatalf("permanent errors must not retry: %v", st.retried)
	}
}

func TestProcessOneDropsLostClaim(t *testing.T) {
	st := newFakeJobStore(testJob(0))
	st.claimable = false
	q := newFakeJobQueue()
	handled := false
	p := NewProcessor(testConfig(), q, st, zerolog.Nop())
	p.RegisterHandler(models.KindBrief, func(_ context.Context, _ models.Job) error {
		handled = true
		return nil
	})

	p.processOne(context.Background(), "job-1")

	if handled {
		t.Fatal("handler must not run without a claim")
	}
	if len(q.acked) != 1 {
		t.Fatalf("stale queue entry should be acked: %v", q.acked)
	}
	if len(st.completed) != 0 && len(st.failed) != 0 {
		t.Fatal("lost claim must not settle the job")
	}
}

func TestProcessOneUnknownKindFails(t *testing.T) {
	st := newFakeJobStore(testJob(0))
	q := newFakeJobQueue()
	p := NewProcessor(testConfig(), q, st, zerolog.Nop())

	p.processOne(context.Background(), "job-1")

	if _, ok := st.failed["job-1"]; !ok {
		t.Fatal("expected failure for unregistered kind")
	}
}
