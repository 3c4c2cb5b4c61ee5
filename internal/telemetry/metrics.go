package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	JobsEnqueuedTotal  = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "briefs_jobs_enqueued_total", Help: "Jobs accepted into the queue"}, []string{"kind"})
	JobsCompletedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "briefs_jobs_completed_total", Help: "Jobs completed successfully"}, []string{"kind"})
	JobsRetriedTotal   = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "briefs_jobs_retried_total", Help: "Job attempts that failed and were rescheduled"}, []string{"kind"})
	JobsFailedTotal    = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "briefs_jobs_failed_total", Help: "Jobs that exhausted their attempts"}, []string{"kind"})
	JobsInFlight       = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "briefs_jobs_inflight", Help: "Jobs currently leased by a worker"}, []string{"kind"})
	QueueDepth         = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "briefs_queue_depth", Help: "Ready queue depth"}, []string{"kind"})
	RateLimitRejects   = prometheus.NewCounter(prometheus.CounterOpts{Name: "briefs_rate_limit_rejects_total", Help: "Requests rejected by rate limiter"})
	JobDuration        = prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "briefs_job_duration_seconds", Help: "Job attempt duration", Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600}}, []string{"kind", "outcome"})
	IndexSyncTotal     = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "briefs_index_sync_total", Help: "Search index sync attempts"}, []string{"record_kind", "outcome"})
	ImageResolvedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "briefs_image_resolved_total", Help: "Images resolved, by source tier"}, []string{"tier"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			JobsEnqueuedTotal,
			JobsCompletedTotal,
			JobsRetriedTotal,
			JobsFailedTotal,
			JobsInFlight,
			QueueDepth,
			RateLimitRejects,
			JobDuration,
			IndexSyncTotal,
			ImageResolvedTotal,
		)
	})
	return promhttp.Handler()
}
