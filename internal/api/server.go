package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"civicbrief/internal/config"
	"civicbrief/internal/index"
	"civicbrief/internal/models"
	"civicbrief/internal/queue"
	"civicbrief/internal/ratelimit"
	"civicbrief/internal/store"
	"civicbrief/internal/telemetry"
)

// Searcher is the read side of the search index.
type Searcher interface {
	Search(q string, limit int) ([]index.Hit, error)
}

// Server wires the HTTP surface: brief requests, news refreshes, job
// polling and search.
type Server struct {
	cfg      config.Config
	store    *store.Store
	queue    *queue.RedisQueue
	searcher Searcher
	limiter  *ratelimit.TokenBucket
	logger   zerolog.Logger
}

// New constructs the API server.
func New(cfg config.Config, st *store.Store, q *queue.RedisQueue, searcher Searcher, limiter *ratelimit.TokenBucket, logger zerolog.Logger) *Server {
	return &Server{
		cfg:      cfg,
		store:    st,
		queue:    q,
		searcher: searcher,
		limiter:  limiter,
		logger:   logger.With().Str("component", "api").Logger(),
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Post("/briefs", s.handleCreateBrief)
	r.Get("/briefs/{id}", s.handleGetBrief)
	r.Post("/news/refresh", s.handleNewsRefresh)
	r.Get("/jobs/{id}", s.handleGetJob)
	r.Get("/search", s.handleSearch)
	return r
}

type createBriefRequest struct {
	UserID    string   `json:"user_id"`
	BriefDate string   `json:"brief_date"`
	Interests []string `json:"interests"`
	Region    string   `json:"region"`
}

type jobResponse struct {
	Job        models.Job `json:"job"`
	Idempotent bool       `json:"idempotent"`
}

func (s *Server) handleCreateBrief(w http.ResponseWriter, r *http.Request) {
	var req createBriefRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}
	if len(req.Interests) == 0 {
		http.Error(w, "interests are required", http.StatusBadRequest)
		return
	}
	if req.BriefDate == "" {
		req.BriefDate = time.Now().UTC().Format("2006-01-02")
	} else if _, err := time.Parse("2006-01-02", req.BriefDate); err != nil {
		http.Error(w, "brief_date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	if !s.allow(w, r, ratelimit.BriefKey(req.UserID)) {
		return
	}

	payload, err := json.Marshal(models.BriefPayload{
		UserID:    req.UserID,
		BriefDate: req.BriefDate,
		Interests: req.Interests,
		Region:    req.Region,
	})
	if err != nil {
		http.Error(w, "encode payload", http.StatusInternalServerError)
		return
	}

	// One brief per user per day: repeated requests return the
	// original job instead of re-running the pipeline.
	s.createAndEnqueue(w, r, store.CreateJobParams{
		Kind:           models.KindBrief,
		Payload:        payload,
		IdempotencyKey: fmt.Sprintf("brief:%s:%s", req.UserID, req.BriefDate),
		RunAt:          time.Now(),
		MaxAttempts:    s.cfg.MaxAttempts,
		IdempotencyTTL: s.cfg.IdempotencyTTL,
	})
}

type newsRefreshRequest struct {
	Interests []string `json:"interests"`
	Region    string   `json:"region"`
}

func (s *Server) handleNewsRefresh(w http.ResponseWriter, r *http.Request) {
	var req newsRefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if len(req.Interests) == 0 {
		http.Error(w, "interests are required", http.StatusBadRequest)
		return
	}

	if !s.allow(w, r, ratelimit.NewsKey(tenantFromRequest(r))) {
		return
	}

	payload, err := json.Marshal(models.NewsPayload{Interests: req.Interests, Region: req.Region})
	if err != nil {
		http.Error(w, "encode payload", http.StatusInternalServerError)
		return
	}

	s.createAndEnqueue(w, r, store.CreateJobParams{
		Kind:        models.KindNews,
		Payload:     payload,
		RunAt:       time.Now(),
		MaxAttempts: s.cfg.MaxAttempts,
	})
}

// createAndEnqueue persists the job row and hands it to the queue. The
// row is authoritative, so an enqueue failure marks the job failed
// rather than leaving it silently stuck.
func (s *Server) createAndEnqueue(w http.ResponseWriter, r *http.Request, params store.CreateJobParams) {
	job, reused, err := s.store.CreateJob(r.Context(), params)
	if err != nil {
		s.logger.Error().Err(err).Str("kind", params.Kind).Msg("Failed to create job")
		http.Error(w, "create job failed", http.StatusInternalServerError)
		return
	}

	if !reused {
		if err := s.queue.Enqueue(r.Context(), job.ID, job.Kind, job.NextRunAt); err != nil {
			_ = s.store.MarkFailed(r.Context(), job.ID, "enqueue failed: "+err.Error())
			s.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to enqueue job")
			http.Error(w, "enqueue failed", http.StatusInternalServerError)
			return
		}
		telemetry.JobsEnqueuedTotal.WithLabelValues(job.Kind).Inc()
	}

	writeJSON(w, http.StatusAccepted, jobResponse{Job: job, Idempotent: reused})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.store.GetJob(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleGetBrief(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	brief, err := s.store.GetBrief(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "brief not found", http.StatusNotFound)
			return
		}
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, brief)
}

type searchResponse struct {
	Query string      `json:"query"`
	Hits  []index.Hit `json:"hits"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		http.Error(w, "q is required", http.StatusBadRequest)
		return
	}

	hits, err := s.searcher.Search(q, 20)
	if err != nil {
		s.logger.Error().Err(err).Str("query", q).Msg("Search failed")
		http.Error(w, "search failed", http.StatusInternalServerError)
		return
	}
	if hits == nil {
		hits = []index.Hit{}
	}
	writeJSON(w, http.StatusOK, searchResponse{Query: q, Hits: hits})
}

func (s *Server) allow(w http.ResponseWriter, r *http.Request, key string) bool {
	if s.limiter == nil {
		return true
	}
	allowed, _, err := s.limiter.Allow(r.Context(), key)
	if err != nil {
		http.Error(w, "rate limit error", http.StatusInternalServerError)
		return false
	}
	if !allowed {
		telemetry.RateLimitRejects.Inc()
		http.Error(w, "rate limited", http.StatusTooManyRequests)
		return false
	}
	return true
}

func tenantFromRequest(r *http.Request) string {
	if v := r.Header.Get("X-Tenant-ID"); v != "" {
		return v
	}
	return "default"
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
