package models

import (
	"encoding/json"
	"time"
)

// Job kinds routed to dedicated worker pools.
const (
	KindBrief = "brief"
	KindNews  = "news"
	KindImage = "image"
)

// Job lifecycle states persisted in Postgres.
const (
	StatusQueued    = "queued"
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Job represents one unit of background pipeline work. The Postgres row is
// authoritative; Redis only carries the job ID through the ready,
// scheduled, and in-flight structures.
type Job struct {
	ID              string          `json:"id"`
	Kind            string          `json:"kind"`
	Payload         json.RawMessage `json:"payload"`
	Status          string          `json:"status"`
	ProgressPercent int             `json:"progress_percent"`
	Attempts        int             `json:"attempts"`
	MaxAttempts     int             `json:"max_attempts"`
	NextRunAt       time.Time       `json:"next_run_at"`
	LastError       *string         `json:"last_error,omitempty"`
	IdempotencyKey  *string         `json:"idempotency_key,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
}

// BriefPayload requests a generated audio brief for one user and day.
type BriefPayload struct {
	UserID    string   `json:"user_id"`
	BriefDate string   `json:"brief_date"` // YYYY-MM-DD
	Interests []string `json:"interests"`
	Region    string   `json:"region,omitempty"`
}

// NewsPayload requests a refresh of canonical articles for interest tags.
type NewsPayload struct {
	Interests []string `json:"interests"`
	Region    string   `json:"region,omitempty"`
}

// ImagePayload requests image resolution for one owning record.
type ImagePayload struct {
	RecordKind string `json:"record_kind"` // article | brief
	RecordID   string `json:"record_id"`
}
