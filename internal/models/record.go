package models

import "time"

// Record kinds accepted by the canonical store and the index projector.
const (
	RecordBill    = "bill"
	RecordArticle = "article"
	RecordBrief   = "brief"
)

// ImageAsset resolution tiers, ordered by cost/quality of the waterfall.
const (
	TierExplicit     = "explicit"
	TierPageMetadata = "page-metadata"
	TierKeyword      = "keyword-search"
	TierPlaceholder  = "placeholder"
)

// ImageAsset is a displayable image attached to an article or brief.
type ImageAsset struct {
	URL             string `json:"url"`
	AltText         string `json:"alt_text"`
	AttributionName string `json:"attribution_name,omitempty"`
	AttributionURL  string `json:"attribution_url,omitempty"`
	Tier            string `json:"tier"`
}

// Bill is the canonical, complete-fidelity record of a piece of
// legislation. SyncedToIndexAt is nil until the projector has written the
// derived projection; any content write bumps UpdatedAt past it so
// staleness stays detectable.
type Bill struct {
	ID           string     `json:"id"` // natural key, e.g. "us-hr-1234-119"
	Title        string     `json:"title"`
	Summary      string     `json:"summary"`
	Chamber      string     `json:"chamber"`
	BillStatus   string     `json:"bill_status"`
	Sponsor      string     `json:"sponsor"`
	SourceURL    string     `json:"source_url"`
	Topics       []string   `json:"topics"`
	IntroducedAt time.Time  `json:"introduced_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	SyncedAt     *time.Time `json:"synced_to_index_at,omitempty"`
}

// Article is the canonical record of a news article.
type Article struct {
	ID          string      `json:"id"` // sha of the canonical URL
	Title       string      `json:"title"`
	Description string      `json:"description"`
	URL         string      `json:"url"`
	Source      string      `json:"source"`
	ImageURL    string      `json:"image_url,omitempty"` // publisher-declared, waterfall tier 1
	Image       *ImageAsset `json:"image,omitempty"`
	Topics      []string    `json:"topics"`
	PublishedAt time.Time   `json:"published_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
	SyncedAt    *time.Time  `json:"synced_to_index_at,omitempty"`
}

// Brief is the canonical record of a finished audio brief: the dialogue
// transcript, the rendered audio artifact, and its provenance.
type Brief struct {
	ID           string         `json:"id"` // userID + brief date
	UserID       string         `json:"user_id"`
	BriefDate    string         `json:"brief_date"`
	Title        string         `json:"title"`
	Summary      string         `json:"summary"`
	Transcript   []DialogueLine `json:"transcript"`
	AudioURL     string         `json:"audio_url"`
	DurationSecs float64        `json:"duration_secs"`
	Image        *ImageAsset    `json:"image,omitempty"`
	Topics       []string       `json:"topics"`
	SourceBills  []string       `json:"source_bills"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	SyncedAt     *time.Time     `json:"synced_to_index_at,omitempty"`
}

// Stale reports whether the record needs a (re-)sync to the search index.
func Stale(updatedAt time.Time, syncedAt *time.Time) bool {
	return syncedAt == nil || updatedAt.After(*syncedAt)
}
