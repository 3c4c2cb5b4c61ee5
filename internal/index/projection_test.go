package index

import (
	"reflect"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"civicbrief/internal/models"
)

func TestTruncate(t *testing.T) {
	if got := Truncate("short", 200); got != "short" {
		t.Fatalf("short string changed: %q", got)
	}

	long := strings.Repeat("a", 300)
	got := Truncate(long, 200)
	if utf8.RuneCountInString(got) != 200 {
		t.Fatalf("expected 200 runes, got %d", utf8.RuneCountInString(got))
	}
	if !strings.HasSuffix(got, truncationMarker) {
		t.Fatalf("truncated string missing marker: %q", got[190:])
	}

	// Idempotent: truncating an already-truncated string is a no-op.
	if again := Truncate(got, 200); again != got {
		t.Fatal("truncation is not idempotent")
	}
}

func TestTruncateMultibyte(t *testing.T) {
	long := strings.Repeat("語", 250)
	got := Truncate(long, 200)
	if utf8.RuneCountInString(got) != 200 {
		t.Fatalf("expected 200 runes, got %d", utf8.RuneCountInString(got))
	}
	if !utf8.ValidString(got) {
		t.Fatal("truncation split a rune")
	}
}

func TestProjectBriefDeterministic(t *testing.T) {
	brief := models.Brief{
		ID:        "u1:2026-08-27",
		Title:     strings.Repeat("t", 500),
		Summary:   strings.Repeat("s", 1500),
		Topics:    []string{"housing"},
		UpdatedAt: time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC),
		Transcript: []models.DialogueLine{
			{Speaker: models.SpeakerHostA, Text: strings.Repeat("w", 1500)},
			{Speaker: models.SpeakerHostB, Text: strings.Repeat("v", 1500)},
		},
	}

	a := ProjectBrief(brief)
	b := ProjectBrief(brief)
	if !reflect.DeepEqual(a, b) {
		t.Fatal("projection is not deterministic")
	}

	if a.ID != "brief:u1:2026-08-27" {
		t.Fatalf("unexpected doc id: %s", a.ID)
	}
	if utf8.RuneCountInString(a.Title) != 200 {
		t.Fatalf("title not capped: %d", utf8.RuneCountInString(a.Title))
	}
	if utf8.RuneCountInString(a.Body) != 1000 {
		t.Fatalf("body not capped: %d", utf8.RuneCountInString(a.Body))
	}
	if utf8.RuneCountInString(a.Transcript) != 2000 {
		t.Fatalf("transcript not capped: %d", utf8.RuneCountInString(a.Transcript))
	}
}

func TestProjectArticlePrefersAttachedImage(t *testing.T) {
	article := models.Article{
		ID:       "abc",
		Title:    "City budget passes",
		ImageURL: "https://example.com/raw.jpg",
		Image:    &models.ImageAsset{URL: "https://cdn.example.com/hosted.jpg", Tier: models.TierExplicit},
	}
	doc := ProjectArticle(article)
	if doc.ImageURL != "https://cdn.example.com/hosted.jpg" {
		t.Fatalf("expected hosted image, got %s", doc.ImageURL)
	}

	article.Image = nil
	doc = ProjectArticle(article)
	if doc.ImageURL != "https://example.com/raw.jpg" {
		t.Fatalf("expected raw image fallback, got %s", doc.ImageURL)
	}
}
