package index

import (
	"strings"
	"time"
	"unicode/utf8"

	"civicbrief/internal/models"
)

// Field ceilings for index documents. Long text is stored truncated; the
// canonical store keeps the full value.
const (
	maxTitleRunes      = 200
	maxBodyRunes       = 1000
	maxTranscriptRunes = 2000

	truncationMarker = "…"
)

// Doc is the flattened, size-bounded shape a record takes in the search
// index. Projection is deterministic: the same record always yields the
// same doc.
type Doc struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	Title      string    `json:"title"`
	Body       string    `json:"body"`
	Transcript string    `json:"transcript,omitempty"`
	Topics     []string  `json:"topics"`
	ImageURL   string    `json:"image_url,omitempty"`
	SourceURL  string    `json:"source_url,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Truncate caps s at limit runes. When trimmed, the last rune of the
// output is the truncation marker so readers can tell the text is not
// whole. Already-short strings pass through unchanged, which makes the
// operation idempotent.
func Truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit-1]) + truncationMarker
}

// ProjectBill flattens a bill into its index document.
func ProjectBill(b models.Bill) Doc {
	doc := Doc{
		ID:        docID(models.RecordBill, b.ID),
		Kind:      models.RecordBill,
		Title:     Truncate(b.Title, maxTitleRunes),
		Body:      Truncate(b.Summary, maxBodyRunes),
		Topics:    b.Topics,
		SourceURL: b.SourceURL,
		UpdatedAt: b.UpdatedAt,
	}
	return doc
}

// ProjectArticle flattens an article into its index document.
func ProjectArticle(a models.Article) Doc {
	doc := Doc{
		ID:        docID(models.RecordArticle, a.ID),
		Kind:      models.RecordArticle,
		Title:     Truncate(a.Title, maxTitleRunes),
		Body:      Truncate(a.Description, maxBodyRunes),
		Topics:    a.Topics,
		SourceURL: a.URL,
		UpdatedAt: a.UpdatedAt,
	}
	if a.Image != nil {
		doc.ImageURL = a.Image.URL
	} else {
		doc.ImageURL = a.ImageURL
	}
	return doc
}

// ProjectBrief flattens a brief into its index document. The dialogue
// transcript collapses to plain text before the ceiling applies.
func ProjectBrief(b models.Brief) Doc {
	doc := Doc{
		ID:         docID(models.RecordBrief, b.ID),
		Kind:       models.RecordBrief,
		Title:      Truncate(b.Title, maxTitleRunes),
		Body:       Truncate(b.Summary, maxBodyRunes),
		Transcript: Truncate(flattenTranscript(b.Transcript), maxTranscriptRunes),
		Topics:     b.Topics,
		SourceURL:  b.AudioURL,
		UpdatedAt:  b.UpdatedAt,
	}
	if b.Image != nil {
		doc.ImageURL = b.Image.URL
	}
	return doc
}

func flattenTranscript(lines []models.DialogueLine) string {
	var sb strings.Builder
	for i, line := range lines {
		if i > 0 {
			sb.WriteString(" ")
		}
		sb.WriteString(line.Text)
	}
	return sb.String()
}

// docID namespaces record IDs per kind so a bill and a brief can never
// collide in the index.
func docID(kind, id string) string {
	return kind + ":" + id
}
