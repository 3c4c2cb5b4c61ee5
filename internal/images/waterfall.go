package images

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"civicbrief/internal/models"
	"civicbrief/internal/telemetry"
)

// Subject is the record-shaped input to image resolution, flattened so
// strategies do not care whether it came from a bill, an article or a
// brief.
type Subject struct {
	Kind        string
	ID          string
	Title       string
	Description string
	Topics      []string

	// ExplicitURL is an image URL the record already carries, if any.
	ExplicitURL string
	// PageURL is the record's source page, scraped for og:image tags.
	PageURL string
}

// Strategy is one tier of the resolution waterfall. Returning (nil, nil)
// means "nothing found here, try the next tier"; an error means the tier
// itself broke, which the waterfall treats the same way.
type Strategy interface {
	Name() string
	Resolve(ctx context.Context, subject Subject) (*models.ImageAsset, error)
}

// Waterfall tries its strategies in order and returns the first image
// found. The final tier must be infallible, so Resolve as a whole never
// returns an empty result.
type Waterfall struct {
	strategies []Strategy
	logger     zerolog.Logger
}

// NewWaterfall builds a waterfall over the given tiers, tried in order.
func NewWaterfall(logger zerolog.Logger, strategies ...Strategy) *Waterfall {
	return &Waterfall{
		strategies: strategies,
		logger:     logger.With().Str("component", "images").Logger(),
	}
}

// Resolve walks the tiers. Tier errors are logged and swallowed; only a
// cancelled context aborts the walk.
func (w *Waterfall) Resolve(ctx context.Context, subject Subject) (*models.ImageAsset, error) {
	for _, s := range w.strategies {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		asset, err := s.Resolve(ctx, subject)
		if err != nil {
			w.logger.Warn().Err(err).
				Str("strategy", s.Name()).
				Str("record_id", subject.ID).
				Msg("Image strategy failed, trying next tier")
			continue
		}
		if asset == nil {
			continue
		}
		telemetry.ImageResolvedTotal.WithLabelValues(asset.Tier).Inc()
		return asset, nil
	}
	// Unreachable when the placeholder tier is wired last.
	return nil, ctx.Err()
}

// queriesFor builds the ordered keyword-search candidates for a subject:
// each topic on its own, then the leading words of the title, then a
// prefix of the description. The keyword tier walks them until a query
// returns a result.
func queriesFor(subject Subject) []string {
	var queries []string
	for _, topic := range subject.Topics {
		if t := strings.TrimSpace(topic); t != "" {
			queries = append(queries, t)
		}
	}
	if words := strings.Fields(subject.Title); len(words) > 0 {
		if len(words) > 6 {
			words = words[:6]
		}
		queries = append(queries, strings.Join(words, " "))
	}
	if desc := strings.TrimSpace(subject.Description); desc != "" {
		r := []rune(desc)
		if len(r) > 80 {
			r = r[:80]
		}
		queries = append(queries, string(r))
	}
	return queries
}
