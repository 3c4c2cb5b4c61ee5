package images

import (
	"context"
	"fmt"
	"hash/fnv"

	"civicbrief/internal/models"
)

// ExplicitStrategy uses the image URL the record already carries.
// Cheapest tier, always tried first.
type ExplicitStrategy struct{}

func (ExplicitStrategy) Name() string { return "explicit" }

func (ExplicitStrategy) Resolve(_ context.Context, subject Subject) (*models.ImageAsset, error) {
	if subject.ExplicitURL == "" {
		return nil, nil
	}
	return &models.ImageAsset{
		URL:     subject.ExplicitURL,
		AltText: subject.Title,
		Tier:    models.TierExplicit,
	}, nil
}

// Searcher is the paid keyword-search dependency of KeywordStrategy.
type Searcher interface {
	Search(ctx context.Context, query string) (*models.ImageAsset, error)
}

// KeywordStrategy queries a stock image provider with keywords derived
// from the record. Tried after the free tiers because every call costs
// quota.
type KeywordStrategy struct {
	searcher Searcher
}

// NewKeywordStrategy wraps a search client as a waterfall tier.
func NewKeywordStrategy(searcher Searcher) *KeywordStrategy {
	return &KeywordStrategy{searcher: searcher}
}

func (*KeywordStrategy) Name() string { return "keyword" }

func (s *KeywordStrategy) Resolve(ctx context.Context, subject Subject) (*models.ImageAsset, error) {
	for _, query := range queriesFor(subject) {
		asset, err := s.searcher.Search(ctx, query)
		if err != nil {
			return nil, err
		}
		if asset != nil {
			return asset, nil
		}
	}
	return nil, nil
}

// placeholderCategories maps well-known topic keywords to themed stock
// placeholders. Anything else falls through to a generic civic image.
var placeholderCategories = []string{
	"capitol",
	"courthouse",
	"city-hall",
	"ballot",
	"podium",
	"flag",
}

// PlaceholderStrategy is the terminal tier. It maps the record to a
// bundled placeholder image and cannot fail, which is what guarantees
// every record ends up with an image.
type PlaceholderStrategy struct {
	baseURL string
}

// NewPlaceholderStrategy serves placeholders from baseURL, typically the
// public bucket URL.
func NewPlaceholderStrategy(baseURL string) *PlaceholderStrategy {
	return &PlaceholderStrategy{baseURL: baseURL}
}

func (*PlaceholderStrategy) Name() string { return "placeholder" }

func (s *PlaceholderStrategy) Resolve(_ context.Context, subject Subject) (*models.ImageAsset, error) {
	// FNV over the record key keeps the pick deterministic, so retries
	// and re-syncs show the same image.
	h := fnv.New32a()
	h.Write([]byte(subject.Kind + ":" + subject.ID))
	category := placeholderCategories[h.Sum32()%uint32(len(placeholderCategories))]

	return &models.ImageAsset{
		URL:     fmt.Sprintf("%s/placeholders/%s.jpg", s.baseURL, category),
		AltText: "Civic placeholder image",
		Tier:    models.TierPlaceholder,
	}, nil
}
