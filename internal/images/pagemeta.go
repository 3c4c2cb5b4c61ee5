package images

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/PuerkitoBio/goquery"

	"civicbrief/internal/models"
)

// PageMetaStrategy fetches the record's source page and pulls the social
// preview image out of its meta tags. Free, but depends on the publisher
// having set the tags.
type PageMetaStrategy struct {
	httpClient *http.Client
}

// NewPageMetaStrategy creates the page-metadata tier.
func NewPageMetaStrategy(timeout time.Duration) *PageMetaStrategy {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &PageMetaStrategy{httpClient: &http.Client{Timeout: timeout}}
}

func (*PageMetaStrategy) Name() string { return "page-metadata" }

func (s *PageMetaStrategy) Resolve(ctx context.Context, subject Subject) (*models.ImageAsset, error) {
	if subject.PageURL == "" {
		return nil, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, subject.PageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build page request: %w", err)
	}
	req.Header.Set("User-Agent", "civicbrief/1.0 (image resolver)")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch page %s: %w", subject.PageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch page %s: status %d", subject.PageURL, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse page %s: %w", subject.PageURL, err)
	}

	imageURL := metaContent(doc, `meta[property="og:image"]`)
	if imageURL == "" {
		imageURL = metaContent(doc, `meta[name="twitter:image"]`)
	}
	if imageURL == "" {
		return nil, nil
	}

	alt := metaContent(doc, `meta[property="og:image:alt"]`)
	if alt == "" {
		alt = subject.Title
	}

	return &models.ImageAsset{
		URL:            imageURL,
		AltText:        alt,
		AttributionURL: subject.PageURL,
		Tier:           models.TierPageMetadata,
	}, nil
}

func metaContent(doc *goquery.Document, selector string) string {
	content, _ := doc.Find(selector).First().Attr("content")
	return content
}
