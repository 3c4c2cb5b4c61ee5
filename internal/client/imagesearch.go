package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"civicbrief/internal/models"
)

// ImageSearchClient issues paid keyword image searches. Used only by
// waterfall tier 3; an empty result set is not an error.
type ImageSearchClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// NewImageSearchClient creates a keyword image search client.
func NewImageSearchClient(baseURL, apiKey string) *ImageSearchClient {
	return &ImageSearchClient{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    baseURL,
		apiKey:     apiKey,
	}
}

type imageSearchResponse struct {
	Photos []struct {
		Alt          string `json:"alt"`
		Photographer string `json:"photographer"`
		URL          string `json:"url"`
		Src          struct {
			Large string `json:"large"`
		} `json:"src"`
	} `json:"photos"`
}

// Search returns the first image matching the query, or nil when the
// provider has nothing.
func (c *ImageSearchClient) Search(ctx context.Context, query string) (*models.ImageAsset, error) {
	params := url.Values{}
	params.Set("query", query)
	params.Set("per_page", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build image search request: %w", err)
	}
	req.Header.Set("Authorization", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("image search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("image search error: status %d", resp.StatusCode)
	}

	var raw imageSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode image search response: %w", err)
	}
	if len(raw.Photos) == 0 || raw.Photos[0].Src.Large == "" {
		return nil, nil
	}

	p := raw.Photos[0]
	return &models.ImageAsset{
		URL:             p.Src.Large,
		AltText:         p.Alt,
		AttributionName: p.Photographer,
		AttributionURL:  p.URL,
		Tier:            models.TierKeyword,
	}, nil
}
