package client

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"civicbrief/internal/models"
)

// NewsClient fetches articles for interest tags from the news
// collaborator. Zero results is a valid answer, not an error.
type NewsClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// NewNewsClient creates a news feed client.
func NewNewsClient(baseURL, apiKey string) *NewsClient {
	return &NewsClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    baseURL,
		apiKey:     apiKey,
	}
}

type newsArticle struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
	URLToImage  string `json:"urlToImage"`
	PublishedAt string `json:"publishedAt"`
	Source      struct {
		Name string `json:"name"`
	} `json:"source"`
}

type newsResponse struct {
	Status   string        `json:"status"`
	Articles []newsArticle `json:"articles"`
}

// Search returns recent articles matching the interest tags.
func (c *NewsClient) Search(ctx context.Context, interests []string, region string) ([]models.Article, error) {
	params := url.Values{}
	params.Set("q", strings.Join(interests, " OR "))
	params.Set("sortBy", "publishedAt")
	params.Set("pageSize", "20")
	params.Set("apiKey", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/everything?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build news request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("news request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("news API error: status %d", resp.StatusCode)
	}

	var raw newsResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode news response: %w", err)
	}

	articles := make([]models.Article, 0, len(raw.Articles))
	for _, a := range raw.Articles {
		if a.URL == "" || a.Title == "" {
			continue
		}
		publishedAt, err := time.Parse(time.RFC3339, a.PublishedAt)
		if err != nil {
			publishedAt = time.Time{}
		}
		articles = append(articles, models.Article{
			ID:          ArticleID(a.URL),
			Title:       a.Title,
			Description: a.Description,
			URL:         a.URL,
			Source:      a.Source.Name,
			ImageURL:    a.URLToImage,
			Topics:      interests,
			PublishedAt: publishedAt,
		})
	}
	return articles, nil
}

// ArticleID derives the stable canonical key for an article from its URL.
// The same URL always maps to the same row, which makes upserts
// duplicate-safe across refreshes.
func ArticleID(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	return fmt.Sprintf("%x", sum[:16])
}
