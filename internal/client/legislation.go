package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"civicbrief/internal/models"
)

// LegisClient fetches current legislation for interest tags from the
// legislative-data collaborator. Zero results is a valid answer, not an
// error.
type LegisClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// NewLegisClient creates a legislative data client.
func NewLegisClient(baseURL, apiKey string) *LegisClient {
	return &LegisClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    baseURL,
		apiKey:     apiKey,
	}
}

type legisBill struct {
	ID         string `json:"id"`
	Identifier string `json:"identifier"`
	Title      string `json:"title"`
	Abstract   string `json:"abstract"`
	Chamber    string `json:"chamber"`
	Status     string `json:"latest_action_description"`
	Sponsor    string `json:"sponsor_name"`
	SourceURL  string `json:"openstates_url"`
	FirstDate  string `json:"first_action_date"`
	Subject    []string `json:"subject"`
}

type legisResponse struct {
	Results []legisBill `json:"results"`
}

// SearchBills returns bills matching the interest tags, newest first,
// optionally filtered by jurisdiction.
func (c *LegisClient) SearchBills(ctx context.Context, interests []string, region string) ([]models.Bill, error) {
	params := url.Values{}
	params.Set("q", strings.Join(interests, " OR "))
	params.Set("sort", "updated_desc")
	params.Set("per_page", "10")
	if region != "" {
		params.Set("jurisdiction", region)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/bills?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build bills request: %w", err)
	}
	req.Header.Set("X-API-KEY", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bills request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("legislative API error: status %d", resp.StatusCode)
	}

	var raw legisResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode bills response: %w", err)
	}

	bills := make([]models.Bill, 0, len(raw.Results))
	for _, r := range raw.Results {
		introduced, err := time.Parse("2006-01-02", r.FirstDate)
		if err != nil {
			introduced = time.Time{}
		}
		id := r.ID
		if id == "" {
			id = r.Identifier
		}
		bills = append(bills, models.Bill{
			ID:           id,
			Title:        r.Title,
			Summary:      r.Abstract,
			Chamber:      r.Chamber,
			BillStatus:   r.Status,
			Sponsor:      r.Sponsor,
			SourceURL:    r.SourceURL,
			Topics:       r.Subject,
			IntroducedAt: introduced,
		})
	}
	return bills, nil
}
