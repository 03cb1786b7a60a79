package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"jobwatch/search-service/internal/model"
)

const (
	webSearchBaseURL  = "https://customsearch.googleapis.com/customsearch/v1"
	webSearchPageSize = 10
	httpTimeout       = 15 * time.Second
)

// WebSearchClient queries the Google Programmable Search REST API. A shared
// rate limiter throttles all outbound calls so concurrent site fan-out stays
// inside the API quota.
type WebSearchClient struct {
	APIKey   string
	EngineID string
	BaseURL  string
	client   *http.Client
	limiter  *rate.Limiter
}

// NewWebSearchClient constructs a client with a shared HTTP client and a
// limiter of rps requests per second.
func NewWebSearchClient(apiKey, engineID string, rps float64) *WebSearchClient {
	return &WebSearchClient{
		APIKey:   apiKey,
		EngineID: engineID,
		BaseURL:  webSearchBaseURL,
		client:   &http.Client{Timeout: httpTimeout},
		limiter:  rate.NewLimiter(rate.Limit(rps), 1),
	}
}

// AppliesLocation is true: the location filter is part of the query string.
func (c *WebSearchClient) AppliesLocation() bool { return true }

// webSearchResponse mirrors the top-level API response.
type webSearchResponse struct {
	Items []webSearchItem `json:"items"`
}

type webSearchItem struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

// Search runs one scoped query. Returns ErrNotConfigured when the API key or
// engine ID is missing.
func (c *WebSearchClient) Search(ctx context.Context, req SiteRequest) ([]model.JobResult, error) {
	if c.APIKey == "" || c.EngineID == "" {
		return nil, ErrNotConfigured
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("key", c.APIKey)
	params.Set("cx", c.EngineID)
	params.Set("q", SiteQuery(req.Terms, req.Site, req.Location))
	params.Set("num", strconv.Itoa(webSearchPageSize))
	if dr := dateRestrict(req.MaxAgeHours); dr != "" {
		params.Set("dateRestrict", dr)
	}

	reqURL := c.BaseURL + "?" + params.Encode()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http GET: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("web search returned %d: %s", resp.StatusCode, string(body))
	}

	var apiResp webSearchResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("json unmarshal: %w", err)
	}

	now := time.Now().UTC()
	results := make([]model.JobResult, 0, len(apiResp.Items))
	for _, item := range apiResp.Items {
		results = append(results, model.JobResult{
			Title:        item.Title,
			Link:         item.Link,
			Snippet:      item.Snippet,
			Site:         req.Site,
			DiscoveredAt: now,
			// The search index exposes no posting date; PostedAt stays
			// unknown and the age filter keeps the result.
		})
	}

	return results, nil
}

// dateRestrict maps a max-age in hours onto the API's coarse date buckets.
// The parameter only knows days, weeks, months and years, so sub-day windows
// use the one-day bucket and the aggregator's age filter tightens from there.
func dateRestrict(maxAgeHours int) string {
	switch {
	case maxAgeHours <= 0:
		return ""
	case maxAgeHours <= 24:
		return "d1"
	case maxAgeHours <= 168:
		return "w1"
	case maxAgeHours <= 720:
		return "m1"
	default:
		return ""
	}
}
