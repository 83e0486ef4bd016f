// Package brave queries the Brave Web Search API for coin news.
package brave

import (
	"context"
	"fmt"
	"strconv"

	"resty.dev/v3"

	"coinscanner/internal/fetcher"
	"coinscanner/internal/market"
	"coinscanner/internal/ratelimit"
)

const (
	source     = string(ratelimit.APIBrave)
	searchPath = "/res/v1/web/search"
	// maxCount is the largest page the web search endpoint accepts.
	maxCount = 20
)

// SearchResponse represents the parts of a web search response we read
type SearchResponse struct {
	News ResultGroup `json:"news"`
	Web  ResultGroup `json:"web"`
}

// ResultGroup is one typed section of a search response
type ResultGroup struct {
	Results []SearchResult `json:"results"`
}

// SearchResult is a single hit
type SearchResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
	Snippet     string `json:"snippet"`
	Profile     struct {
		Name string `json:"name"`
	} `json:"profile"`
	MetaURL struct {
		Hostname string `json:"hostname"`
	} `json:"meta_url"`
}

// Client searches the web for recent results
type Client struct {
	apiKey    string
	client    *resty.Client
	limiter   *ratelimit.Limiter
	freshness string
}

// NewClient creates a new search client
func NewClient(client *resty.Client, limiter *ratelimit.Limiter, apiKey string) *Client {
	return &Client{
		apiKey:    apiKey,
		client:    client,
		limiter:   limiter,
		freshness: "pd",
	}
}

// Search returns up to count results for query. News results are preferred;
// general web results are used when the news section is empty.
func (c *Client) Search(ctx context.Context, query string, count int) ([]market.NewsItem, error) {
	if c.apiKey == "" {
		return nil, fetcher.NewCredentialMissingError(source)
	}
	if count <= 0 {
		return []market.NewsItem{}, nil
	}
	if count > maxCount {
		count = maxCount
	}

	if err := c.limiter.Wait(ctx, ratelimit.APIBrave); err != nil {
		return nil, fetcher.WaitError(source, err)
	}

	var result SearchResponse

	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("X-Subscription-Token", c.apiKey).
		SetQueryParams(map[string]string{
			"q":          query,
			"count":      strconv.Itoa(count),
			"safesearch": "moderate",
			"freshness":  c.freshness,
		}).
		SetResult(&result).
		Get(searchPath)
	if err := fetcher.Classify(source, resp, err); err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}

	hits := result.News.Results
	if len(hits) == 0 {
		hits = result.Web.Results
	}

	items := make([]market.NewsItem, 0, min(len(hits), count))
	for _, h := range hits {
		if len(items) == count {
			break
		}
		items = append(items, h.toItem())
	}
	return items, nil
}

func (r SearchResult) toItem() market.NewsItem {
	description := r.Description
	if description == "" {
		description = r.Snippet
	}
	src := r.Profile.Name
	if src == "" {
		src = r.MetaURL.Hostname
	}
	return market.NewsItem{
		Title:       r.Title,
		URL:         r.URL,
		Description: description,
		Source:      src,
	}
}
