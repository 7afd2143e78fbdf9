package competitor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cfmarsh/gapscan/internal/config"
	"github.com/cfmarsh/gapscan/internal/fetch"
	"github.com/cfmarsh/gapscan/internal/metrics"
	"github.com/cfmarsh/gapscan/internal/ratelimit"
)

// ManifoldClient searches Manifold binary markets through the public
// /v0/search-markets endpoint.
type ManifoldClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	enabled    bool
}

// NewManifoldClient creates a Manifold venue client
func NewManifoldClient(cfg *config.Config) *ManifoldClient {
	return &ManifoldClient{
		baseURL:    cfg.ManifoldAPIBaseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		limiter:    ratelimit.New(cfg.CompetitorRPS),
		enabled:    cfg.EnableManifold,
	}
}

func (c *ManifoldClient) Name() string {
	return "manifold"
}

func (c *ManifoldClient) Enabled() bool {
	return c.enabled
}

type manifoldMarket struct {
	ID          string   `json:"id"`
	Question    string   `json:"question"`
	URL         string   `json:"url"`
	Probability *float64 `json:"probability"`
	Volume      float64  `json:"volume"`
	IsResolved  bool     `json:"isResolved"`
}

// SearchMarkets queries open binary markets matching the term, best ranked
// first. Markets without a probability (non-binary) are dropped.
func (c *ManifoldClient) SearchMarkets(ctx context.Context, query string, limit int) ([]Market, error) {
	if !c.enabled {
		return nil, nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	u, err := url.Parse(c.baseURL + "/v0/search-markets")
	if err != nil {
		return nil, fmt.Errorf("parse URL: %w", err)
	}
	q := u.Query()
	q.Set("term", query)
	q.Set("filter", "open")
	q.Set("contractType", "BINARY")
	q.Set("sort", "score")
	if limit > 0 {
		if limit > 100 {
			limit = 100
		}
		q.Set("limit", strconv.Itoa(limit))
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.RecordAPIRequest("manifold", "/v0/search-markets", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("manifold search: %w", fetch.ErrRateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var raw []manifoldMarket
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	markets := make([]Market, 0, len(raw))
	for _, m := range raw {
		if m.Probability == nil || m.IsResolved {
			continue
		}
		marketURL := m.URL
		if marketURL == "" {
			marketURL = "https://manifold.markets/market/" + m.ID
		}
		markets = append(markets, Market{
			Venue:          "manifold",
			ExternalID:     m.ID,
			Question:       m.Question,
			URL:            marketURL,
			YesProbability: *m.Probability,
			Volume:         m.Volume,
		})
	}
	return markets, nil
}
