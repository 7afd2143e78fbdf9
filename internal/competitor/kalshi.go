package competitor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cfmarsh/gapscan/internal/config"
	"github.com/cfmarsh/gapscan/internal/fetch"
	"github.com/cfmarsh/gapscan/internal/metrics"
	"github.com/cfmarsh/gapscan/internal/ratelimit"
)

// KalshiClient searches Kalshi markets. The /markets endpoint has no text
// search, so open markets are listed and filtered client-side against the
// query words.
type KalshiClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	enabled    bool
}

// NewKalshiClient creates a Kalshi venue client
func NewKalshiClient(cfg *config.Config) *KalshiClient {
	return &KalshiClient{
		baseURL:    cfg.KalshiAPIBaseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		limiter:    ratelimit.New(cfg.CompetitorRPS),
		enabled:    cfg.EnableKalshi,
	}
}

func (c *KalshiClient) Name() string {
	return "kalshi"
}

func (c *KalshiClient) Enabled() bool {
	return c.enabled
}

type kalshiMarket struct {
	Ticker      string  `json:"ticker"`
	EventTicker string  `json:"event_ticker"`
	Title       string  `json:"title"`
	Subtitle    string  `json:"subtitle"`
	YesSubTitle string  `json:"yes_sub_title"`
	LastPrice   *int    `json:"last_price"` // cents, 0-99
	Volume      float64 `json:"volume"`
	Status      string  `json:"status"`
}

// SearchMarkets lists open markets and keeps those whose title, subtitle
// or event ticker contains any query word longer than two characters.
func (c *KalshiClient) SearchMarkets(ctx context.Context, query string, limit int) ([]Market, error) {
	if !c.enabled {
		return nil, nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	u, err := url.Parse(c.baseURL + "/markets")
	if err != nil {
		return nil, fmt.Errorf("parse URL: %w", err)
	}
	q := u.Query()
	q.Set("status", "open")
	q.Set("limit", "200")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.RecordAPIRequest("kalshi", "/markets", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("kalshi markets: %w", fetch.ErrRateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		Markets []kalshiMarket `json:"markets"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	words := queryWords(query)
	if len(words) == 0 {
		return nil, nil
	}

	var matched []Market
	for _, m := range result.Markets {
		combined := strings.ToLower(m.Title + " " + m.Subtitle + " " + m.EventTicker)
		if !containsAny(combined, words) {
			continue
		}
		if m.LastPrice == nil {
			continue
		}

		title := m.Title
		if title == "" {
			title = m.YesSubTitle
		}
		question := strings.TrimSpace(title + " " + m.Subtitle)

		matched = append(matched, Market{
			Venue:      "kalshi",
			ExternalID: m.Ticker,
			Question:   question,
			URL:        "https://kalshi.com/markets/" + m.Ticker,
			// last_price is in cents
			YesProbability: float64(*m.LastPrice) / 100.0,
			Volume:         m.Volume,
		})
		if limit > 0 && len(matched) >= limit {
			break
		}
	}
	return matched, nil
}

func queryWords(query string) []string {
	var words []string
	for _, w := range strings.Fields(strings.ToLower(query)) {
		if len(w) > 2 {
			words = append(words, w)
		}
	}
	return words
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}
