package market

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

// gammaMarket mirrors the Gamma API market shape. Outcome prices and CLOB
// token IDs arrive as JSON-encoded string arrays inside strings.
type gammaMarket struct {
	ID            string  `json:"id"`
	ConditionID   string  `json:"conditionId"`
	Slug          string  `json:"slug"`
	Question      string  `json:"question"`
	Description   string  `json:"description"`
	Category      string  `json:"category"`
	EndDate       string  `json:"endDate"`
	Volume24h     float64 `json:"volume24hr"`
	LiquidityNum  float64 `json:"liquidityNum"`
	Active        bool    `json:"active"`
	Closed        bool    `json:"closed"`
	OutcomePrices string  `json:"outcomePrices"` // e.g. `["0.02", "0.98"]`
	ClobTokenIDs  string  `json:"clobTokenIds"`
}

// PolymarketClient lists contracts from the Polymarket Gamma API, falling
// back to the CLOB midpoint endpoint when a market carries no outcome prices.
type PolymarketClient struct {
	gammaURL   string
	clobURL    string
	httpClient *http.Client
	limiter    *ratelimit.Limiter
}

// NewPolymarketClient creates a Polymarket market source
func NewPolymarketClient(cfg *config.Config) *PolymarketClient {
	return &PolymarketClient{
		gammaURL:   cfg.GammaAPIBaseURL,
		clobURL:    cfg.CLOBAPIBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    ratelimit.New(cfg.MarketsRPS),
	}
}

func (c *PolymarketClient) Name() string {
	return "polymarket"
}

// ListContracts fetches a page of open markets ordered by 24h volume.
func (c *PolymarketClient) ListContracts(ctx context.Context, offset, limit int) ([]ContractRecord, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	u, err := url.Parse(c.gammaURL + "/markets")
	if err != nil {
		return nil, fmt.Errorf("parse URL: %w", err)
	}

	q := u.Query()
	q.Set("closed", "false")
	q.Set("active", "true")
	q.Set("order", "volume24hr")
	q.Set("ascending", "false")
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	u.RawQuery = q.Encode()

	body, err := c.get(ctx, "gamma", "/markets", u.String())
	if err != nil {
		return nil, err
	}

	// Response can be either array or wrapped in a data field
	var markets []gammaMarket
	if err := json.Unmarshal(body, &markets); err != nil {
		var wrapped struct {
			Data []gammaMarket `json:"data"`
		}
		if err := json.Unmarshal(body, &wrapped); err != nil {
			return nil, fmt.Errorf("decode markets response: %w", err)
		}
		markets = wrapped.Data
	}

	records := make([]ContractRecord, 0, len(markets))
	for _, m := range markets {
		rec, ok := c.normalize(ctx, m)
		if !ok {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// normalize converts a Gamma market to a ContractRecord. Markets without a
// resolvable yes price are dropped.
func (c *PolymarketClient) normalize(ctx context.Context, m gammaMarket) (ContractRecord, bool) {
	externalID := m.ConditionID
	if externalID == "" {
		externalID = m.ID
	}
	if externalID == "" || m.Question == "" {
		return ContractRecord{}, false
	}

	yes, no, ok := parseOutcomePrices(m.OutcomePrices)
	if !ok {
		// Some markets omit outcomePrices; the CLOB midpoint for the
		// first token is the yes probability.
		mid, err := c.midpoint(ctx, m.ClobTokenIDs)
		if err != nil {
			return ContractRecord{}, false
		}
		yes, no = mid, 1-mid
	}

	var endTime time.Time
	if m.EndDate != "" {
		if t, err := time.Parse(time.RFC3339, m.EndDate); err == nil {
			endTime = t
		}
	}

	return ContractRecord{
		ExternalID:     externalID,
		Question:       m.Question,
		Description:    m.Description,
		Category:       m.Category,
		EndTime:        endTime,
		YesProbability: yes,
		NoProbability:  no,
		Volume24h:      m.Volume24h,
		Liquidity:      m.LiquidityNum,
		Active:         m.Active,
		Closed:         m.Closed,
	}, true
}

// midpoint fetches the CLOB midpoint price for the first token of a market.
func (c *PolymarketClient) midpoint(ctx context.Context, clobTokenIDs string) (float64, error) {
	var tokenIDs []string
	if err := json.Unmarshal([]byte(clobTokenIDs), &tokenIDs); err != nil || len(tokenIDs) == 0 {
		return 0, fmt.Errorf("no clob token ids")
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return 0, fmt.Errorf("rate limit wait: %w", err)
	}

	u, err := url.Parse(c.clobURL + "/midpoint")
	if err != nil {
		return 0, fmt.Errorf("parse URL: %w", err)
	}
	q := u.Query()
	q.Set("token_id", tokenIDs[0])
	u.RawQuery = q.Encode()

	body, err := c.get(ctx, "clob", "/midpoint", u.String())
	if err != nil {
		return 0, err
	}

	var resp struct {
		Mid string `json:"mid"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("decode midpoint response: %w", err)
	}
	mid, err := strconv.ParseFloat(resp.Mid, 64)
	if err != nil {
		return 0, fmt.Errorf("parse midpoint %q: %w", resp.Mid, err)
	}
	return mid, nil
}

func (c *PolymarketClient) get(ctx context.Context, api, endpoint, fullURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.RecordAPIRequest(api, endpoint, time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%s %s: %w", api, endpoint, fetch.ErrRateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

// parseOutcomePrices extracts yes/no probabilities from the Gamma
// outcomePrices field, which is a JSON array of decimal strings.
func parseOutcomePrices(raw string) (yes, no float64, ok bool) {
	if raw == "" {
		return 0, 0, false
	}
	var prices []string
	if err := json.Unmarshal([]byte(raw), &prices); err != nil || len(prices) < 2 {
		return 0, 0, false
	}
	yes, err := strconv.ParseFloat(prices[0], 64)
	if err != nil {
		return 0, 0, false
	}
	no, err = strconv.ParseFloat(prices[1], 64)
	if err != nil {
		return 0, 0, false
	}
	return yes, no, true
}
