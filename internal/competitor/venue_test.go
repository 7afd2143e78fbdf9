package competitor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cfmarsh/gapscan/internal/config"
)

func TestKalshiSearchMarkets(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/markets" {
			http.NotFound(w, r)
			return
		}
		if got := r.URL.Query().Get("status"); got != "open" {
			t.Errorf("status param = %q, want open", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"markets": [
				{
					"ticker": "FED-26DEC",
					"event_ticker": "FED",
					"title": "Fed cuts rates in December",
					"last_price": 62,
					"volume": 1500
				},
				{
					"ticker": "RAIN-NYC",
					"title": "Rain in NYC tomorrow",
					"last_price": 30
				},
				{
					"ticker": "FED-NOPRICE",
					"title": "Fed holds in December",
					"last_price": null
				}
			]
		}`))
	}))
	defer server.Close()

	c := NewKalshiClient(&config.Config{
		KalshiAPIBaseURL: server.URL,
		CompetitorRPS:    1000,
		EnableKalshi:     true,
	})

	markets, err := c.SearchMarkets(context.Background(), "fed rates december", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(markets) != 1 {
		t.Fatalf("expected 1 market, got %d", len(markets))
	}

	m := markets[0]
	if m.Venue != "kalshi" {
		t.Errorf("Venue = %q", m.Venue)
	}
	if m.ExternalID != "FED-26DEC" {
		t.Errorf("ExternalID = %q", m.ExternalID)
	}
	if m.YesProbability != 0.62 {
		t.Errorf("YesProbability = %v, want 0.62", m.YesProbability)
	}
	if m.URL != "https://kalshi.com/markets/FED-26DEC" {
		t.Errorf("URL = %q", m.URL)
	}
}

func TestKalshiDisabled(t *testing.T) {
	c := NewKalshiClient(&config.Config{EnableKalshi: false, CompetitorRPS: 1000})
	markets, err := c.SearchMarkets(context.Background(), "anything", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if markets != nil {
		t.Errorf("expected nil markets when disabled, got %v", markets)
	}
}

func TestManifoldSearchMarkets(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v0/search-markets" {
			http.NotFound(w, r)
			return
		}
		if got := r.URL.Query().Get("term"); got != "fed rates" {
			t.Errorf("term param = %q", got)
		}
		if got := r.URL.Query().Get("contractType"); got != "BINARY" {
			t.Errorf("contractType param = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{
				"id": "abc123",
				"question": "Will the Fed cut rates?",
				"url": "https://manifold.markets/u/fed-cut",
				"probability": 0.58,
				"volume": 900
			},
			{
				"id": "nonbinary",
				"question": "Which month?",
				"volume": 50
			},
			{
				"id": "done",
				"question": "Resolved one",
				"probability": 0.99,
				"isResolved": true
			}
		]`))
	}))
	defer server.Close()

	c := NewManifoldClient(&config.Config{
		ManifoldAPIBaseURL: server.URL,
		CompetitorRPS:      1000,
		EnableManifold:     true,
	})

	markets, err := c.SearchMarkets(context.Background(), "fed rates", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(markets) != 1 {
		t.Fatalf("expected 1 market, got %d", len(markets))
	}
	if markets[0].YesProbability != 0.58 {
		t.Errorf("YesProbability = %v, want 0.58", markets[0].YesProbability)
	}
	if markets[0].URL != "https://manifold.markets/u/fed-cut" {
		t.Errorf("URL = %q", markets[0].URL)
	}
}

func TestQueryWords(t *testing.T) {
	got := queryWords("Will the Fed cut rates in 2026?")
	want := []string{"will", "the", "fed", "cut", "rates", "2026?"}
	if len(got) != len(want) {
		t.Fatalf("queryWords = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("queryWords[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
