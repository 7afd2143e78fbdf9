// Package competitor queries other prediction-market venues for markets
// equivalent to a local contract, for cross-market price comparison.
package competitor

import "context"

// Market is a candidate equivalent market on another venue.
type Market struct {
	Venue          string
	ExternalID     string
	Question       string
	URL            string
	YesProbability float64
	Volume         float64
}

// Venue searches one competitor platform by free-text query. All supported
// venues are public and unauthenticated.
type Venue interface {
	Name() string
	Enabled() bool
	SearchMarkets(ctx context.Context, query string, limit int) ([]Market, error)
}
