// Package market fetches prediction-market contracts from upstream venues
// and normalizes them into ContractRecord values.
package market

import (
	"context"
	"time"
)

// ContractRecord is a normalized market contract as fetched from a venue.
type ContractRecord struct {
	ExternalID     string
	Question       string
	Description    string
	Category       string
	EndTime        time.Time // zero when the venue reports no end date
	YesProbability float64
	NoProbability  float64
	Volume24h      float64
	Liquidity      float64
	Active         bool
	Closed         bool
}

// Source lists contracts from a market venue in pages.
type Source interface {
	Name() string

	// ListContracts returns up to limit open contracts starting at offset.
	// A short page means the venue has no more contracts.
	ListContracts(ctx context.Context, offset, limit int) ([]ContractRecord, error)
}
