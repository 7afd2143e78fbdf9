// Package report delivers the top gaps found in a cycle.
package report

import (
	"context"
	"time"
)

// GapEntry is one ranked gap in a cycle report.
type GapEntry struct {
	ContractID      string
	Question        string
	GapType         string
	ConfidenceScore int
	EdgePercentage  float64
	Explanation     string
}

// CycleReport summarizes one polling cycle.
type CycleReport struct {
	CycleID           string
	ContractsAnalyzed int
	PostsCollected    int
	GapsStored        int
	TopGaps           []GapEntry
	Duration          time.Duration
	GeneratedAt       time.Time
	Environment       string
}

// Sender delivers a cycle report to one destination
type Sender interface {
	Send(ctx context.Context, report *CycleReport) error
}
