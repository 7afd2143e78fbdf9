// Package gate decides which gap candidates get persisted: a confidence
// floor plus one stored gap per (contract, gap type) within the dedupe
// window.
package gate

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cfmarsh/gapscan/internal/config"
	"github.com/cfmarsh/gapscan/internal/detector"
	"github.com/cfmarsh/gapscan/internal/metrics"
	"github.com/cfmarsh/gapscan/internal/storage"
)

type gapStore interface {
	RecentGapExists(ctx context.Context, contractID, gapType string, sinceTS int64) (bool, error)
	DeleteRecentGaps(ctx context.Context, contractID, gapType string, sinceTS int64) error
	InsertGap(ctx context.Context, gap *storage.DetectedGap) error
}

// Gate applies the dedupe policy and confidence floor before storage.
type Gate struct {
	cfg   *config.Config
	store gapStore
	log   *logrus.Logger
}

// New creates a gate
func New(cfg *config.Config, store gapStore, log *logrus.Logger) *Gate {
	return &Gate{cfg: cfg, store: store, log: log}
}

// Commit persists the candidate unless it is suppressed. It returns true
// when a gap was stored.
//
// Under the default first_wins policy an existing stored gap of the same
// (contract, gap type) within the window suppresses the candidate outright,
// keeping the displayed record stable across cycles. Under latest_wins the
// existing records in the window are replaced by the candidate.
func (g *Gate) Commit(ctx context.Context, c detector.Candidate) (bool, error) {
	if c.ConfidenceScore < g.cfg.MinConfidenceScore {
		metrics.RecordGap(c.GapType, c.ConfidenceScore, false, "low_confidence")
		g.log.WithFields(logrus.Fields{
			"contract_id": c.ContractID,
			"gap_type":    c.GapType,
			"confidence":  c.ConfidenceScore,
		}).Debug("Gap below confidence floor, discarded")
		return false, nil
	}

	windowStart := time.Now().Add(-g.cfg.GapDedupeWindow).Unix()

	exists, err := g.store.RecentGapExists(ctx, c.ContractID, c.GapType, windowStart)
	if err != nil {
		return false, fmt.Errorf("check recent gaps: %w", err)
	}

	if exists {
		switch g.cfg.GapDedupePolicy {
		case config.DedupeLatestWins:
			if err := g.store.DeleteRecentGaps(ctx, c.ContractID, c.GapType, windowStart); err != nil {
				return false, fmt.Errorf("replace recent gaps: %w", err)
			}
		default:
			metrics.RecordGap(c.GapType, c.ConfidenceScore, false, "duplicate")
			g.log.WithFields(logrus.Fields{
				"contract_id": c.ContractID,
				"gap_type":    c.GapType,
			}).Debug("Gap already stored within dedupe window, discarded")
			return false, nil
		}
	}

	gap := &storage.DetectedGap{
		ContractID:         c.ContractID,
		GapType:            c.GapType,
		ConfidenceScore:    c.ConfidenceScore,
		Explanation:        c.Explanation,
		Evidence:           c.Evidence,
		MarketProbability:  c.MarketProbability,
		ImpliedProbability: c.ImpliedProbability,
		EdgePercentage:     c.EdgePercentage,
		DetectedTS:         time.Now().Unix(),
	}
	if err := g.store.InsertGap(ctx, gap); err != nil {
		return false, fmt.Errorf("insert gap: %w", err)
	}

	metrics.RecordGap(c.GapType, c.ConfidenceScore, true, "")
	g.log.WithFields(logrus.Fields{
		"contract_id": c.ContractID,
		"gap_type":    c.GapType,
		"confidence":  c.ConfidenceScore,
		"edge":        c.EdgePercentage,
	}).Info("Gap stored")
	return true, nil
}
