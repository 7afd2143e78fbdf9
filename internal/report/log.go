package report

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/cfmarsh/gapscan/internal/metrics"
)

// LogSender writes the cycle report to the logger
type LogSender struct {
	log *logrus.Logger
}

// NewLogSender creates a new log sender
func NewLogSender(log *logrus.Logger) *LogSender {
	return &LogSender{log: log}
}

// Send logs the report summary and each ranked gap
func (s *LogSender) Send(ctx context.Context, r *CycleReport) error {
	s.log.WithFields(logrus.Fields{
		"cycle_id":           r.CycleID,
		"contracts_analyzed": r.ContractsAnalyzed,
		"posts_collected":    r.PostsCollected,
		"gaps_stored":        r.GapsStored,
		"duration":           r.Duration.String(),
	}).Info("Cycle report")

	for i, gap := range r.TopGaps {
		s.log.WithFields(logrus.Fields{
			"rank":        i + 1,
			"cycle_id":    r.CycleID,
			"contract_id": gap.ContractID,
			"gap_type":    gap.GapType,
			"confidence":  gap.ConfidenceScore,
			"edge":        gap.EdgePercentage,
			"question":    gap.Question,
		}).Info("Top gap")
	}

	metrics.RecordReport("success", "log")
	return nil
}
