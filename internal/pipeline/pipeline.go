// Package pipeline runs the polling cycle: fetch contracts, collect social
// posts, score sentiment, run the detectors, and report what was stored.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/cfmarsh/gapscan/internal/collector"
	"github.com/cfmarsh/gapscan/internal/config"
	"github.com/cfmarsh/gapscan/internal/detector"
	"github.com/cfmarsh/gapscan/internal/gate"
	"github.com/cfmarsh/gapscan/internal/metrics"
	"github.com/cfmarsh/gapscan/internal/report"
	"github.com/cfmarsh/gapscan/internal/sentiment"
	"github.com/cfmarsh/gapscan/internal/storage"
)

// store is the storage surface the pipeline needs beyond what the collector
// and gate already own.
type store interface {
	GetPostsForContract(ctx context.Context, contractID string, limit int) ([]storage.SocialPost, error)
	HasSentiment(ctx context.Context, postHash, contractID string) (bool, error)
	InsertSentiment(ctx context.Context, record *storage.SentimentRecord) error
	CountPostsForContract(ctx context.Context, contractID string) (int64, error)
	GetSentimentsForContract(ctx context.Context, contractID string) ([]storage.SentimentRecord, error)
	GetOddsHistory(ctx context.Context, contractID string, limit int) ([]storage.HistoricalOddsPoint, error)
	TopGapsSince(ctx context.Context, sinceTS int64, limit int) ([]storage.DetectedGap, error)
}

// Pipeline wires the stages of one cycle together.
type Pipeline struct {
	cfg        *config.Config
	store      store
	collector  *collector.Collector
	analyzer   sentiment.Analyzer
	aggregator *sentiment.Aggregator
	engine     *detector.Engine
	gate       *gate.Gate
	sender     report.Sender
	log        *logrus.Logger
}

// New creates a pipeline
func New(cfg *config.Config, st store, col *collector.Collector, analyzer sentiment.Analyzer, aggregator *sentiment.Aggregator, engine *detector.Engine, g *gate.Gate, sender report.Sender, log *logrus.Logger) *Pipeline {
	return &Pipeline{
		cfg:        cfg,
		store:      st,
		collector:  col,
		analyzer:   analyzer,
		aggregator: aggregator,
		engine:     engine,
		gate:       g,
		sender:     sender,
		log:        log,
	}
}

// RunCycle executes one full cycle. Per-contract failures are logged and
// skipped; the cycle itself fails only when the contract fetch does.
func (p *Pipeline) RunCycle(ctx context.Context) error {
	cycleID := uuid.NewString()[:8]
	start := time.Now()
	clog := p.log.WithField("cycle_id", cycleID)
	clog.Info("Cycle started")

	contracts, err := p.collector.FetchContracts(ctx)
	if err != nil {
		metrics.RecordCycle(time.Since(start), err)
		return fmt.Errorf("fetch contracts: %w", err)
	}
	if len(contracts) == 0 {
		clog.Warn("No eligible contracts this cycle")
		metrics.RecordCycle(time.Since(start), nil)
		return nil
	}

	postsCollected := 0
	for _, contract := range collector.ContractsForSocial(contracts, p.cfg.SocialContractCap) {
		postsCollected += p.collector.CollectSocial(ctx, &contract, p.cfg.SocialPostsPerSource)
	}

	gapsStored := 0
	for i := range contracts {
		contract := &contracts[i]

		if err := p.analyzeContract(ctx, contract); err != nil {
			clog.WithError(err).WithField("contract_id", contract.ExternalID).Error("Sentiment analysis failed")
		}

		stored, err := p.detectContract(ctx, contract)
		if err != nil {
			clog.WithError(err).WithField("contract_id", contract.ExternalID).Error("Detection failed")
			continue
		}
		gapsStored += stored
	}

	if err := p.report(ctx, cycleID, start, len(contracts), postsCollected, gapsStored, contracts); err != nil {
		clog.WithError(err).Error("Report delivery failed")
	}

	duration := time.Since(start)
	metrics.RecordCycle(duration, nil)
	clog.WithFields(logrus.Fields{
		"contracts":   len(contracts),
		"posts":       postsCollected,
		"gaps_stored": gapsStored,
		"duration":    duration.Round(time.Millisecond).String(),
	}).Info("Cycle complete")
	return nil
}

// analyzeContract scores every linked post that has no sentiment record yet
// for this contract.
func (p *Pipeline) analyzeContract(ctx context.Context, contract *storage.Contract) error {
	posts, err := p.store.GetPostsForContract(ctx, contract.ExternalID, p.cfg.SentimentBatchSize)
	if err != nil {
		return fmt.Errorf("load posts: %w", err)
	}
	if len(posts) == 0 {
		return nil
	}

	var pending []storage.SocialPost
	for _, post := range posts {
		analyzed, err := p.store.HasSentiment(ctx, post.ContentHash, contract.ExternalID)
		if err != nil {
			return fmt.Errorf("check sentiment: %w", err)
		}
		if !analyzed {
			pending = append(pending, post)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	texts := make([]string, len(pending))
	for i, post := range pending {
		texts[i] = fmt.Sprintf("Market question: %s\nPost: %s", contract.Question, post.Content)
	}

	results, err := p.analyzer.AnalyzeBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("analyze batch: %w", err)
	}

	now := time.Now().Unix()
	for i, result := range results {
		if result == nil {
			continue
		}
		record := &storage.SentimentRecord{
			PostHash:   pending[i].ContentHash,
			ContractID: contract.ExternalID,
			Score:      result.Score,
			Label:      result.Label,
			Confidence: result.Confidence,
			Topics:     storage.StringList(result.Topics),
			AnalyzedTS: now,
		}
		if err := p.store.InsertSentiment(ctx, record); err != nil {
			p.log.WithError(err).WithFields(logrus.Fields{
				"post_hash":   pending[i].ContentHash,
				"contract_id": contract.ExternalID,
			}).Error("Failed to store sentiment record")
		}
	}
	return nil
}

// detectContract runs the detectors for one contract and commits the
// surviving candidates. Contracts with no posts or no sentiment records
// are skipped entirely.
func (p *Pipeline) detectContract(ctx context.Context, contract *storage.Contract) (int, error) {
	postCount, err := p.store.CountPostsForContract(ctx, contract.ExternalID)
	if err != nil {
		return 0, fmt.Errorf("count posts: %w", err)
	}

	records, err := p.store.GetSentimentsForContract(ctx, contract.ExternalID)
	if err != nil {
		return 0, fmt.Errorf("load sentiments: %w", err)
	}

	if postCount == 0 || len(records) == 0 {
		p.log.WithField("contract_id", contract.ExternalID).Debug("No analyzed evidence, skipping detection")
		return 0, nil
	}

	summary := p.aggregator.Aggregate(records, int(postCount), time.Now())

	history, err := p.store.GetOddsHistory(ctx, contract.ExternalID, 0)
	if err != nil {
		return 0, fmt.Errorf("load odds history: %w", err)
	}

	stored := 0
	for _, candidate := range p.engine.DetectAll(ctx, contract, summary, history) {
		committed, err := p.gate.Commit(ctx, candidate)
		if err != nil {
			p.log.WithError(err).WithFields(logrus.Fields{
				"contract_id": contract.ExternalID,
				"gap_type":    candidate.GapType,
			}).Error("Failed to commit gap")
			continue
		}
		if committed {
			stored++
		}
	}
	return stored, nil
}

// report assembles the cycle report from the gaps stored since the cycle
// started and delivers it.
func (p *Pipeline) report(ctx context.Context, cycleID string, start time.Time, contractsAnalyzed, postsCollected, gapsStored int, contracts []storage.Contract) error {
	questions := make(map[string]string, len(contracts))
	for _, c := range contracts {
		questions[c.ExternalID] = c.Question
	}

	gaps, err := p.store.TopGapsSince(ctx, start.Unix(), p.cfg.ReportTopN)
	if err != nil {
		return fmt.Errorf("load top gaps: %w", err)
	}

	entries := make([]report.GapEntry, 0, len(gaps))
	for _, gap := range gaps {
		entries = append(entries, report.GapEntry{
			ContractID:      gap.ContractID,
			Question:        questions[gap.ContractID],
			GapType:         gap.GapType,
			ConfidenceScore: gap.ConfidenceScore,
			EdgePercentage:  gap.EdgePercentage,
			Explanation:     gap.Explanation,
		})
	}

	return p.sender.Send(ctx, &report.CycleReport{
		CycleID:           cycleID,
		ContractsAnalyzed: contractsAnalyzed,
		PostsCollected:    postsCollected,
		GapsStored:        gapsStored,
		TopGaps:           entries,
		Duration:          time.Since(start),
		GeneratedAt:       time.Now().UTC(),
		Environment:       p.cfg.Environment,
	})
}
