// Package collector coordinates ingestion: contract fetching, social post
// collection, and the selection of contracts worth a social-fetch budget.
package collector

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cfmarsh/gapscan/internal/config"
	"github.com/cfmarsh/gapscan/internal/fetch"
	"github.com/cfmarsh/gapscan/internal/identity"
	"github.com/cfmarsh/gapscan/internal/market"
	"github.com/cfmarsh/gapscan/internal/metrics"
	"github.com/cfmarsh/gapscan/internal/social"
	"github.com/cfmarsh/gapscan/internal/storage"
)

// store is the storage surface the collector needs.
type store interface {
	GetContract(ctx context.Context, externalID string) (*storage.Contract, error)
	UpsertContract(ctx context.Context, contract *storage.Contract) error
	AppendOddsPoint(ctx context.Context, point *storage.HistoricalOddsPoint) error
	HasPost(ctx context.Context, contentHash string) (bool, error)
	InsertPost(ctx context.Context, post *storage.SocialPost) error
	LinkPostContract(ctx context.Context, postHash, contractID string) error
}

// Collector runs the ingestion half of a cycle.
type Collector struct {
	cfg           *config.Config
	store         store
	marketSource  market.Source
	socialSources []social.Source
	retrier       *fetch.Retrier
	log           *logrus.Logger
}

// New creates a collector
func New(cfg *config.Config, st store, marketSource market.Source, socialSources []social.Source, retrier *fetch.Retrier, log *logrus.Logger) *Collector {
	return &Collector{
		cfg:           cfg,
		store:         st,
		marketSource:  marketSource,
		socialSources: socialSources,
		retrier:       retrier,
		log:           log,
	}
}

// FetchContracts pages through the upstream listing until maxCount eligible
// contracts are gathered or the upstream runs out. Each page requests an
// overfetch multiple of what is still needed, so the eligible set stays
// diverse after expired and inactive contracts are filtered out. Eligible
// contracts are upserted; an odds point is appended on first sight and
// whenever the yes probability moved.
func (c *Collector) FetchContracts(ctx context.Context) ([]storage.Contract, error) {
	maxCount := c.cfg.MaxContractsPerCycle
	pageSize := maxCount * c.cfg.OverfetchMultiplier
	if pageSize > 100 {
		pageSize = 100
	}

	var eligible []storage.Contract
	offset := 0

	for len(eligible) < maxCount {
		var page []market.ContractRecord
		err := c.retrier.Do(ctx, "list_contracts", func(ctx context.Context) error {
			var opErr error
			page, opErr = c.marketSource.ListContracts(ctx, offset, pageSize)
			return opErr
		})
		if err != nil {
			if errors.Is(err, fetch.ErrRateLimitExceeded) {
				c.log.WithField("source", c.marketSource.Name()).Warn("Contract listing rate limited, using what we have")
				return eligible, nil
			}
			return eligible, fmt.Errorf("list contracts: %w", err)
		}

		now := time.Now()
		for _, rec := range page {
			if !eligibleContract(rec, now) {
				metrics.ContractsIngested.WithLabelValues("skipped").Inc()
				continue
			}

			if err := c.ingestContract(ctx, rec, now); err != nil {
				c.log.WithError(err).WithField("contract_id", rec.ExternalID).Error("Failed to ingest contract")
				continue
			}

			eligible = append(eligible, contractModel(rec))
			if len(eligible) >= maxCount {
				break
			}
		}

		// Short page means the upstream is exhausted.
		if len(page) < pageSize {
			break
		}
		offset += pageSize
	}

	c.log.WithFields(logrus.Fields{
		"eligible": len(eligible),
		"max":      maxCount,
	}).Info("Contract fetch complete")
	return eligible, nil
}

func eligibleContract(rec market.ContractRecord, now time.Time) bool {
	if !rec.Active || rec.Closed {
		return false
	}
	if !rec.EndTime.IsZero() && rec.EndTime.Before(now) {
		return false
	}
	return true
}

func contractModel(rec market.ContractRecord) storage.Contract {
	var endTS int64
	if !rec.EndTime.IsZero() {
		endTS = rec.EndTime.Unix()
	}
	return storage.Contract{
		ExternalID:     rec.ExternalID,
		Question:       rec.Question,
		Description:    rec.Description,
		Category:       rec.Category,
		EndTS:          endTS,
		YesProbability: rec.YesProbability,
		NoProbability:  rec.NoProbability,
		Volume24h:      rec.Volume24h,
		Liquidity:      rec.Liquidity,
		Active:         rec.Active,
	}
}

func (c *Collector) ingestContract(ctx context.Context, rec market.ContractRecord, now time.Time) error {
	existing, err := c.store.GetContract(ctx, rec.ExternalID)
	if err != nil {
		return fmt.Errorf("get contract: %w", err)
	}

	contract := contractModel(rec)
	if err := c.store.UpsertContract(ctx, &contract); err != nil {
		return fmt.Errorf("upsert contract: %w", err)
	}

	if existing == nil {
		metrics.ContractsIngested.WithLabelValues("created").Inc()
	} else {
		metrics.ContractsIngested.WithLabelValues("updated").Inc()
	}

	// Append history on first sight and whenever the price moved.
	if existing == nil || existing.YesProbability != rec.YesProbability {
		point := &storage.HistoricalOddsPoint{
			ContractID:     rec.ExternalID,
			YesProbability: rec.YesProbability,
			NoProbability:  rec.NoProbability,
			Volume:         rec.Volume24h,
			RecordedTS:     now.Unix(),
		}
		if err := c.store.AppendOddsPoint(ctx, point); err != nil {
			return fmt.Errorf("append odds point: %w", err)
		}
	}
	return nil
}

// CollectSocial searches every enabled source for posts about the contract
// and stores each post independently: one bad post, or one dead source,
// never discards the rest of the batch. Returns the number of posts newly
// stored.
func (c *Collector) CollectSocial(ctx context.Context, contract *storage.Contract, limit int) int {
	keywords := social.ExtractKeywords(contract.Question)
	if len(keywords) > 3 {
		keywords = keywords[:3]
	}
	if len(keywords) == 0 {
		c.log.WithField("contract_id", contract.ExternalID).Debug("No usable keywords, skipping social collection")
		return 0
	}

	since := time.Now().Add(-time.Duration(c.cfg.LookbackHours) * time.Hour)
	stored := 0

	for _, source := range c.socialSources {
		if !source.Enabled() {
			continue
		}

		var posts []social.Post
		err := c.retrier.Do(ctx, source.Name()+"_search", func(ctx context.Context) error {
			var opErr error
			posts, opErr = source.Search(ctx, keywords, since, limit)
			return opErr
		})
		if err != nil {
			reason := "error"
			if errors.Is(err, fetch.ErrRateLimitExceeded) {
				reason = "rate_limited"
			}
			metrics.SourceFailures.WithLabelValues(source.Name(), reason).Inc()
			c.log.WithError(err).WithFields(logrus.Fields{
				"source":      source.Name(),
				"contract_id": contract.ExternalID,
			}).Warn("Social source failed, skipping for this cycle")
			continue
		}

		for _, p := range posts {
			if c.storePost(ctx, p, contract.ExternalID) {
				stored++
			}
		}
	}

	c.log.WithFields(logrus.Fields{
		"contract_id": contract.ExternalID,
		"stored":      stored,
	}).Debug("Social collection complete")
	return stored
}

// storePost commits one post and its contract link. Failures are logged
// and absorbed so the rest of the batch proceeds.
func (c *Collector) storePost(ctx context.Context, p social.Post, contractID string) bool {
	hash := identity.PostHash(p.Platform, p.Author, p.URL, p.Content)

	exists, err := c.store.HasPost(ctx, hash)
	if err != nil {
		metrics.PostsIngested.WithLabelValues(p.Platform, "error").Inc()
		c.log.WithError(err).WithField("post_hash", hash).Error("Failed to check post existence")
		return false
	}

	if !exists {
		post := &storage.SocialPost{
			ContentHash:     hash,
			Platform:        p.Platform,
			Author:          p.Author,
			Content:         p.Content,
			URL:             p.URL,
			EngagementScore: p.EngagementScore,
			PostedTS:        p.PostedAt.Unix(),
			FetchedTS:       time.Now().Unix(),
		}
		if err := c.store.InsertPost(ctx, post); err != nil {
			metrics.PostsIngested.WithLabelValues(p.Platform, "error").Inc()
			c.log.WithError(err).WithField("post_hash", hash).Error("Failed to insert post")
			return false
		}
	}

	// The same post can be relevant to more than one contract, so the
	// link is written even for known posts.
	if err := c.store.LinkPostContract(ctx, hash, contractID); err != nil {
		metrics.PostsIngested.WithLabelValues(p.Platform, "error").Inc()
		c.log.WithError(err).WithFields(logrus.Fields{
			"post_hash":   hash,
			"contract_id": contractID,
		}).Error("Failed to link post to contract")
		return false
	}

	if exists {
		metrics.PostsIngested.WithLabelValues(p.Platform, "duplicate").Inc()
		return false
	}
	metrics.PostsIngested.WithLabelValues(p.Platform, "stored").Inc()
	return true
}

// ContractsForSocial picks up to cap contracts to spend the social-fetch
// budget on, highest liquidity first with volume as the tiebreaker.
func ContractsForSocial(contracts []storage.Contract, cap int) []storage.Contract {
	if cap <= 0 || len(contracts) == 0 {
		return nil
	}

	ranked := make([]storage.Contract, len(contracts))
	copy(ranked, contracts)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Liquidity != ranked[j].Liquidity {
			return ranked[i].Liquidity > ranked[j].Liquidity
		}
		return ranked[i].Volume24h > ranked[j].Volume24h
	})

	if len(ranked) > cap {
		ranked = ranked[:cap]
	}
	return ranked
}
