package storage

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Gap types produced by the detection engine.
const (
	GapSentimentMismatch = "sentiment_mismatch"
	GapInfoAsymmetry     = "info_asymmetry"
	GapPatternDeviation  = "pattern_deviation"
	GapArbitrage         = "arbitrage"
)

// JSONMap is an open key/value payload stored as a JSON text column.
// Evidence fields differ materially between gap types, so the schema
// stays open-ended.
type JSONMap map[string]interface{}

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal json map: %w", err)
	}
	return string(b), nil
}

func (m *JSONMap) Scan(src interface{}) error {
	if src == nil {
		*m = nil
		return nil
	}
	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported json map source type %T", src)
	}
	return json.Unmarshal(data, m)
}

// StringList is a list of short strings stored as a JSON text column.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, fmt.Errorf("marshal string list: %w", err)
	}
	return string(b), nil
}

func (l *StringList) Scan(src interface{}) error {
	if src == nil {
		*l = nil
		return nil
	}
	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported string list source type %T", src)
	}
	return json.Unmarshal(data, l)
}

// Contract is a prediction-market contract, upserted by external ID each
// ingestion cycle. Contracts are never deleted by this service.
type Contract struct {
	ExternalID     string  `gorm:"primaryKey;size:255"`
	Question       string  `gorm:"type:text;not null"`
	Description    string  `gorm:"type:text"`
	Category       string  `gorm:"size:100;index"`
	EndTS          int64   `gorm:"default:0;index"` // 0 = no end date
	YesProbability float64 `gorm:"type:decimal(5,4)"`
	NoProbability  float64 `gorm:"type:decimal(5,4)"`
	Volume24h      float64 `gorm:"type:decimal(15,2)"`
	Liquidity      float64 `gorm:"type:decimal(15,2)"`
	Active         bool    `gorm:"default:true;index"`
	CreatedTS      int64   `gorm:"not null"`
	UpdatedTS      int64   `gorm:"not null"`
}

func (Contract) TableName() string {
	return "contracts"
}

// HistoricalOddsPoint is one observed odds snapshot for a contract.
// Append-only; never mutated after creation.
type HistoricalOddsPoint struct {
	ID             int64   `gorm:"primaryKey;autoIncrement"`
	ContractID     string  `gorm:"size:255;not null;index:idx_odds_contract_ts"`
	YesProbability float64 `gorm:"type:decimal(5,4);not null"`
	NoProbability  float64 `gorm:"type:decimal(5,4);not null"`
	Volume         float64 `gorm:"type:decimal(15,2)"`
	RecordedTS     int64   `gorm:"not null;index:idx_odds_contract_ts"`
}

func (HistoricalOddsPoint) TableName() string {
	return "historical_odds"
}

// SocialPost is an ingested social/news item. The primary key is a
// deterministic content hash, so re-ingesting the same article never
// creates a duplicate row.
type SocialPost struct {
	ContentHash     string `gorm:"primaryKey;size:64"`
	Platform        string `gorm:"size:50;not null;index"`
	Author          string `gorm:"size:255"`
	Content         string `gorm:"type:text;not null"`
	URL             string `gorm:"size:1024"`
	EngagementScore int    `gorm:"default:0"`
	PostedTS        int64  `gorm:"not null;index"`
	FetchedTS       int64  `gorm:"not null"`
}

func (SocialPost) TableName() string {
	return "social_posts"
}

// PostContract links a post to a contract it is relevant to. A post found
// while searching for one contract may later match another; each pairing
// is its own row.
type PostContract struct {
	PostHash   string `gorm:"primaryKey;size:64"`
	ContractID string `gorm:"primaryKey;size:255;index"`
	CreatedTS  int64  `gorm:"not null"`
}

func (PostContract) TableName() string {
	return "post_contracts"
}

// SentimentRecord holds one sentiment analysis result for a (post, contract)
// pair. Immutable once created.
type SentimentRecord struct {
	ID         int64      `gorm:"primaryKey;autoIncrement"`
	PostHash   string     `gorm:"size:64;not null;index:idx_sentiment_post_contract"`
	ContractID string     `gorm:"size:255;not null;index:idx_sentiment_post_contract;index"`
	Score      float64    `gorm:"type:decimal(4,3);not null"` // -1.0 to 1.0
	Label      string     `gorm:"size:20;not null"`           // positive, negative, neutral
	Confidence float64    `gorm:"type:decimal(4,3);not null"` // 0.0 to 1.0
	Topics     StringList `gorm:"type:text"`
	AnalyzedTS int64      `gorm:"not null;index"`
}

func (SentimentRecord) TableName() string {
	return "sentiment_records"
}

// DetectedGap is a confirmed pricing inefficiency. At most one stored gap
// per (contract, gap_type) within the dedupe window; the gate enforces it.
type DetectedGap struct {
	ID                 string   `gorm:"primaryKey;size:36"`
	ContractID         string   `gorm:"size:255;not null;index:idx_gap_contract_type"`
	GapType            string   `gorm:"size:50;not null;index:idx_gap_contract_type"`
	ConfidenceScore    int      `gorm:"not null;index"` // 0-100
	Explanation        string   `gorm:"type:text;not null"`
	Evidence           JSONMap  `gorm:"type:text"`
	MarketProbability  float64  `gorm:"type:decimal(5,4)"`
	ImpliedProbability *float64 `gorm:"type:decimal(5,4)"` // nil when no implied value applies
	EdgePercentage     float64  `gorm:"type:decimal(5,2)"`
	DetectedTS         int64    `gorm:"not null;index"`
	Resolved           bool     `gorm:"default:false"`
	ResolutionNotes    string   `gorm:"type:text"`
	ResolvedTS         int64    `gorm:"default:0"`
}

func (DetectedGap) TableName() string {
	return "detected_gaps"
}

// BeforeCreate hooks for IDs and timestamps.
func (c *Contract) BeforeCreate(tx *gorm.DB) error {
	now := time.Now().Unix()
	if c.CreatedTS == 0 {
		c.CreatedTS = now
	}
	if c.UpdatedTS == 0 {
		c.UpdatedTS = now
	}
	return nil
}

func (p *SocialPost) BeforeCreate(tx *gorm.DB) error {
	if p.FetchedTS == 0 {
		p.FetchedTS = time.Now().Unix()
	}
	return nil
}

func (p *PostContract) BeforeCreate(tx *gorm.DB) error {
	if p.CreatedTS == 0 {
		p.CreatedTS = time.Now().Unix()
	}
	return nil
}

func (s *SentimentRecord) BeforeCreate(tx *gorm.DB) error {
	if s.AnalyzedTS == 0 {
		s.AnalyzedTS = time.Now().Unix()
	}
	return nil
}

func (g *DetectedGap) BeforeCreate(tx *gorm.DB) error {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if g.DetectedTS == 0 {
		g.DetectedTS = time.Now().Unix()
	}
	return nil
}
