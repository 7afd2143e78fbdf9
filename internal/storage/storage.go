package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cfmarsh/gapscan/internal/config"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DB wraps the GORM database connection
type DB struct {
	conn *gorm.DB
	log  *logrus.Logger
}

// New creates a new database connection with GORM
func New(cfg *config.Config, log *logrus.Logger) (*DB, error) {
	// Configure GORM logger
	gormLogger := logger.New(
		&gormLogAdapter{log: log},
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	conn, err := gorm.Open(mysql.Open(cfg.DatabaseDSN), &gorm.Config{
		Logger:         gormLogger,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.DatabaseMaxConns)
	sqlDB.SetMaxIdleConns(cfg.DatabaseMaxConns / 2)
	sqlDB.SetConnMaxIdleTime(cfg.DatabaseMaxIdleTime)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	log.Info("Database connection established")

	return &DB{conn: conn, log: log}, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	sqlDB, err := db.conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// AutoMigrate runs GORM auto-migration (for development only)
func (db *DB) AutoMigrate() error {
	return db.conn.AutoMigrate(
		&Contract{},
		&HistoricalOddsPoint{},
		&SocialPost{},
		&PostContract{},
		&SentimentRecord{},
		&DetectedGap{},
	)
}

// GetContract retrieves a contract by its external ID
func (db *DB) GetContract(ctx context.Context, externalID string) (*Contract, error) {
	var contract Contract
	result := db.conn.WithContext(ctx).Where("external_id = ?", externalID).First(&contract)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if result.Error != nil {
		return nil, result.Error
	}
	return &contract, nil
}

// UpsertContract inserts or updates a contract by external ID
func (db *DB) UpsertContract(ctx context.Context, contract *Contract) error {
	existing, err := db.GetContract(ctx, contract.ExternalID)
	if err != nil {
		return err
	}

	if existing == nil {
		return db.conn.WithContext(ctx).Create(contract).Error
	}

	updates := map[string]interface{}{
		"question":        contract.Question,
		"description":     contract.Description,
		"category":        contract.Category,
		"end_ts":          contract.EndTS,
		"yes_probability": contract.YesProbability,
		"no_probability":  contract.NoProbability,
		"volume24h":       contract.Volume24h,
		"liquidity":       contract.Liquidity,
		"active":          contract.Active,
		"updated_ts":      time.Now().Unix(),
	}
	return db.conn.WithContext(ctx).
		Model(&Contract{}).
		Where("external_id = ?", contract.ExternalID).
		Updates(updates).Error
}

// AppendOddsPoint appends one historical odds snapshot
func (db *DB) AppendOddsPoint(ctx context.Context, point *HistoricalOddsPoint) error {
	return db.conn.WithContext(ctx).Create(point).Error
}

// GetOddsHistory retrieves the odds series for a contract, oldest first
func (db *DB) GetOddsHistory(ctx context.Context, contractID string, limit int) ([]HistoricalOddsPoint, error) {
	var points []HistoricalOddsPoint
	q := db.conn.WithContext(ctx).
		Where("contract_id = ?", contractID).
		Order("recorded_ts ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	result := q.Find(&points)
	return points, result.Error
}

// HasPost checks whether a post with the given content hash exists
func (db *DB) HasPost(ctx context.Context, contentHash string) (bool, error) {
	var count int64
	result := db.conn.WithContext(ctx).
		Model(&SocialPost{}).
		Where("content_hash = ?", contentHash).
		Count(&count)
	if result.Error != nil {
		return false, result.Error
	}
	return count > 0, nil
}

// InsertPost inserts a new social post. A duplicate identity is treated as
// "already have it", not an error.
func (db *DB) InsertPost(ctx context.Context, post *SocialPost) error {
	err := db.conn.WithContext(ctx).Create(post).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil
	}
	return err
}

// LinkPostContract records that a post is relevant to a contract
func (db *DB) LinkPostContract(ctx context.Context, postHash, contractID string) error {
	link := &PostContract{PostHash: postHash, ContractID: contractID}
	err := db.conn.WithContext(ctx).Create(link).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil
	}
	return err
}

// GetPostsForContract retrieves posts linked to a contract, newest first
func (db *DB) GetPostsForContract(ctx context.Context, contractID string, limit int) ([]SocialPost, error) {
	var posts []SocialPost
	q := db.conn.WithContext(ctx).
		Joins("JOIN post_contracts ON post_contracts.post_hash = social_posts.content_hash").
		Where("post_contracts.contract_id = ?", contractID).
		Order("social_posts.posted_ts DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	result := q.Find(&posts)
	return posts, result.Error
}

// CountPostsForContract counts posts linked to a contract
func (db *DB) CountPostsForContract(ctx context.Context, contractID string) (int64, error) {
	var count int64
	result := db.conn.WithContext(ctx).
		Model(&PostContract{}).
		Where("contract_id = ?", contractID).
		Count(&count)
	return count, result.Error
}

// HasSentiment checks whether a (post, contract) pair has been analyzed
func (db *DB) HasSentiment(ctx context.Context, postHash, contractID string) (bool, error) {
	var count int64
	result := db.conn.WithContext(ctx).
		Model(&SentimentRecord{}).
		Where("post_hash = ? AND contract_id = ?", postHash, contractID).
		Count(&count)
	if result.Error != nil {
		return false, result.Error
	}
	return count > 0, nil
}

// InsertSentiment appends one sentiment record
func (db *DB) InsertSentiment(ctx context.Context, record *SentimentRecord) error {
	err := db.conn.WithContext(ctx).Create(record).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil
	}
	return err
}

// GetSentimentsForContract retrieves all sentiment records for a contract
func (db *DB) GetSentimentsForContract(ctx context.Context, contractID string) ([]SentimentRecord, error) {
	var records []SentimentRecord
	result := db.conn.WithContext(ctx).
		Where("contract_id = ?", contractID).
		Order("analyzed_ts ASC").
		Find(&records)
	return records, result.Error
}

// RecentGapExists checks for a stored gap of the same (contract, type)
// detected at or after the given timestamp
func (db *DB) RecentGapExists(ctx context.Context, contractID, gapType string, sinceTS int64) (bool, error) {
	var count int64
	result := db.conn.WithContext(ctx).
		Model(&DetectedGap{}).
		Where("contract_id = ? AND gap_type = ? AND detected_ts >= ?", contractID, gapType, sinceTS).
		Count(&count)
	if result.Error != nil {
		return false, result.Error
	}
	return count > 0, nil
}

// DeleteRecentGaps removes stored gaps of the same (contract, type) within
// the window. Used only under the latest_wins dedupe policy.
func (db *DB) DeleteRecentGaps(ctx context.Context, contractID, gapType string, sinceTS int64) error {
	return db.conn.WithContext(ctx).
		Where("contract_id = ? AND gap_type = ? AND detected_ts >= ?", contractID, gapType, sinceTS).
		Delete(&DetectedGap{}).Error
}

// InsertGap stores a detected gap
func (db *DB) InsertGap(ctx context.Context, gap *DetectedGap) error {
	return db.conn.WithContext(ctx).Create(gap).Error
}

// TopGapsSince retrieves unresolved gaps detected since the given timestamp,
// highest confidence first
func (db *DB) TopGapsSince(ctx context.Context, sinceTS int64, limit int) ([]DetectedGap, error) {
	var gaps []DetectedGap
	q := db.conn.WithContext(ctx).
		Where("detected_ts >= ? AND resolved = ?", sinceTS, false).
		Order("confidence_score DESC, detected_ts DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	result := q.Find(&gaps)
	return gaps, result.Error
}

// gormLogAdapter adapts logrus to GORM's logger interface
type gormLogAdapter struct {
	log *logrus.Logger
}

func (l *gormLogAdapter) Printf(format string, args ...interface{}) {
	l.log.Debugf(format, args...)
}
