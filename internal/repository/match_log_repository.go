package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrNotFound is returned when no match log exists for a request.
var ErrNotFound = errors.New("match log not found")

// MatchLog is the persisted audit record of one match request.
type MatchLog struct {
	ID         uint      `gorm:"primaryKey"`
	RequestID  string    `gorm:"column:request_id;uniqueIndex;size:64"`
	QueryHash  string    `gorm:"column:query_hash;index;size:64"`
	MatchCount int       `gorm:"column:match_count"`
	TopScore   float64   `gorm:"column:top_score"`
	TopNIC     string    `gorm:"column:top_nic;size:64"`
	LatencyMs  int64     `gorm:"column:latency_ms"`
	Results    string    `gorm:"column:results;type:text"`
	CreatedAt  time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (MatchLog) TableName() string {
	return "match_logs"
}

// MetricsAggregation holds totals computed over all match logs.
type MetricsAggregation struct {
	TotalCount       int64
	MatchedCount     int64
	AverageTopScore  float64
	AverageLatencyMs float64
}

// MatchLogRepository persists the match audit trail.
type MatchLogRepository struct {
	retrier
	db *gorm.DB
}

// NewMatchLogRepository creates a new repository instance.
func NewMatchLogRepository(db *gorm.DB, logger *zap.Logger) *MatchLogRepository {
	return &MatchLogRepository{
		retrier: newRetrier(logger.Named("match_log_repository"), "store"),
		db:      db,
	}
}

// AutoMigrate ensures the schema is available.
func (r *MatchLogRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&MatchLog{})
}

// SaveLog persists a match log entry.
func (r *MatchLogRepository) SaveLog(ctx context.Context, log *MatchLog) error {
	return r.executeWithRetry(ctx, "repository.match_logs.save", log.RequestID, func() error {
		return r.db.WithContext(ctx).Create(log).Error
	})
}

// FindByRequestID retrieves the log of one request.
func (r *MatchLogRepository) FindByRequestID(ctx context.Context, requestID string) (*MatchLog, error) {
	var log MatchLog
	err := r.executeWithRetry(ctx, "repository.match_logs.find", requestID, func() error {
		err := r.db.WithContext(ctx).First(&log, "request_id = ?", requestID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &log, nil
}

// AggregateMetrics computes request totals and averages over all logs.
func (r *MatchLogRepository) AggregateMetrics(ctx context.Context) (*MetricsAggregation, error) {
	var agg MetricsAggregation
	err := r.executeWithRetry(ctx, "repository.match_logs.aggregate", "", func() error {
		return r.db.WithContext(ctx).
			Model(&MatchLog{}).
			Select(`COUNT(*) AS total_count,
				COALESCE(SUM(CASE WHEN match_count > 0 THEN 1 ELSE 0 END), 0) AS matched_count,
				COALESCE(AVG(top_score), 0) AS average_top_score,
				COALESCE(AVG(latency_ms), 0) AS average_latency_ms`).
			Scan(&agg).Error
	})
	if err != nil {
		return nil, err
	}
	return &agg, nil
}
