package usecase

import (
	"context"

	"github.com/example/fingerprint-match/internal/logging"
)

// MetricsSummary represents aggregated match insights.
type MetricsSummary struct {
	TotalRequests              int64   `json:"total_requests"`
	MatchedRequests            int64   `json:"matched_requests"`
	MatchRate                  float64 `json:"match_rate"`
	AverageTopScore            float64 `json:"average_top_score"`
	AverageProcessingLatencyMs float64 `json:"average_processing_latency_ms"`
}

// GetMetricsSummary aggregates match metrics from persisted logs.
func (uc *MatchUseCase) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	repo, err := uc.logs.Get()
	if err != nil {
		return nil, logging.NewOperationError("usecase.metrics_summary", "", err)
	}
	aggregation, err := repo.AggregateMetrics(ctx)
	if err != nil {
		return nil, logging.NewOperationError("usecase.metrics_summary", "", err)
	}

	summary := &MetricsSummary{
		TotalRequests:              aggregation.TotalCount,
		MatchedRequests:            aggregation.MatchedCount,
		AverageTopScore:            aggregation.AverageTopScore,
		AverageProcessingLatencyMs: aggregation.AverageLatencyMs,
	}

	if aggregation.TotalCount > 0 {
		summary.MatchRate = float64(aggregation.MatchedCount) / float64(aggregation.TotalCount)
	}

	return summary, nil
}
