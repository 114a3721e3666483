package repository

import (
	"context"

	"go.uber.org/zap"

	"github.com/example/fingerprint-match/internal/retry"
)

// retrier re-runs store calls that fail with transient errors.
type retrier struct {
	logger *zap.Logger
	policy retry.Policy
}

func newRetrier(logger *zap.Logger, component string) retrier {
	return retrier{logger: logger, policy: retry.Default(component)}
}

func (r retrier) executeWithRetry(ctx context.Context, operation, requestID string, fn func() error) error {
	return r.policy.Do(ctx, r.logger, operation, requestID, fn)
}
