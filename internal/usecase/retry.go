package usecase

import (
	"context"
	"errors"

	"github.com/go-redis/redis/v8"

	"github.com/example/fingerprint-match/internal/retry"
)

// redisPolicy retries cache calls; a miss is an answer, not a failure.
func redisPolicy() retry.Policy {
	policy := retry.Default("redis")
	policy.Expected = func(err error) bool { return errors.Is(err, redis.Nil) }
	return policy
}

func (uc *MatchUseCase) withRedisRetry(ctx context.Context, requestID, operation string, fn func() error) error {
	return uc.retry.Do(ctx, uc.logger, operation, requestID, fn)
}

func (uc *MatchUseCase) withRedisGet(ctx context.Context, requestID, operation, cacheKey string) (string, error) {
	var result string
	err := uc.withRedisRetry(ctx, requestID, operation, func() error {
		value, err := uc.cache.Get(ctx, cacheKey)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}
