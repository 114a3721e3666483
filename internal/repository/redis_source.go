package repository

import (
	"context"
	"strings"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/fingerprint-match/internal/matcher"
)

// DefaultCandidatePrefix namespaces enrolled records stored as redis hashes.
const DefaultCandidatePrefix = "citizen:"

const scanBatchSize = 100

// Hash fields of a record document.
const (
	fieldName             = "name"
	fieldPassportID       = "passportId"
	fieldProfileImage     = "profile_image"
	fieldFingerprintImage = "fingerprint_image"
)

// RedisCandidateSource streams records kept as one hash per record under a
// key prefix. The record ID is the key with the prefix removed.
type RedisCandidateSource struct {
	retrier
	client *redis.Client
	prefix string
}

// NewRedisCandidateSource creates a source scanning prefix, or
// DefaultCandidatePrefix when prefix is empty.
func NewRedisCandidateSource(client *redis.Client, prefix string, logger *zap.Logger) *RedisCandidateSource {
	if prefix == "" {
		prefix = DefaultCandidatePrefix
	}
	return &RedisCandidateSource{
		retrier: newRetrier(logger.Named("redis_candidate_source"), "redis"),
		client:  client,
		prefix:  prefix,
	}
}

// Each implements matcher.Source. SCAN may repeat keys, so each key is
// visited at most once per call. Keys under the prefix that do not hold a
// hash are skipped.
func (s *RedisCandidateSource) Each(ctx context.Context, fn func(matcher.Candidate) error) error {
	seen := make(map[string]struct{})
	iter := s.client.Scan(ctx, 0, s.prefix+"*", scanBatchSize).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}

		var fields map[string]string
		var wrongType bool
		err := s.executeWithRetry(ctx, "repository.redis.hgetall", "", func() error {
			var err error
			fields, err = s.client.HGetAll(ctx, key).Result()
			if isWrongType(err) {
				wrongType = true
				return nil
			}
			return err
		})
		if err != nil {
			return err
		}
		if wrongType {
			s.logger.Warn("skipping non-hash candidate key", zap.String("key", key))
			continue
		}
		if len(fields) == 0 {
			continue
		}
		if err := fn(candidateFromHash(key, s.prefix, fields)); err != nil {
			return err
		}
	}
	return iter.Err()
}

// Ping reports whether redis answers.
func (s *RedisCandidateSource) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func isWrongType(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "WRONGTYPE")
}

func candidateFromHash(key, prefix string, fields map[string]string) matcher.Candidate {
	return matcher.Candidate{
		ID:           strings.TrimPrefix(key, prefix),
		Name:         fields[fieldName],
		PassportID:   fields[fieldPassportID],
		ProfileImage: fields[fieldProfileImage],
		Fingerprint:  fields[fieldFingerprintImage],
	}
}
