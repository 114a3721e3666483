package matcher

import (
	"context"
	"fmt"
	"image"
	"sort"

	"go.uber.org/zap"

	"github.com/example/fingerprint-match/internal/imaging"
	"github.com/example/fingerprint-match/internal/logging"
)

// Candidate is one stored record as read from the store.
type Candidate struct {
	ID           string
	Name         string
	PassportID   string
	ProfileImage string
	// Fingerprint is the stored base64 encoded image; empty when the record has none.
	Fingerprint string
}

// Result is a candidate that scored above the threshold.
type Result struct {
	ID           string
	Name         string
	PassportID   string
	ProfileImage string
	Score        float64
}

// Source streams stored records in store order. Each stops at the first error
// returned by fn or by the underlying store.
type Source interface {
	Each(ctx context.Context, fn func(Candidate) error) error
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, fn func(Candidate) error) error

// Each implements Source.
func (f SourceFunc) Each(ctx context.Context, fn func(Candidate) error) error {
	return f(ctx, fn)
}

// Rank scores every record of source against query and returns at most TopK
// results scoring above Threshold, best first. Records whose fingerprint
// cannot be decoded are skipped. Any enumeration error discards the partial
// results and is reported as ErrStoreQuery.
func (m *Matcher) Rank(ctx context.Context, query *image.Gray, source Source) ([]Result, error) {
	if query == nil {
		return nil, fmt.Errorf("%w: missing query image", ErrInvalidInput)
	}
	prepared := m.Prepare(ctx, query)

	var (
		results = make([]Result, 0, m.opts.TopK)
		scanned int
		skipped int
	)
	err := source.Each(ctx, func(c Candidate) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if c.Fingerprint == "" {
			return nil
		}
		scanned++
		candidateLogger := logging.WithCandidate(m.logger, c.ID)

		img, err := decodeStored(c.Fingerprint)
		if err != nil {
			skipped++
			candidateLogger.Warn("skipping candidate with undecodable fingerprint", zap.Error(err))
			return nil
		}

		score := prepared.score(ctx, img, candidateLogger)
		if score > m.opts.Threshold {
			results = append(results, Result{
				ID:           c.ID,
				Name:         c.Name,
				PassportID:   c.PassportID,
				ProfileImage: c.ProfileImage,
				Score:        score,
			})
		}
		return nil
	})
	if err != nil {
		return nil, logging.Classify(ErrStoreQuery, err)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > m.opts.TopK {
		results = results[:m.opts.TopK]
	}

	m.logger.Debug("candidate scan complete",
		zap.Int("scanned", scanned),
		zap.Int("skipped", skipped),
		zap.Int("matches", len(results)),
	)
	return results, nil
}

func decodeStored(encoded string) (*image.Gray, error) {
	data, err := imaging.DecodeBase64(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", imaging.ErrDecode, err)
	}
	return imaging.Decode(data)
}
