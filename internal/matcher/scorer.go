// Package matcher scores a query fingerprint against stored fingerprints and
// ranks the candidates.
package matcher

import (
	"context"
	"image"

	"go.uber.org/zap"

	"github.com/example/fingerprint-match/internal/embedding"
	"github.com/example/fingerprint-match/internal/imaging"
)

// Matcher compares fingerprint images through an embedding backend.
// It holds no per-request state and is safe for concurrent use.
type Matcher struct {
	embedder embedding.Embedder
	opts     Options
	logger   *zap.Logger
}

// New builds a Matcher. opts must already be validated.
func New(embedder embedding.Embedder, opts Options, logger *zap.Logger) *Matcher {
	return &Matcher{embedder: embedder, opts: opts, logger: logger.Named("matcher")}
}

// Score returns the similarity of candidate to query in [0,1]. Only the query
// is rotated during the alignment search, so Score(a, b) and Score(b, a) may
// differ. Embedding failures score 0.
func (m *Matcher) Score(ctx context.Context, query, candidate *image.Gray) float64 {
	return m.Prepare(ctx, query).Score(ctx, candidate)
}

// PreparedQuery holds the embeddings of one query at every configured rotation.
type PreparedQuery struct {
	m       *Matcher
	vectors []embedding.Vector
}

// Prepare embeds query at each rotation angle. Angles whose embedding fails
// are dropped; a prepared query with no vectors scores every candidate 0.
func (m *Matcher) Prepare(ctx context.Context, query *image.Gray) *PreparedQuery {
	prepared := &PreparedQuery{m: m}
	if query == nil {
		return prepared
	}
	for _, angle := range m.opts.angles() {
		vec, err := m.embed(ctx, imaging.Rotate(query, angle))
		if err != nil {
			m.logger.Warn("query embedding failed", zap.Float64("angle", angle), zap.Error(err))
			continue
		}
		prepared.vectors = append(prepared.vectors, vec)
	}
	return prepared
}

// Score compares candidate against the prepared query.
func (p *PreparedQuery) Score(ctx context.Context, candidate *image.Gray) float64 {
	return p.score(ctx, candidate, p.m.logger)
}

func (p *PreparedQuery) score(ctx context.Context, candidate *image.Gray, logger *zap.Logger) float64 {
	if len(p.vectors) == 0 || candidate == nil {
		return 0
	}
	target, err := p.m.embed(ctx, candidate)
	if err != nil {
		logger.Warn("candidate embedding failed", zap.Error(err))
		return 0
	}

	best := 0.0
	for _, vec := range p.vectors {
		d, err := embedding.L2Distance(vec, target)
		if err != nil {
			logger.Warn("embedding distance failed", zap.Error(err))
			continue
		}
		if s := p.m.opts.ScoreDistance(d); s > best {
			best = s
		}
	}
	return best
}

func (m *Matcher) embed(ctx context.Context, img *image.Gray) (embedding.Vector, error) {
	tensor, err := imaging.Normalize(img, m.opts.Shape)
	if err != nil {
		return nil, err
	}
	vec, err := m.embedder.Embed(ctx, tensor)
	if err != nil {
		return nil, err
	}
	if len(vec) == 0 {
		return nil, embedding.ErrEmptyVector
	}
	return vec, nil
}
