// Package usecase orchestrates fingerprint matching requests across the
// matcher, the candidate store, the audit log and the result cache.
package usecase

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/fingerprint-match/internal/imaging"
	"github.com/example/fingerprint-match/internal/logging"
	"github.com/example/fingerprint-match/internal/matcher"
	"github.com/example/fingerprint-match/internal/repository"
	"github.com/example/fingerprint-match/internal/retry"
)

// ErrResultNotFound is returned when a request id is unknown.
var ErrResultNotFound = errors.New("match result not found")

// placeholder rendered for missing name and passport fields.
const notAvailable = "N/A"

// MatchLogRepository defines the persistence operations needed by the use case.
type MatchLogRepository interface {
	SaveLog(ctx context.Context, log *repository.MatchLog) error
	FindByRequestID(ctx context.Context, requestID string) (*repository.MatchLog, error)
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
}

// ProfileResolver turns a stored profile reference into a client URL.
type ProfileResolver interface {
	Resolve(ctx context.Context, ref string) string
}

// Pinger is implemented by candidate sources that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators of MatchUseCase. Cache and Profiles are optional.
type Deps struct {
	Matcher   Dependency[*matcher.Matcher]
	Source    Dependency[matcher.Source]
	Logs      Dependency[MatchLogRepository]
	Cache     Cache
	Profiles  ProfileResolver
	ResultTTL time.Duration
	// MaxImagePixels bounds query images; zero means imaging.DefaultMaxPixels.
	MaxImagePixels int
}

// Match is one ranked candidate as returned to clients.
type Match struct {
	NIC                 string  `json:"nic"`
	Name                string  `json:"name"`
	PassportID          string  `json:"passportId"`
	ProfileURL          string  `json:"profileUrl"`
	Score               float64 `json:"score"`
	UploadedFingerprint string  `json:"uploaded_fp_base64"`
}

// MatchResponse is the outcome of one match request.
type MatchResponse struct {
	RequestID string    `json:"request_id"`
	Matches   []Match   `json:"matches"`
	CreatedAt time.Time `json:"created_at"`
}

// HealthStatus reports whether every required collaborator is usable.
type HealthStatus struct {
	Healthy bool
	Message string
}

// MatchUseCase encapsulates business logic for the match flow.
type MatchUseCase struct {
	matcher   Dependency[*matcher.Matcher]
	source    Dependency[matcher.Source]
	logs      Dependency[MatchLogRepository]
	cache     Cache
	profiles  ProfileResolver
	resultTTL time.Duration
	logger    *zap.Logger
	retry     retry.Policy
	maxPixels int
}

// NewMatchUseCase constructs a new use case instance.
func NewMatchUseCase(deps Deps, logger *zap.Logger) *MatchUseCase {
	ttl := deps.ResultTTL
	if ttl <= 0 {
		ttl = DefaultResultTTL
	}
	return &MatchUseCase{
		matcher:   deps.Matcher,
		source:    deps.Source,
		logs:      deps.Logs,
		cache:     deps.Cache,
		profiles:  deps.Profiles,
		resultTTL: ttl,
		logger:    logger.Named("match_usecase"),
		retry:     redisPolicy(),
		maxPixels: deps.MaxImagePixels,
	}
}

// MatchFingerprint ranks the stored records against the uploaded image.
// Unusable bytes fail with matcher.ErrInvalidInput before the store is read.
func (uc *MatchUseCase) MatchFingerprint(ctx context.Context, imageBytes []byte) (*MatchResponse, error) {
	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.match", requestID)
	start := time.Now()

	m, err := uc.matcher.Get()
	if err != nil {
		opLogger.Error("matcher not ready", zap.Error(err))
		return nil, logging.NewOperationError("usecase.match", requestID, err)
	}
	source, err := uc.source.Get()
	if err != nil {
		opLogger.Error("candidate store not ready", zap.Error(err))
		return nil, logging.NewOperationError("usecase.match", requestID, err)
	}

	query, err := imaging.DecodeLimited(imageBytes, uc.maxPixels)
	if err != nil {
		opLogger.Info("rejected query image", zap.Error(err))
		return nil, logging.NewOperationError("usecase.decode_query", requestID, logging.Classify(matcher.ErrInvalidInput, err))
	}

	echo, err := imaging.EncodePNGBase64(query)
	if err != nil {
		opLogger.Warn("failed to encode query echo", zap.Error(err))
	}

	results, err := m.Rank(ctx, query, source)
	if err != nil {
		wrapped := logging.NewOperationError("usecase.rank", requestID, err)
		opLogger.Error("candidate ranking failed", zap.Error(wrapped))
		return nil, wrapped
	}

	resp := &MatchResponse{
		RequestID: requestID,
		Matches:   make([]Match, 0, len(results)),
		CreatedAt: time.Now().UTC(),
	}
	for _, r := range results {
		resp.Matches = append(resp.Matches, Match{
			NIC:                 r.ID,
			Name:                orNotAvailable(r.Name),
			PassportID:          orNotAvailable(r.PassportID),
			ProfileURL:          uc.profileURL(ctx, r.ProfileImage),
			Score:               r.Score,
			UploadedFingerprint: echo,
		})
	}

	uc.record(ctx, opLogger, resp, imageBytes, time.Since(start))
	opLogger.Info("match completed",
		zap.Int("matches", len(resp.Matches)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return resp, nil
}

// record writes the audit row and caches the response. Failures are logged
// and never fail the request.
func (uc *MatchUseCase) record(ctx context.Context, opLogger *zap.Logger, resp *MatchResponse, imageBytes []byte, elapsed time.Duration) {
	serialized, err := json.Marshal(resp)
	if err != nil {
		opLogger.Error("failed to serialize match response", zap.Error(err))
		return
	}

	if repo, err := uc.logs.Get(); err == nil {
		hash := sha1.Sum(imageBytes)
		log := &repository.MatchLog{
			RequestID:  resp.RequestID,
			QueryHash:  hex.EncodeToString(hash[:]),
			MatchCount: len(resp.Matches),
			LatencyMs:  elapsed.Milliseconds(),
			Results:    string(serialized),
			CreatedAt:  resp.CreatedAt,
		}
		if len(resp.Matches) > 0 {
			log.TopScore = resp.Matches[0].Score
			log.TopNIC = resp.Matches[0].NIC
		}
		if err := repo.SaveLog(ctx, log); err != nil {
			opLogger.Warn("failed to persist match log", zap.Error(logging.NewOperationError("usecase.save_log", resp.RequestID, err)))
		}
	}

	if uc.cache == nil {
		return
	}
	if err := uc.withRedisRetry(ctx, resp.RequestID, "cache.set.result", func() error {
		return uc.cache.Set(ctx, resultKey(resp.RequestID), string(serialized), uc.resultTTL)
	}); err != nil {
		opLogger.Warn("failed to cache match response", zap.Error(err))
	}
}

// GetResult retrieves a cached match response or loads it from the audit log.
func (uc *MatchUseCase) GetResult(ctx context.Context, requestID string) (*MatchResponse, error) {
	opLogger := logging.WithOperation(uc.logger, "usecase.get_result", requestID)

	if uc.cache != nil {
		cached, err := uc.withRedisGet(ctx, requestID, "cache.get.result", resultKey(requestID))
		if err == nil {
			var resp MatchResponse
			decodeErr := json.Unmarshal([]byte(cached), &resp)
			if decodeErr == nil {
				return &resp, nil
			}
			opLogger.Warn("failed to decode cached result", zap.Error(decodeErr))
		} else if !errors.Is(err, redis.Nil) {
			opLogger.Warn("failed to read cache", zap.Error(err))
		}
	}

	repo, err := uc.logs.Get()
	if err != nil {
		return nil, logging.NewOperationError("usecase.get_result", requestID, err)
	}
	log, err := repo.FindByRequestID(ctx, requestID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, logging.NewOperationError("usecase.get_result", requestID, ErrResultNotFound)
		}
		return nil, logging.NewOperationError("usecase.get_result", requestID, err)
	}

	var resp MatchResponse
	if err := json.Unmarshal([]byte(log.Results), &resp); err != nil {
		return nil, logging.NewOperationError("usecase.decode_result", requestID, err)
	}
	return &resp, nil
}

// Health reports the first unavailable or unreachable collaborator.
func (uc *MatchUseCase) Health(ctx context.Context) HealthStatus {
	if err := uc.matcher.Err(); err != nil {
		return HealthStatus{Message: err.Error()}
	}
	source, err := uc.source.Get()
	if err != nil {
		return HealthStatus{Message: err.Error()}
	}
	if pinger, ok := source.(Pinger); ok {
		if err := pinger.Ping(ctx); err != nil {
			return HealthStatus{Message: "candidate store unreachable: " + err.Error()}
		}
	}
	return HealthStatus{Healthy: true, Message: "Fingerprint matching service is running"}
}

func (uc *MatchUseCase) profileURL(ctx context.Context, ref string) string {
	if uc.profiles == nil {
		return ref
	}
	return uc.profiles.Resolve(ctx, ref)
}

func orNotAvailable(s string) string {
	if s == "" {
		return notAvailable
	}
	return s
}
