// Package retry re-runs calls to redis and postgres that fail with transient
// errors, backing off exponentially between attempts.
package retry

import (
	"context"
	"database/sql/driver"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/example/fingerprint-match/internal/logging"
)

// Policy bounds the attempts of one operation.
type Policy struct {
	Attempts       int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// Component names the backend in log lines, e.g. "redis" or "store".
	Component string
	// Expected reports errors that are an answer rather than a failure, such
	// as a cache miss. They are returned at once and not logged.
	Expected func(error) bool
}

// Default returns three attempts starting at 50ms and capped at one second.
func Default(component string) Policy {
	return Policy{
		Attempts:       3,
		InitialBackoff: 50 * time.Millisecond,
		MaxBackoff:     time.Second,
		Component:      component,
	}
}

// Do runs fn until it succeeds, fails with a non-transient error or the
// attempts run out. Failures are returned as *logging.OperationError.
func (p Policy) Do(ctx context.Context, logger *zap.Logger, operation, requestID string, fn func() error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	component := p.Component
	if component == "" {
		component = "backend"
	}
	backoff := p.InitialBackoff
	opLogger := logging.WithOperation(logger, operation, requestID)

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= p.MaxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info(component+" operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}
		if p.Expected != nil && p.Expected(err) {
			return logging.NewOperationError(operation, requestID, err)
		}

		if !IsTransient(err) || attempt == attempts-1 {
			opLogger.Error(component+" operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, requestID, err)
		}

		opLogger.Warn("transient "+component+" error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

// IsTransient reports timeouts, temporary network errors and connections the
// driver gave up on.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, driver.ErrBadConn) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
