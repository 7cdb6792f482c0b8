package syncstore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/evmindex/evmindex/pkg/config"
	"github.com/mattn/go-sqlite3"
)

// retryableError reports whether a sync store operation should be retried.
// Adapted from internal/rpc's retry classification, at DB-operation rather
// than RPC-call granularity: SQLite's busy/locked errors stand in for the
// network transients the RPC client retries on.
func retryableError(err error) bool {
	if err == nil {
		return false
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return true
		}
	}

	errStr := strings.ToLower(err.Error())
	if strings.Contains(errStr, "database is locked") ||
		strings.Contains(errStr, "busy") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") {
		return true
	}

	return false
}

func calculateBackoff(attempt int, cfg *config.RetryConfig) time.Duration {
	if attempt <= 1 {
		return 0
	}

	backoff := float64(cfg.InitialBackoff.Duration) * math.Pow(cfg.BackoffMultiplier, float64(attempt-2))
	if backoff > float64(cfg.MaxBackoff.Duration) {
		backoff = float64(cfg.MaxBackoff.Duration)
	}

	jitterRange := backoff * 0.25
	jitter := (rand.Float64() * 2 * jitterRange) - jitterRange
	backoff += jitter
	if backoff < 0 {
		backoff = 0
	}

	return time.Duration(backoff)
}

// withRetry wraps a sync store operation with the exponential-backoff retry
// envelope, reusing the config.RetryConfig shape the RPC client pool uses.
// Non-retryable errors fail immediately; retryable ones back off and retry
// up to cfg.MaxAttempts, respecting ctx cancellation throughout.
func withRetry(ctx context.Context, cfg *config.RetryConfig, operation string, fn func() error) error {
	start := time.Now()
	defer func() { operationDuration(operation, time.Since(start)) }()

	if cfg == nil {
		err := fn()
		if err != nil {
			operationErrorInc(operation)
		}
		return err
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			operationErrorInc(operation)
			return fmt.Errorf("syncstore: context cancelled before attempt %d: %w", attempt, err)
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !retryableError(err) {
			operationErrorInc(operation)
			return fmt.Errorf("syncstore: non-retryable error on %s attempt %d/%d: %w", operation, attempt, cfg.MaxAttempts, err)
		}

		if attempt >= cfg.MaxAttempts {
			break
		}

		backoff := calculateBackoff(attempt+1, cfg)
		if backoff > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				operationErrorInc(operation)
				return fmt.Errorf("syncstore: context cancelled during backoff on %s (attempt %d/%d): %w",
					operation, attempt, cfg.MaxAttempts, ctx.Err())
			}
		}
		operationRetryInc(operation)
	}

	operationErrorInc(operation)
	return fmt.Errorf("syncstore: %s failed after %d attempts: %w", operation, cfg.MaxAttempts, lastErr)
}
