package storage

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// isRetriable returns true for Postgres error codes that indicate a transient
// conflict. The archive only writes (batch COPY, retention DELETE), so the
// conflicts it actually sees are serialization failures and deadlocks between
// a COPY and a concurrent sweep.
func isRetriable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "40001": // serialization_failure
		return true
	case "40P01": // deadlock_detected
		return true
	default:
		return false
	}
}

// retryPolicy retries transient Postgres conflicts with jittered exponential
// backoff starting at baseDelay.
type retryPolicy struct {
	maxRetries int
	baseDelay  time.Duration
}

// archiveRetry is the policy for span archival. Three retries over a couple
// hundred milliseconds outlasts any sweep transaction without stalling the
// batcher long enough to fill its buffer.
var archiveRetry = retryPolicy{maxRetries: 3, baseDelay: 50 * time.Millisecond}

// run executes fn, retrying up to maxRetries times on retriable errors.
func (p retryPolicy) run(ctx context.Context, fn func() error) error {
	delay := p.baseDelay
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil || !isRetriable(err) {
			return err
		}
		if attempt == p.maxRetries {
			return err
		}
		jitter := time.Duration(rand.Int64N(int64(delay))) //nolint:gosec // jitter doesn't need crypto-strength randomness
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay + jitter):
		}
		delay *= 2
	}
}
