// Package retry wraps transient-error retry of database calls, adapted
// from the teacher's
// internal/storage/dolt.DoltStore.withRetry/isRetryableError.
package retry

import (
	"context"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/metric"
)

// MaxElapsed bounds the total time spent retrying a single operation.
const MaxElapsed = 30 * time.Second

func newBackoff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = MaxElapsed
	return bo
}

// IsRetryable reports whether err looks like a transient connection
// error worth retrying, mirroring the teacher's transient-error list for
// go-sql-driver/mysql-protocol backends.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	for _, substr := range []string{
		"driver: bad connection",
		"invalid connection",
		"broken pipe",
		"connection reset",
		"connection refused",
		"database is read only",
		"lost connection",
		"gone away",
		"i/o timeout",
		"unknown database",
	} {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}

// Counter is incremented once per retry attempt beyond the first; nil
// is a valid no-op counter.
type Counter interface {
	Add(ctx context.Context, incr int64, opts ...metric.AddOption)
}

// Do executes op, retrying with exponential backoff while IsRetryable
// returns true, stopping immediately on any other error. enabled should
// be false for dialects with their own driver-level retry (e.g. the
// file-embedded sqlite dialect).
func Do(ctx context.Context, enabled bool, counter Counter, op func() error) error {
	if !enabled {
		return op()
	}
	attempts := 0
	bo := newBackoff()
	err := backoff.Retry(func() error {
		attempts++
		err := op()
		if err != nil && IsRetryable(err) {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}, backoff.WithContext(bo, ctx))
	if attempts > 1 && counter != nil {
		counter.Add(ctx, int64(attempts-1))
	}
	return err
}
