// Package retry wraps cenkalti/backoff/v4 around §7's retry-eligible
// conflict errors (ConcurrentWrite, SerializationFailure): a transaction
// that lost an optimistic race is expected to simply retry with a fresh
// begin, not surface the conflict to the caller as a hard failure.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/nexusdb/nexusdb/pkg/dberr"
)

// Policy configures how many times, and how long, a conflicting
// transaction is retried before giving up and returning the conflict.
type Policy struct {
	MaxElapsed     time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultPolicy favors a handful of fast retries: conflicts are expected
// to resolve in microseconds once the winning transaction commits, not
// over seconds.
func DefaultPolicy() Policy {
	return Policy{
		MaxElapsed:     2 * time.Second,
		InitialBackoff: 500 * time.Microsecond,
		MaxBackoff:     50 * time.Millisecond,
	}
}

func (p Policy) backoff(ctx context.Context) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.InitialBackoff
	bo.MaxInterval = p.MaxBackoff
	bo.MaxElapsedTime = p.MaxElapsed
	return backoff.WithContext(bo, ctx)
}

// IsRetryable reports whether err is one of §7's retry-eligible Conflict
// kinds.
func IsRetryable(err error) bool {
	k := dberr.KindOf(err)
	return k == dberr.KindConcurrentWrite || k == dberr.KindSerializationFailure
}

// Do retries fn until it succeeds, returns a non-retryable error, or the
// policy's budget is exhausted. A non-retryable error stops immediately
// via backoff.Permanent rather than burning the remaining budget.
func Do(ctx context.Context, policy Policy, fn func() error) error {
	return backoff.Retry(func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy.backoff(ctx))
}
