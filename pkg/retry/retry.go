package retry

import (
	"context"
	"time"

	retrylib "github.com/sethvargo/go-retry"

	pkgerrors "github.com/fieldbook/fieldbook-sync/pkg/errors"
)

const (
	defaultMaxAttempts = 3
	defaultBackoffBase = 500 * time.Millisecond
	defaultBackoffMax  = 10 * time.Second
	jitterPercent      = 20
)

// Policy bounds a retried operation. Zero values fall back to defaults.
type Policy struct {
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.BackoffBase <= 0 {
		p.BackoffBase = defaultBackoffBase
	}
	if p.BackoffMax <= 0 {
		p.BackoffMax = defaultBackoffMax
	}
	return p
}

// Do runs fn up to MaxAttempts times with capped exponential backoff.
// Only transient errors (per pkg/errors retryability) are retried; permanent
// errors abort immediately and are returned as-is.
func Do(ctx context.Context, policy Policy, fn func(ctx context.Context) error) error {
	p := policy.normalized()

	backoff := retrylib.NewExponential(p.BackoffBase)
	backoff = retrylib.WithJitterPercent(jitterPercent, backoff)
	backoff = retrylib.WithCappedDuration(p.BackoffMax, backoff)
	backoff = retrylib.WithMaxRetries(uint64(p.MaxAttempts-1), backoff)

	return retrylib.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if pkgerrors.IsRetryable(err) {
			return retrylib.RetryableError(err)
		}
		return err
	})
}
