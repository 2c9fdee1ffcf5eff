package task

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nci/nightlights/store"
	"go.uber.org/zap"
)

// RetryPolicy bounds the retries of remote operations. Every attempt runs
// under its own Timeout; only transient store failures and attempt
// timeouts are retried.
type RetryPolicy struct {
	MaxRetries      int
	Timeout         time.Duration
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:      3,
		Timeout:         10 * time.Minute,
		InitialInterval: time.Second,
		MaxInterval:     30 * time.Second,
	}
}

func retryable(err error) bool {
	return errors.Is(err, store.ErrTransient) || errors.Is(err, context.DeadlineExceeded)
}

// do runs op until it succeeds, fails permanently or the retries are
// exhausted. It returns the number of attempts made.
func (p RetryPolicy) do(ctx context.Context, logger *zap.Logger, name string, op func(ctx context.Context) error) (int, error) {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	b.MaxElapsedTime = 0

	attempts := 0
	err := backoff.RetryNotify(func() error {
		attempts++
		attemptCtx := ctx
		if p.Timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, p.Timeout)
			defer cancel()
		}
		err := op(attemptCtx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.MaxRetries)), ctx), func(err error, wait time.Duration) {
		logger.Warn("retrying operation",
			zap.String("operation", name),
			zap.Int("attempt", attempts),
			zap.Duration("wait", wait),
			zap.Error(err))
	})
	return attempts, err
}
