package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/imtaco/stream-liveness/internal/log"
)

type Retry interface {
	Do(ctx context.Context, operation func() error) error
}

// Config bounds a retry loop. Zero MaxAttempts means only MaxElapsedTime
// bounds it; both zero retries until ctx is done.
type Config struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
	MaxAttempts     uint64
}

func New(logger *log.Logger, cfg Config) Retry {
	return &retryImpl{
		logger: logger,
		cfg:    cfg,
	}
}

type retryImpl struct {
	logger *log.Logger
	cfg    Config
}

func (r *retryImpl) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.InitialInterval
	b.MaxInterval = r.cfg.MaxInterval
	b.MaxElapsedTime = r.cfg.MaxElapsedTime
	b.Reset()

	var bo backoff.BackOff = b
	if r.cfg.MaxAttempts > 0 {
		// WithMaxRetries counts retries, not attempts
		bo = backoff.WithMaxRetries(bo, r.cfg.MaxAttempts-1)
	}
	return backoff.WithContext(bo, ctx)
}

// Do runs operation until it succeeds, the policy gives up, or ctx is done.
// Errors wrapped with Permanent stop immediately.
func (r *retryImpl) Do(ctx context.Context, operation func() error) error {
	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := operation()
		if err != nil {
			r.logger.Warn("Retry attempt failed",
				log.Int("attempt", attempt),
				log.Error(err))
		}
		return err
	}, r.newBackOff(ctx))
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}
