package automerge

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff"
	"go.uber.org/zap"

	"github.com/simplesurance/justmerge/internal/goorderr"
	"github.com/simplesurance/justmerge/internal/logfields"
)

const (
	DefMaxAttempts            = 3
	defBackoffInitialInterval = 2 * time.Second
	defMaxRetryWait           = time.Minute
)

// retryer executes a function until it succeeded, returned an error that
// does not wrap goorderr.RetryableError or maxAttempts executions failed.
type retryer struct {
	logger                 *zap.Logger
	maxAttempts            int
	backoffInitialInterval time.Duration
	// maxRetryWait is the longest time that is waited for the next
	// attempt. Retryable errors that must not be retried before a later
	// point in time are returned.
	maxRetryWait time.Duration
}

func newRetryer(logger *zap.Logger) *retryer {
	return &retryer{
		logger:                 logger,
		maxAttempts:            DefMaxAttempts,
		backoffInitialInterval: defBackoffInitialInterval,
		maxRetryWait:           defMaxRetryWait,
	}
}

// Run executes fn. It returns the number of executions and the error of the
// last one.
// Waiting between attempts is aborted when ctx is cancelled.
func (r *retryer) Run(ctx context.Context, fn func(context.Context) error, logF []zap.Field) (int, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.backoffInitialInterval
	bo.MaxElapsedTime = 0
	bo.Reset()

	logger := r.logger.With(logF...)

	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return attempt, nil
		}

		var retryErr *goorderr.RetryableError
		if !errors.As(err, &retryErr) {
			return attempt, err
		}

		if attempt >= r.maxAttempts {
			logger.Warn(
				"operation failed, giving up, max attempts reached",
				logfields.Event("operation_retries_exhausted"),
				zap.Int("attempts", attempt),
				zap.Error(err),
			)

			return attempt, err
		}

		retryIn := bo.NextBackOff()
		if until := time.Until(retryErr.After); until > retryIn {
			retryIn = until
		}

		if retryIn > r.maxRetryWait {
			logger.Warn(
				"operation failed, next possible retry time is too far in the future",
				logfields.Event("operation_retry_too_late"),
				zap.Time("earliest_allowed_retry", retryErr.After),
				zap.Error(err),
			)

			return attempt, err
		}

		logger.Info(
			"operation failed, retry scheduled",
			logfields.Event("operation_retry_scheduled"),
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", retryIn),
			zap.Error(err),
		)

		if retryIn > 0 {
			timer := time.NewTimer(retryIn)
			select {
			case <-ctx.Done():
				timer.Stop()
				return attempt, err
			case <-timer.C:
			}
		}
	}
}
