package consumer

import (
	"context"
	"errors"
	"runtime/debug"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// retryExecutor runs a handler invocation with bounded retries and
// exponential backoff. A panic inside the handler is a bug, not a
// transient condition, so it is converted into a permanent failure.
type retryExecutor struct {
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	log            *zap.Logger
}

func newRetryExecutor(maxAttempts int, initialBackoff, maxBackoff time.Duration, log *zap.Logger) *retryExecutor {
	return &retryExecutor{
		maxAttempts:    maxAttempts,
		initialBackoff: initialBackoff,
		maxBackoff:     maxBackoff,
		log:            log,
	}
}

// Execute invokes fn up to maxAttempts times. It returns nil on the
// first success, the permanent error as soon as one surfaces, and the
// last transient error once the attempts are spent.
func (r *retryExecutor) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.initialBackoff
	policy.MaxInterval = r.maxBackoff
	// Attempts bound the retries, not elapsed time.
	policy.MaxElapsedTime = 0

	attempt := 0
	operation := func() error {
		attempt++
		err := r.runProtected(ctx, fn)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrPermanent) {
			return backoff.Permanent(err)
		}
		r.log.Error("failed to process event",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", r.maxAttempts),
			zap.Error(err))
		return err
	}

	return backoff.Retry(operation, backoff.WithContext(
		backoff.WithMaxRetries(policy, uint64(r.maxAttempts-1)), ctx))
}

func (r *retryExecutor) runProtected(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = Permanent(&PanicError{Panic: rec, Stack: debug.Stack()})
		}
	}()
	return fn(ctx)
}
