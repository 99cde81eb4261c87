package authcore

import (
	"context"
	"errors"
	"fmt"

	"github.com/educ8africa/authcore/credential"
	"github.com/educ8africa/authcore/internal/rate"
	"github.com/educ8africa/authcore/session"
	"github.com/sethvargo/go-retry"
)

func transient(err error) bool {
	return errors.Is(err, session.ErrStoreUnavailable) ||
		errors.Is(err, credential.ErrUnavailable) ||
		errors.Is(err, rate.ErrUnavailable)
}

func (e *Engine) backoff() retry.Backoff {
	rc := e.config.Retry
	b := retry.NewExponential(rc.BaseDelay)
	b = retry.WithJitterPercent(20, b)
	b = retry.WithCappedDuration(rc.MaxDelay, b)
	return retry.WithMaxRetries(uint64(rc.MaxRetries), b)
}

// withRetry runs fn, retrying transient store failures with capped
// exponential backoff. Only idempotent calls go through here; rotation is
// never retried because a lost reply would replay as reuse.
func (e *Engine) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	if e.config.Retry.MaxRetries == 0 {
		return fn(ctx)
	}
	attempt := 0
	return retry.Do(ctx, e.backoff(), func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		if err != nil && transient(err) {
			e.logger.DebugContext(ctx, "retrying transient failure", "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		return err
	})
}

// unavailable folds transient failures into ErrUnavailable and passes
// everything else through.
func unavailable(err error) error {
	if err == nil || errors.Is(err, ErrUnavailable) {
		return err
	}
	if transient(err) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}
