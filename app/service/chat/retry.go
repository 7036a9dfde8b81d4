package chat

import (
	"context"
	"critiquebar/app/config"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// maxBackoff caps a single wait however many attempts are configured.
const maxBackoff = time.Minute

// Sleeper waits for d or until ctx is done. Backoff and synthetic streaming
// delays go through it, so they never block a caller past cancellation.
type Sleeper func(ctx context.Context, d time.Duration) error

func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type RetryPolicy struct {
	// MaxAttempts counts the first attempt too
	MaxAttempts    int
	InitialBackoff time.Duration
	Multiplier     float64
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		Multiplier:     2,
	}
}

func NewRetryPolicy(cfg config.Retry) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    cfg.MaxAttempts,
		InitialBackoff: cfg.InitialBackoff,
		Multiplier:     cfg.Multiplier,
	}
}

// schedule returns a fresh, jitter-free backoff sequence for one retry loop.
func (p RetryPolicy) schedule() *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.InitialBackoff,
		RandomizationFactor: 0,
		Multiplier:          p.Multiplier,
		MaxInterval:         maxBackoff,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()

	return b
}

// Backoff returns the wait before retry number n, starting at 1.
func (p RetryPolicy) Backoff(n int) time.Duration {
	b := p.schedule()

	wait := b.NextBackOff()
	for i := 1; i < n; i++ {
		wait = b.NextBackOff()
	}

	return wait
}

// Do runs fn until it succeeds, fails with a non-transient error, or runs
// out of attempts. The last error is returned unchanged.
func (p RetryPolicy) Do(ctx context.Context, sleep Sleeper, fn func(ctx context.Context) error) error {
	attempts := max(p.MaxAttempts, 1)
	schedule := p.schedule()

	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				slog.Debug("Retry succeeded", "attempt", attempt)
			}
			return nil
		}

		if !IsTransient(err) || attempt >= attempts {
			return err
		}

		wait := schedule.NextBackOff()
		slog.Warn("Transient proxy failure, retrying",
			"attempt", attempt,
			"max_attempts", attempts,
			"backoff", wait,
			"error", err,
		)

		if sleepErr := sleep(ctx, wait); sleepErr != nil {
			return WrapError(ErrCancelled, sleepErr)
		}
	}
}
