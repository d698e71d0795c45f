package retry

import (
	"context"
	"errors"
	"time"
)

// Permanent wraps an error so Do stops retrying immediately.
type Permanent struct {
	Err error
}

func (p *Permanent) Error() string { return p.Err.Error() }

func (p *Permanent) Unwrap() error { return p.Err }

// Stop marks err as permanent. Do returns the wrapped error without
// consuming the remaining attempts.
func Stop(err error) error {
	if err == nil {
		return nil
	}
	return &Permanent{Err: err}
}

// Policy bounds a retry loop: MaxAttempts total attempts with a fixed
// Delay between them.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
}

// Do runs fn up to p.MaxAttempts times, sleeping p.Delay between
// attempts. It returns nil on the first success and the last observed
// error once attempts are exhausted. Context cancellation aborts the
// wait and surfaces ctx.Err joined with the last attempt's error.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}

		var perm *Permanent
		if errors.As(err, &perm) {
			return perm.Err
		}
		lastErr = err

		if attempt == attempts {
			break
		}
		if p.Delay > 0 {
			timer := time.NewTimer(p.Delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return errors.Join(ctx.Err(), lastErr)
			case <-timer.C:
			}
		} else if ctx.Err() != nil {
			return errors.Join(ctx.Err(), lastErr)
		}
	}
	return lastErr
}
