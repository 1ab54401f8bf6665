package shared

import (
	"context"
	"errors"
	"time"
)

// RetryOnRace re-runs fn while it fails with a Race error, up to attempts times.
// fn must be a complete unit of work; never call this from inside a transaction.
func RetryOnRace(ctx context.Context, attempts int, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		err = fn()
		if err == nil || !errors.Is(err, ErrRace) {
			return err
		}
		backoff := time.Duration(i+1) * 5 * time.Millisecond
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return ErrRace.WithMessage("retries exhausted after %d attempts", attempts).Wrap(err)
}
