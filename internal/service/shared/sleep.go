package shared

import (
	"context"
	"time"
)

// Pause blocks for d or until ctx is done, whichever comes first. A done ctx
// wins even when d is zero.
func Pause(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PauseBeforeRetry waits the backoff that precedes retry n (1-based).
func PauseBeforeRetry(ctx context.Context, n int, base, max time.Duration) error {
	return Pause(ctx, Backoff(n-1, base, max))
}
