package climate

import (
	"context"
	"time"
)

// Sleeper suspends the caller for d or until ctx is done. Every suspension in
// the pipeline (poll interval, backoff, reconciler recheck) goes through one.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the production Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
