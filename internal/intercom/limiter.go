package intercom

import (
	"context"
	"sync"
	"time"
)

// windowLimiter throttles requests to a budget per rolling 60-second
// window. When the budget is spent it sleeps out the remainder of the
// window. Local to one client instance; it reduces 429s but cannot
// eliminate them.
type windowLimiter struct {
	mu          sync.Mutex
	limit       int
	count       int
	windowStart time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func newWindowLimiter(perMinute int) *windowLimiter {
	return &windowLimiter{
		limit: perMinute,
		now:   time.Now,
		sleep: sleepContext,
	}
}

// Wait blocks until a request slot is available or ctx is cancelled.
func (l *windowLimiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if l.windowStart.IsZero() || now.Sub(l.windowStart) >= time.Minute {
		l.windowStart = now
		l.count = 0
	}

	if l.count >= l.limit {
		remaining := time.Minute - now.Sub(l.windowStart)
		if remaining > 0 {
			if err := l.sleep(ctx, remaining); err != nil {
				return err
			}
		}
		l.windowStart = l.now()
		l.count = 0
	}

	l.count++
	return nil
}
