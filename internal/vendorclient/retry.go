package vendorclient

import (
	"context"
	"time"
)

// RetryPolicy bounds how many times a single vendor call is re-attempted
// and how long to pause between attempts (spec §4.1 "retry on transport
// failure or a suspicious empty response").
type RetryPolicy struct {
	MaxAttempts int
	MinBackoff  time.Duration
	MaxBackoff  time.Duration
}

// DefaultRetryPolicy mirrors the reference client: three attempts total,
// backing off half a second to a second between them.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, MinBackoff: 500 * time.Millisecond, MaxBackoff: time.Second}
}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	if p.MaxBackoff <= p.MinBackoff {
		return p.MinBackoff
	}
	step := (p.MaxBackoff - p.MinBackoff) / time.Duration(max(p.MaxAttempts-1, 1))
	d := p.MinBackoff + step*time.Duration(attempt)
	if d > p.MaxBackoff {
		d = p.MaxBackoff
	}
	return d
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// sleep pauses for d or returns ctx.Err() if the context is canceled first.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
