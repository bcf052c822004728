package vendorclient

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter is the single process-wide gate every outbound vendor call
// passes through (spec §4.1, §5: "the only place where the core must
// block"). It is a thin, concurrency-safe wrapper around a token bucket
// that holds at most N tokens and refills at N/60 tokens per second. It
// keeps no window of request timestamps, unlike the reference
// implementation's bounded deque (spec §9 "Global rate limiter"): the
// long-run admission rate is N requests per minute, but a single
// 60-second window is not capped at N — a window that starts with a full
// bucket admits the N-token burst plus up to N more as the bucket refills.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter builds a limiter refilling at requestsPerMinute/60
// tokens per second, with a burst equal to requestsPerMinute so a cold
// process can spend a whole minute's budget immediately. A non-positive
// requestsPerMinute falls back to 80.
func NewRateLimiter(requestsPerMinute int) *RateLimiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 80
	}
	every := rate.Limit(float64(requestsPerMinute) / 60.0)
	return &RateLimiter{limiter: rate.NewLimiter(every, requestsPerMinute)}
}

// Wait blocks the caller until the bucket has budget for one more request,
// or until ctx is canceled. This is the only suspension point a single
// partition's fetch is required to pass through (spec §5).
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}
