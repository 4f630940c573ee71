package realtime

import (
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter is a per-connection token bucket: limit events per window, with the full
// window's budget available as burst.
type RateLimiter struct {
	lim *rate.Limiter
}

// NewRateLimiter constructs a RateLimiter with safe defaults when inputs are invalid.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = rateLimitEvents
	}
	if window <= 0 {
		window = rateLimitWindow
	}
	every := rate.Every(window / time.Duration(limit))
	return &RateLimiter{lim: rate.NewLimiter(every, limit)}
}

// Allow reports whether an event at time "now" should be permitted.
func (r *RateLimiter) Allow(now time.Time) bool {
	return r.lim.AllowN(now, 1)
}
