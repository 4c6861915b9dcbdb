package plugin

import (
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter enforces per-plugin call and bandwidth limits with token
// buckets. Calls over the limit are rejected, never queued.
type RateLimiter struct {
	calls *rate.Limiter
	bytes *rate.Limiter
}

// NewRateLimiter creates a limiter allowing requestsPerMin calls and
// bandwidthBytesPerMin result bytes per minute, each with a burst of one
// minute's worth. Zero disables the corresponding limit.
func NewRateLimiter(requestsPerMin int, bandwidthBytesPerMin int64) *RateLimiter {
	rl := &RateLimiter{}
	if requestsPerMin > 0 {
		rl.calls = rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMin)), requestsPerMin)
	}
	if bandwidthBytesPerMin > 0 {
		rl.bytes = rate.NewLimiter(rate.Limit(float64(bandwidthBytesPerMin)/60.0), int(bandwidthBytesPerMin))
	}
	return rl
}

// AllowCall reports whether one more call may start now.
func (rl *RateLimiter) AllowCall() bool {
	if rl == nil || rl.calls == nil {
		return true
	}
	return rl.calls.Allow()
}

// AllowBytes reports whether a result of n bytes may be delivered now.
// A result larger than the whole burst is never allowed.
func (rl *RateLimiter) AllowBytes(n int64) bool {
	if rl == nil || rl.bytes == nil || n <= 0 {
		return true
	}
	return rl.bytes.AllowN(time.Now(), int(n))
}
