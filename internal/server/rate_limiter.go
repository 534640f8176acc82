package server

import "time"

// rateLimiter is a token bucket for the chat events of one session. It is
// owned by the session's read loop and is not safe for concurrent use.
type rateLimiter struct {
	tokens   float64
	capacity float64
	perSec   float64
	last     time.Time
}

// newRateLimiter allows bursts of up to burst events and refills the whole
// bucket every refill interval. Non-positive values fall back to one event
// per second.
func newRateLimiter(burst int, refill time.Duration, now time.Time) *rateLimiter {
	if burst <= 0 {
		burst = 1
	}
	if refill <= 0 {
		refill = time.Second
	}
	return &rateLimiter{
		tokens:   float64(burst),
		capacity: float64(burst),
		perSec:   float64(burst) / refill.Seconds(),
		last:     now,
	}
}

// allow takes one token at now, reporting false when the bucket is empty.
// A clock that goes backwards adds nothing.
func (rl *rateLimiter) allow(now time.Time) bool {
	if elapsed := now.Sub(rl.last).Seconds(); elapsed > 0 {
		rl.tokens = min(rl.capacity, rl.tokens+elapsed*rl.perSec)
		rl.last = now
	}
	if rl.tokens < 1 {
		return false
	}
	rl.tokens--
	return true
}
