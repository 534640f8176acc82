package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterBurstAndRefill(t *testing.T) {
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	rl := newRateLimiter(2, 100*time.Millisecond, start)

	assert.True(t, rl.allow(start))
	assert.True(t, rl.allow(start))
	assert.False(t, rl.allow(start))

	// Half the interval refills half the burst.
	assert.True(t, rl.allow(start.Add(50*time.Millisecond)))
	assert.False(t, rl.allow(start.Add(50*time.Millisecond)))

	// Idle time never fills past the burst.
	later := start.Add(time.Hour)
	assert.True(t, rl.allow(later))
	assert.True(t, rl.allow(later))
	assert.False(t, rl.allow(later))
}

func TestRateLimiterIgnoresClockGoingBack(t *testing.T) {
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	rl := newRateLimiter(1, time.Second, start)

	assert.True(t, rl.allow(start))
	assert.False(t, rl.allow(start.Add(-time.Minute)))
	assert.True(t, rl.allow(start.Add(time.Second)))
}

func TestRateLimiterDefaults(t *testing.T) {
	now := time.Now()
	rl := newRateLimiter(0, 0, now)
	assert.Equal(t, float64(1), rl.capacity)
	assert.Equal(t, float64(1), rl.perSec)
	assert.True(t, rl.allow(now))
	assert.False(t, rl.allow(now))
}
