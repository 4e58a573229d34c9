package websocket

import "time"

// bucket is a token bucket owned by one read pump, so it needs no locking.
// Tokens are added in whole intervals; a partial interval adds nothing.
type bucket struct {
	capacity   int
	rate       int
	interval   time.Duration
	tokens     int
	lastRefill time.Time
}

// newBucket returns nil when limiting is disabled.
func newBucket(capacity, rate int, interval time.Duration) *bucket {
	if capacity <= 0 || rate <= 0 || interval <= 0 {
		return nil
	}
	return &bucket{
		capacity:   capacity,
		rate:       rate,
		interval:   interval,
		tokens:     capacity,
		lastRefill: time.Now(),
	}
}

// allow consumes one token at now and reports whether one was available.
func (b *bucket) allow(now time.Time) bool {
	if b == nil {
		return true
	}

	// Capped so a long idle period cannot overflow.
	maxIntervals := int64(b.capacity/b.rate + 1)
	intervals := int(min(int64(now.Sub(b.lastRefill)/b.interval), maxIntervals))
	if intervals > 0 {
		b.tokens = min(b.tokens+intervals*b.rate, b.capacity)
		b.lastRefill = now
	}

	if b.tokens <= 0 {
		return false
	}
	b.tokens--
	return true
}
