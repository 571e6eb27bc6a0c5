package server

import (
	"sync"
	"time"
)

// tokenBucket throttles inbound frames on a single connection. Each frame
// costs one token; tokens refill continuously at burst/interval and the
// balance never exceeds the configured burst.
type tokenBucket struct {
	mu     sync.Mutex
	tokens float64
	burst  float64
	perSec float64
	last   time.Time
}

func newTokenBucket(burst int, interval time.Duration) *tokenBucket {
	if burst < 1 {
		burst = 1
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &tokenBucket{
		tokens: float64(burst),
		burst:  float64(burst),
		perSec: float64(burst) / interval.Seconds(),
		last:   time.Now(),
	}
}

// allow spends one token if the bucket holds any, crediting the refill earned
// since the last call first.
func (b *tokenBucket) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	if elapsed := now.Sub(b.last); elapsed > 0 {
		b.tokens = min(b.burst, b.tokens+elapsed.Seconds()*b.perSec)
	}
	b.last = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}
