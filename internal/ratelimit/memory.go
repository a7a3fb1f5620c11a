package ratelimit

import (
	"context"
	"sync"
	"time"
)

// bucket tracks the token balance for one rate-limit key.
type bucket struct {
	tokens     float64
	lastAccess time.Time
}

// defaultStaleAfter is how long an idle key's bucket is kept before the
// sweeper reclaims it. Idle buckets are full anyway, so evicting one
// changes nothing for the client it belonged to.
const defaultStaleAfter = 10 * time.Minute

// MemoryLimiter implements Limiter with one in-memory token bucket per
// key. Buckets refill continuously at rate tokens per second up to
// burst; a background sweeper reclaims buckets idle longer than
// staleAfter so a churn of one-off clients cannot grow the map without
// bound.
type MemoryLimiter struct {
	rate       float64
	burst      float64
	staleAfter time.Duration

	mu      sync.Mutex
	buckets map[string]*bucket

	stopOnce sync.Once
	done     chan struct{}
}

// NewMemoryLimiter creates a token bucket limiter.
//   - rate: sustained requests per second per key
//   - burst: bucket capacity (maximum requests in an instant)
//   - staleAfter: idle time before a key's bucket is reclaimed;
//     zero or negative selects the default of ten minutes
//
// Call Close to stop the background sweeper.
func NewMemoryLimiter(rate float64, burst int, staleAfter time.Duration) *MemoryLimiter {
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}
	m := &MemoryLimiter{
		rate:       rate,
		burst:      float64(burst),
		staleAfter: staleAfter,
		buckets:    make(map[string]*bucket),
		done:       make(chan struct{}),
	}
	go m.sweep()
	return m
}

// Allow consumes one token from the bucket for key. Returns true if a
// token was available, false if the key is over its limit.
func (m *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	b, ok := m.buckets[key]
	if !ok {
		// A new key starts with a full bucket minus this request.
		m.buckets[key] = &bucket{tokens: m.burst - 1, lastAccess: now}
		return true, nil
	}

	b.tokens += now.Sub(b.lastAccess).Seconds() * m.rate
	if b.tokens > m.burst {
		b.tokens = m.burst
	}
	b.lastAccess = now

	if b.tokens < 1 {
		return false, nil
	}
	b.tokens--
	return true, nil
}

// Close stops the sweeper goroutine. Safe to call multiple times.
func (m *MemoryLimiter) Close() error {
	m.stopOnce.Do(func() { close(m.done) })
	return nil
}

// sweep periodically reclaims idle buckets. The interval tracks the
// stale window so short windows (tests, aggressive configs) are still
// swept promptly.
func (m *MemoryLimiter) sweep() {
	interval := time.Minute
	if m.staleAfter < interval {
		interval = m.staleAfter
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.evictStale()
		}
	}
}

func (m *MemoryLimiter) evictStale() {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-m.staleAfter)
	for key, b := range m.buckets {
		if b.lastAccess.Before(cutoff) {
			delete(m.buckets, key)
		}
	}
}
