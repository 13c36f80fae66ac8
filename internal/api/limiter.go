package api

import (
	"sync"

	"courtbook/internal/config"

	"golang.org/x/time/rate"
)

const defaultBurst = 5

// keyedLimiter keeps one token bucket per client key.
type keyedLimiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	limit   rate.Limit
	burst   int
}

func newKeyedLimiter(cfg config.APIRateLimitConfig) *keyedLimiter {
	burst := cfg.Burst
	if burst <= 0 {
		burst = defaultBurst
	}
	return &keyedLimiter{
		buckets: make(map[string]*rate.Limiter),
		limit:   rate.Limit(cfg.RPS),
		burst:   burst,
	}
}

// Allow reports whether the client may make a request now.
func (l *keyedLimiter) Allow(key string) bool {
	l.mu.Lock()
	lim, ok := l.buckets[key]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.buckets[key] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}
