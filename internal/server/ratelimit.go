package server

import (
	"sync"
	"time"
)

// RateLimiter admits one request per key every minInterval.
type RateLimiter struct {
	mu          sync.Mutex
	minInterval time.Duration
	lastSeen    map[string]time.Time
	now         func() time.Time
}

func NewRateLimiter(minInterval time.Duration) *RateLimiter {
	return &RateLimiter{
		minInterval: minInterval,
		lastSeen:    make(map[string]time.Time),
		now:         time.Now,
	}
}

// Allow reports whether key may proceed and, if not, how long to wait.
func (r *RateLimiter) Allow(key string) (bool, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if last, ok := r.lastSeen[key]; ok {
		if elapsed := now.Sub(last); elapsed < r.minInterval {
			return false, r.minInterval - elapsed
		}
	}
	r.lastSeen[key] = now
	if len(r.lastSeen) > 4096 {
		r.pruneLocked(now)
	}
	return true, 0
}

func (r *RateLimiter) pruneLocked(now time.Time) {
	for key, last := range r.lastSeen {
		if now.Sub(last) >= r.minInterval {
			delete(r.lastSeen, key)
		}
	}
}
