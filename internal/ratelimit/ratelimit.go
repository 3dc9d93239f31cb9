// Package ratelimit provides a per-owner token bucket limiter for expensive endpoints.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const defaultIdleTTL = 30 * time.Minute

// Config describes a keyed limiter. PerMinute is the sustained rate per key.
type Config struct {
	PerMinute float64
	Burst     int
	IdleTTL   time.Duration
	Clock     func() time.Time
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// KeyedRateLimiter gives each key its own token bucket. Buckets unused for IdleTTL are
// dropped on a later call so the map stays bounded by active owners.
type KeyedRateLimiter struct {
	mu        sync.Mutex
	entries   map[string]*entry
	limit     rate.Limit
	burst     int
	idleTTL   time.Duration
	clock     func() time.Time
	lastSweep time.Time
}

// New creates a keyed limiter.
func New(cfg Config) *KeyedRateLimiter {
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	idleTTL := cfg.IdleTTL
	if idleTTL <= 0 {
		idleTTL = defaultIdleTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &KeyedRateLimiter{
		entries: make(map[string]*entry),
		limit:   rate.Limit(cfg.PerMinute / 60),
		burst:   burst,
		idleTTL: idleTTL,
		clock:   clock,
	}
}

// Allow reports whether a request for key may proceed now. It never blocks.
func (krl *KeyedRateLimiter) Allow(key string) bool {
	now := krl.clock()

	krl.mu.Lock()
	defer krl.mu.Unlock()

	krl.sweep(now)
	current, ok := krl.entries[key]
	if !ok {
		current = &entry{limiter: rate.NewLimiter(krl.limit, krl.burst)}
		krl.entries[key] = current
	}
	current.lastSeen = now
	return current.limiter.AllowN(now, 1)
}

func (krl *KeyedRateLimiter) sweep(now time.Time) {
	if now.Sub(krl.lastSweep) < krl.idleTTL {
		return
	}
	krl.lastSweep = now
	for key, candidate := range krl.entries {
		if now.Sub(candidate.lastSeen) >= krl.idleTTL {
			delete(krl.entries, key)
		}
	}
}

func (krl *KeyedRateLimiter) size() int {
	krl.mu.Lock()
	defer krl.mu.Unlock()
	return len(krl.entries)
}
