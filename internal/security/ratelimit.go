package security

import (
	"errors"
	"sync"
	"time"
)

// ErrRateLimited is returned when a request exceeds the rate limit.
var ErrRateLimited = errors.New("security: rate limit exceeded")

// RateLimitConfig holds configurable rate limits for the admin API.
type RateLimitConfig struct {
	// AuthPerMin caps authentication attempts per minute. Failed and
	// successful attempts count alike.
	AuthPerMin int `yaml:"auth_per_min"`

	// RequestsPerMin caps authenticated admin requests per minute.
	RequestsPerMin int `yaml:"requests_per_min"`
}

// RateLimiter implements sliding window rate limiting. Each bucket tracks
// timestamps of recent events within its window.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

type bucket struct {
	window time.Duration
	limit  int
	events []time.Time
}

// NewRateLimiter creates a rate limiter with the given config. Zero-value
// fields are replaced with defaults.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	if cfg.AuthPerMin <= 0 {
		cfg.AuthPerMin = 30
	}
	if cfg.RequestsPerMin <= 0 {
		cfg.RequestsPerMin = 300
	}
	return &RateLimiter{
		now: time.Now,
		buckets: map[string]*bucket{
			"auth": {
				window: time.Minute,
				limit:  cfg.AuthPerMin,
			},
			"request": {
				window: time.Minute,
				limit:  cfg.RequestsPerMin,
			},
		},
	}
}

// Allow checks whether an event of the given kind is allowed. Returns nil
// if allowed, ErrRateLimited if the limit is exceeded. kind must be one of
// "auth" or "request"; unknown kinds are unlimited.
func (rl *RateLimiter) Allow(kind string) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[kind]
	if !ok {
		return nil
	}

	now := rl.now()
	b.evict(now)

	if len(b.events) >= b.limit {
		return ErrRateLimited
	}

	b.events = append(b.events, now)
	return nil
}

// evict removes events outside the sliding window. Events are
// chronologically ordered.
func (b *bucket) evict(now time.Time) {
	cutoff := now.Add(-b.window)
	i := 0
	for i < len(b.events) && b.events[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		b.events = b.events[i:]
	}
}
