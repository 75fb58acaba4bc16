package security

import (
	"errors"
	"testing"
	"time"
)

func TestRateLimiterAllowsUnderLimit(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(RateLimitConfig{AuthPerMin: 3})
	for i := range 3 {
		if err := rl.Allow("auth"); err != nil {
			t.Fatalf("Allow() #%d error: %v", i+1, err)
		}
	}
	if err := rl.Allow("auth"); !errors.Is(err, ErrRateLimited) {
		t.Errorf("Allow() #4 = %v, want ErrRateLimited", err)
	}
}

func TestRateLimiterSlidingWindow(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(RateLimitConfig{AuthPerMin: 2})
	rl.now = func() time.Time { return now }

	if err := rl.Allow("auth"); err != nil {
		t.Fatalf("Allow() error: %v", err)
	}
	if err := rl.Allow("auth"); err != nil {
		t.Fatalf("Allow() error: %v", err)
	}
	if err := rl.Allow("auth"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("Allow() = %v, want ErrRateLimited", err)
	}

	// Old events fall out of the window.
	now = now.Add(61 * time.Second)
	if err := rl.Allow("auth"); err != nil {
		t.Errorf("Allow() after window = %v, want nil", err)
	}
}

func TestRateLimiterIndependentBuckets(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(RateLimitConfig{AuthPerMin: 1, RequestsPerMin: 1})
	if err := rl.Allow("auth"); err != nil {
		t.Fatalf("Allow(auth) error: %v", err)
	}
	if err := rl.Allow("request"); err != nil {
		t.Errorf("Allow(request) = %v, want independent bucket", err)
	}
}

func TestRateLimiterUnknownKindUnlimited(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(RateLimitConfig{AuthPerMin: 1})
	for range 10 {
		if err := rl.Allow("other"); err != nil {
			t.Fatalf("Allow(other) error: %v", err)
		}
	}
}
