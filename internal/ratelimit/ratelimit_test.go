package ratelimit

import (
	"errors"
	"testing"
)

func TestAllow_Unlimited(t *testing.T) {
	l := NewLimiter(Config{})
	for i := 0; i < 100; i++ {
		if err := l.Allow("u1"); err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}
}

func TestAllow_BurstExhaustion(t *testing.T) {
	l := NewLimiter(Config{RequestsPerMinute: 60, BurstSize: 2})

	if err := l.Allow("u1"); err != nil {
		t.Fatalf("first request: %v", err)
	}
	if err := l.Allow("u1"); err != nil {
		t.Fatalf("second request: %v", err)
	}
	if err := l.Allow("u1"); !errors.Is(err, ErrRateLimited) {
		t.Errorf("third request = %v, want ErrRateLimited", err)
	}
}

func TestAllow_PerUserBuckets(t *testing.T) {
	l := NewLimiter(Config{RequestsPerMinute: 60, BurstSize: 1})

	if err := l.Allow("u1"); err != nil {
		t.Fatalf("u1 first request: %v", err)
	}
	if err := l.Allow("u1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("u1 second request = %v, want ErrRateLimited", err)
	}
	// Another user's bucket is untouched.
	if err := l.Allow("u2"); err != nil {
		t.Errorf("u2 first request: %v", err)
	}
}

func TestNewLimiter_BurstDefaultsToRate(t *testing.T) {
	l := NewLimiter(Config{RequestsPerMinute: 3})
	for i := 0; i < 3; i++ {
		if err := l.Allow("u1"); err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}
	if err := l.Allow("u1"); !errors.Is(err, ErrRateLimited) {
		t.Errorf("fourth request = %v, want ErrRateLimited", err)
	}
}
