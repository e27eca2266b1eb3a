package ratelimit

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestAllowEnforcesLimitPerKey(t *testing.T) {
	r := miniredis.RunT(t)
	limiter, err := NewFixedWindowLimiter(r.Addr(), "", "test:ratelimit", 3, time.Minute)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	for i := 0; i < 3; i++ {
		if !limiter.Allow("1.2.3.4") {
			t.Fatalf("request %d within quota was denied", i+1)
		}
	}
	if limiter.Allow("1.2.3.4") {
		t.Fatal("request over quota was allowed")
	}
	// A different key has its own window.
	if !limiter.Allow("5.6.7.8") {
		t.Fatal("independent key should be allowed")
	}
}

func TestAllowFailsClosedWhenRedisDown(t *testing.T) {
	r := miniredis.RunT(t)
	limiter, err := NewFixedWindowLimiter(r.Addr(), "", "", 10, time.Minute)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	r.Close()
	if limiter.Allow("1.2.3.4") {
		t.Fatal("limiter must fail closed when redis is unreachable")
	}
}

func TestNewFixedWindowLimiterValidatesInput(t *testing.T) {
	if _, err := NewFixedWindowLimiter("", "", "", 10, time.Minute); err == nil {
		t.Fatal("expected error for missing addr")
	}
	if _, err := NewFixedWindowLimiter("127.0.0.1:6379", "", "", 0, time.Minute); err == nil {
		t.Fatal("expected error for zero limit")
	}
}
