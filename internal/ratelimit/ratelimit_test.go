package ratelimit

import (
	"testing"
	"time"
)

func TestAllowWithinBurst(t *testing.T) {
	l := New(Config{RequestsPerMinute: 60, BurstSize: 5, CleanupInterval: time.Minute})
	defer l.Stop()

	for i := 0; i < 5; i++ {
		if !l.Allow("10.0.0.1") {
			t.Fatalf("request %d should be allowed within burst", i+1)
		}
	}
	if l.Allow("10.0.0.1") {
		t.Error("request beyond burst should be denied")
	}
}

func TestAllowRefills(t *testing.T) {
	l := New(Config{RequestsPerMinute: 6000, BurstSize: 1, CleanupInterval: time.Minute})
	defer l.Stop()

	if !l.Allow("10.0.0.2") {
		t.Fatal("first request should be allowed")
	}
	if l.Allow("10.0.0.2") {
		t.Fatal("second immediate request should be denied")
	}

	// 6000/min = 100 tokens/sec, so 50ms refills well over one token.
	time.Sleep(50 * time.Millisecond)
	if !l.Allow("10.0.0.2") {
		t.Error("request after refill should be allowed")
	}
}

func TestIndependentKeys(t *testing.T) {
	l := New(Config{RequestsPerMinute: 60, BurstSize: 1, CleanupInterval: time.Minute})
	defer l.Stop()

	if !l.Allow("a") || !l.Allow("b") {
		t.Error("different keys should have independent buckets")
	}
}
