package ratelimit

import (
	"testing"
	"time"
)

func newFrozen(t *testing.T, requests, burst int) (*Limiter, *time.Time) {
	t.Helper()
	l := NewLimiter(requests, time.Minute, burst)
	t.Cleanup(l.Close)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	return l, &now
}

func TestLimiter(t *testing.T) {
	t.Run("burst then reject", func(t *testing.T) {
		l, _ := newFrozen(t, 5, 5)
		for i := range 5 {
			r := l.Allow("k")
			if !r.Allowed {
				t.Fatalf("request %d rejected", i+1)
			}
			if r.Limit != 5 || r.Remaining != 4-i || r.RetryAfter != 0 {
				t.Errorf("request %d: %+v", i+1, r)
			}
		}
		r := l.Allow("k")
		if r.Allowed || r.Remaining != 0 {
			t.Errorf("6th request: %+v", r)
		}
		if r.RetryAfter < 12*time.Second-time.Millisecond {
			t.Errorf("RetryAfter = %v, want about one token (12s)", r.RetryAfter)
		}
	})

	t.Run("keys are independent", func(t *testing.T) {
		l, _ := newFrozen(t, 1, 1)
		l.Allow("a")
		if l.Allow("a").Allowed {
			t.Error("a must be limited")
		}
		if !l.Allow("b").Allowed {
			t.Error("b must not be limited")
		}
	})

	t.Run("refill", func(t *testing.T) {
		l, now := newFrozen(t, 60, 1)
		l.Allow("k")
		if l.Allow("k").Allowed {
			t.Fatal("second request within a second must be limited")
		}
		*now = now.Add(time.Second)
		if !l.Allow("k").Allowed {
			t.Error("token must refill after a second")
		}
	})

	t.Run("cleanup", func(t *testing.T) {
		l, now := newFrozen(t, 60, 1)
		l.Allow("idle")
		*now = now.Add(staleAfter + time.Second)
		l.Allow("busy")
		l.cleanup()
		l.mu.Lock()
		_, idle := l.buckets["idle"]
		_, busy := l.buckets["busy"]
		l.mu.Unlock()
		if idle || !busy {
			t.Errorf("idle kept = %v, busy kept = %v", idle, busy)
		}
	})

	t.Run("close twice", func(t *testing.T) {
		l := NewLimiter(1, time.Minute, 1)
		l.Close()
		l.Close()
	})
}
