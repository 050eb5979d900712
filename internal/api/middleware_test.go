package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestLimiterTTL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		perSecond float64
		burst     int
		want      time.Duration
	}{
		{"fast_refill_floors", 10, 20, minLimiterTTL},
		{"slow_refill", 0.001, 1, 1000 * time.Second},
		{"disabled", 0, 5, minLimiterTTL},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := limiterTTL(tc.perSecond, tc.burst); got != tc.want {
				t.Fatalf("limiterTTL(%v, %d)=%s want %s", tc.perSecond, tc.burst, got, tc.want)
			}
		})
	}
}

func TestIPLimiter_EvictsIdleBuckets(t *testing.T) {
	t.Parallel()

	l := newIPLimiterTTL(0.001, 1, 50*time.Millisecond)
	for _, ip := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"} {
		l.get(ip)
	}
	if n := l.buckets.ItemCount(); n != 3 {
		t.Fatalf("buckets=%d want 3", n)
	}

	deadline := time.Now().Add(5 * time.Second)
	for l.buckets.ItemCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("idle buckets not evicted: %d left", l.buckets.ItemCount())
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestIPLimiter_KeepsActiveBucket(t *testing.T) {
	t.Parallel()

	l := newIPLimiterTTL(0.001, 1, time.Hour)
	h := l.middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	call := func() int {
		req := httptest.NewRequest(http.MethodGet, "/api/schedule", nil)
		req.RemoteAddr = "10.0.0.9:5555"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}
	if code := call(); code != http.StatusNoContent {
		t.Fatalf("first call=%d", code)
	}
	if code := call(); code != http.StatusTooManyRequests {
		t.Fatalf("second call=%d want 429", code)
	}
	if n := l.buckets.ItemCount(); n != 1 {
		t.Fatalf("buckets=%d want 1", n)
	}
}
