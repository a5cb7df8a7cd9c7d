package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimiterAllow(t *testing.T) {
	t.Run("first N requests within burst are allowed", func(t *testing.T) {
		rl := NewRateLimiter(RateLimitConfig{RequestsPerSecond: 10, Burst: 5})

		for i := 0; i < 5; i++ {
			if !rl.Allow("client1") {
				t.Errorf("Allow() = false for request %d, want true (within burst)", i+1)
			}
		}
	})

	t.Run("returns false after burst is exhausted", func(t *testing.T) {
		rl := NewRateLimiter(RateLimitConfig{RequestsPerSecond: 10, Burst: 3})
		frozen := time.Now()
		rl.now = func() time.Time { return frozen }

		for i := 0; i < 3; i++ {
			rl.Allow("client1")
		}

		if rl.Allow("client1") {
			t.Error("Allow() = true after burst exhausted, want false")
		}
		if !rl.Allow("client2") {
			t.Error("Allow() = false for a different client, want true")
		}
	})

	t.Run("tokens refill over time", func(t *testing.T) {
		rl := NewRateLimiter(RateLimitConfig{RequestsPerSecond: 1, Burst: 1})
		now := time.Now()
		rl.now = func() time.Time { return now }

		if !rl.Allow("c") {
			t.Fatal("first request denied")
		}
		if rl.Allow("c") {
			t.Fatal("second request allowed before refill")
		}
		now = now.Add(1100 * time.Millisecond)
		if !rl.Allow("c") {
			t.Error("request denied after refill")
		}
	})
}

func TestRetryAfter(t *testing.T) {
	if got := NewRateLimiter(RateLimitConfig{RequestsPerSecond: 0.25, Burst: 1}).RetryAfter(); got != 4 {
		t.Errorf("RetryAfter() = %d, want 4", got)
	}
	if got := NewRateLimiter(RateLimitConfig{RequestsPerSecond: 10, Burst: 1}).RetryAfter(); got != 1 {
		t.Errorf("RetryAfter() = %d, want 1", got)
	}
}

func TestRateLimitConfigFromEnv(t *testing.T) {
	t.Run("parses valid env var", func(t *testing.T) {
		t.Setenv("LISTINGMOCK_UPLOAD_RATE", "2:5")

		cfg := RateLimitConfigFromEnv(RateLimitConfig{})

		if cfg.RequestsPerSecond != 2 {
			t.Errorf("RequestsPerSecond = %v, want 2", cfg.RequestsPerSecond)
		}
		if cfg.Burst != 5 {
			t.Errorf("Burst = %d, want 5", cfg.Burst)
		}
	})

	t.Run("unset keeps fallback", func(t *testing.T) {
		t.Setenv("LISTINGMOCK_UPLOAD_RATE", "")

		cfg := RateLimitConfigFromEnv(RateLimitConfig{RequestsPerSecond: 3, Burst: 4})

		if cfg.RequestsPerSecond != 3 || cfg.Burst != 4 {
			t.Errorf("cfg = %+v, want fallback", cfg)
		}
		if !cfg.Enabled() {
			t.Error("Enabled() = false, want true")
		}
	})

	t.Run("invalid values are ignored", func(t *testing.T) {
		t.Setenv("LISTINGMOCK_UPLOAD_RATE", "abc:xyz")

		cfg := RateLimitConfigFromEnv(RateLimitConfig{})

		if cfg.Enabled() {
			t.Errorf("cfg = %+v, want disabled", cfg)
		}
	})
}

func TestRateLimiterMiddleware(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{RequestsPerSecond: 1, Burst: 1})
	frozen := time.Now()
	rl.now = func() time.Time { return frozen }
	handler := rl.Middleware(ClientIPKeyFunc, nil)(okHandler())

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/product/ebay/recognize", nil)
		req.RemoteAddr = "10.0.0.1:5000"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	if rec := send(); rec.Code != http.StatusOK {
		t.Fatalf("first status = %d, want 200", rec.Code)
	}
	rec := send()
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "1" {
		t.Errorf("Retry-After = %q, want 1", rec.Header().Get("Retry-After"))
	}
}
