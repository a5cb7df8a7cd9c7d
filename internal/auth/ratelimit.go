package auth

import (
	"encoding/json"
	"math"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// Enabled reports whether the configuration limits anything.
func (c RateLimitConfig) Enabled() bool {
	return c.RequestsPerSecond > 0
}

// RateLimitConfigFromEnv reads upload rate limit config from the
// LISTINGMOCK_UPLOAD_RATE env var, falling back to cfg.
// Format: "rate:burst" (e.g., "2:5" means 2 uploads/s with a burst of 5).
func RateLimitConfigFromEnv(cfg RateLimitConfig) RateLimitConfig {
	val := os.Getenv("LISTINGMOCK_UPLOAD_RATE")
	if val == "" {
		return cfg
	}

	parts := strings.SplitN(val, ":", 2)
	if rate, err := strconv.ParseFloat(parts[0], 64); err == nil && rate >= 0 {
		cfg.RequestsPerSecond = rate
	}
	if len(parts) > 1 {
		if burst, err := strconv.Atoi(parts[1]); err == nil && burst > 0 {
			cfg.Burst = burst
		}
	}
	return cfg
}

// RateLimiter implements per-client token bucket rate limiting.
type RateLimiter struct {
	mu      sync.Mutex
	config  RateLimitConfig
	buckets map[string]*bucket
	now     func() time.Time
}

type bucket struct {
	tokens     float64
	lastRefill time.Time
}

const evictAfter = 10 * time.Minute

// NewRateLimiter creates a rate limiter with the given configuration.
// A burst below one is raised to one.
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	if config.Burst < 1 {
		config.Burst = 1
	}
	return &RateLimiter{
		config:  config,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Allow checks if a request from the given key is allowed.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{
			tokens:     float64(rl.config.Burst),
			lastRefill: now,
		}
		rl.buckets[key] = b
	}

	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens += elapsed * rl.config.RequestsPerSecond
	if b.tokens > float64(rl.config.Burst) {
		b.tokens = float64(rl.config.Burst)
	}
	b.lastRefill = now

	if len(rl.buckets) > 1000 {
		rl.evictIdle(now)
	}

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// RetryAfter returns the whole seconds a client should wait for one token.
func (rl *RateLimiter) RetryAfter() int {
	if rl.config.RequestsPerSecond <= 0 {
		return 1
	}
	return int(math.Ceil(1 / rl.config.RequestsPerSecond))
}

func (rl *RateLimiter) evictIdle(now time.Time) {
	for key, b := range rl.buckets {
		if now.Sub(b.lastRefill) > evictAfter {
			delete(rl.buckets, key)
		}
	}
}

// Middleware returns HTTP middleware that applies rate limiting.
// The key function extracts a rate limit key from the request (e.g., client IP).
func (rl *RateLimiter) Middleware(keyFunc func(r *http.Request) string, onReject func(r *http.Request)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFunc(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			if !rl.Allow(key) {
				if onReject != nil {
					onReject(r)
				}
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", strconv.Itoa(rl.RetryAfter()))
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]string{
					"error": "Too many uploads. Try again later.",
					"code":  "too_many_requests",
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ClientIPKeyFunc extracts the client IP from the request for rate limiting.
func ClientIPKeyFunc(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.SplitN(forwarded, ",", 2)
		return strings.TrimSpace(parts[0])
	}
	return r.RemoteAddr
}
