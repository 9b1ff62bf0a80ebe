package internal

import (
	"net/http"
	"strings"
	"sync"
	"time"
)

// RateLimiter provides simple in-memory per-IP rate limiting for the webhook
// endpoint. It protects the store from floods of forged deliveries; genuine
// provider retries stay far below any sane limit.
type RateLimiter struct {
	mu           sync.Mutex
	buckets      map[string]*bucket
	limit        int           // max requests per window
	window       time.Duration // time window
	requestCount int           // counter for deterministic cleanup
}

type bucket struct {
	count   int
	resetAt time.Time
}

const (
	cleanupEvery  = 100 // sweep expired buckets every N requests
	cleanupAtSize = 200 // or whenever the map grows past this
)

// NewRateLimiter creates a new rate limiter with the specified limit and window
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		buckets: make(map[string]*bucket),
		limit:   limit,
		window:  window,
	}
}

func (rl *RateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()

	// Cleanup is lazy and deterministic so no background goroutine is needed.
	rl.requestCount++
	if rl.requestCount%cleanupEvery == 0 || len(rl.buckets) > cleanupAtSize {
		rl.sweep(now)
		if rl.requestCount >= cleanupEvery*10 {
			rl.requestCount = 0
		}
	}

	b, exists := rl.buckets[ip]
	if !exists || now.After(b.resetAt) {
		rl.buckets[ip] = &bucket{
			count:   1,
			resetAt: now.Add(rl.window),
		}
		return true
	}

	if b.count >= rl.limit {
		return false
	}

	b.count++
	return true
}

func (rl *RateLimiter) sweep(now time.Time) {
	for ip, b := range rl.buckets {
		if now.After(b.resetAt) {
			delete(rl.buckets, ip)
		}
	}
}

// Middleware wraps an HTTP handler with rate limiting
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.allow(clientIP(r)) {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP extracts the client IP, preferring the first X-Forwarded-For hop.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ip := strings.Split(xff, ",")[0]; ip != "" {
			return strings.TrimSpace(ip)
		}
	}
	return r.RemoteAddr
}
