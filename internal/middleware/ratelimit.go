package middleware

import (
	"context"
	"fmt"
	"math"
	"net"
	"net/http"
	"sync"
	"time"
)

// RateLimiter applies a per-source token bucket to the ingress endpoints.
// The BSP retries webhook deliveries aggressively, so the limiter has to
// throttle a single misbehaving source without touching the others.
type RateLimiter struct {
	mu      sync.Mutex
	sources map[string]*tokenBucket
	rate    float64
	burst   int
	exempt  map[string]struct{}

	// Hard cap on tracked sources so a spoofed-address flood cannot
	// grow the map without bound.
	maxSources int
}

type tokenBucket struct {
	tokens  float64
	touched time.Time
}

// NewRateLimiter returns a limiter allowing rate requests per second
// sustained, with bursts up to burst.
func NewRateLimiter(rate float64, burst int) *RateLimiter {
	return &RateLimiter{
		sources:    make(map[string]*tokenBucket),
		rate:       rate,
		burst:      burst,
		exempt:     make(map[string]struct{}),
		maxSources: 100000,
	}
}

// Exempt excludes the given URL paths from rate limiting. Used for the
// probe endpoints, which dashboards and orchestrators poll on their own
// schedule.
func (rl *RateLimiter) Exempt(paths ...string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for _, p := range paths {
		rl.exempt[p] = struct{}{}
	}
}

// Handler enforces the limit per source address. Rejected requests get a
// 429 with Retry-After.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl.isExempt(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		remaining, retryAfter, allowed := rl.take(sourceAddr(r))

		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
		w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", time.Now().Add(time.Second).Unix()))

		if !allowed {
			w.Header().Set("Retry-After", fmt.Sprintf("%.0f", math.Ceil(retryAfter)))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}`))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) isExempt(path string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	_, ok := rl.exempt[path]
	return ok
}

// take consumes one token for the source, refilling by elapsed time first.
// Returns the remaining whole tokens, the seconds until the next token when
// rejected, and whether the request may proceed.
func (rl *RateLimiter) take(src string) (remaining int, retryAfter float64, allowed bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	b, ok := rl.sources[src]
	if !ok {
		if len(rl.sources) >= rl.maxSources {
			return 0, 1.0 / rl.rate, false
		}
		b = &tokenBucket{tokens: float64(rl.burst) - 1, touched: now}
		rl.sources[src] = b
		return int(b.tokens), 0, true
	}

	b.tokens += now.Sub(b.touched).Seconds() * rl.rate
	if b.tokens > float64(rl.burst) {
		b.tokens = float64(rl.burst)
	}
	b.touched = now

	if b.tokens < 1 {
		return 0, (1 - b.tokens) / rl.rate, false
	}

	b.tokens--
	return int(b.tokens), 0, true
}

// StartCleanup evicts buckets idle longer than maxIdle, checking every
// interval. The returned func stops the sweep goroutine.
func (rl *RateLimiter) StartCleanup(interval, maxIdle time.Duration) func() {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rl.sweep(maxIdle)
			}
		}
	}()
	return cancel
}

func (rl *RateLimiter) sweep(maxIdle time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := time.Now().Add(-maxIdle)
	for src, b := range rl.sources {
		if b.touched.Before(cutoff) {
			delete(rl.sources, src)
		}
	}
}

// Len returns the number of tracked sources.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.sources)
}

// sourceAddr keys buckets by the peer address from RemoteAddr. Forwarding
// headers are deliberately ignored: anything the client can set is not a
// rate-limit key.
func sourceAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
