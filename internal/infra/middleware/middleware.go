package middleware

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// SecurityHeaders adds standard hardening headers to all responses.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Content-Security-Policy", "default-src 'self'")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		if r.TLS != nil {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		next.ServeHTTP(w, r)
	})
}

// clientLimiter tracks a per-IP token bucket and its last use.
type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimit implements per-client-IP token bucket rate limiting.
// X-Forwarded-For is intentionally ignored; the direct connection IP is
// authoritative so clients cannot spoof their way past the limiter.
func RateLimit(ctx context.Context, requestsPerMin, burst int) func(http.Handler) http.Handler {
	if requestsPerMin <= 0 {
		requestsPerMin = 120
	}
	if burst <= 0 {
		burst = requestsPerMin / 4
		if burst == 0 {
			burst = 1
		}
	}
	perSecond := rate.Limit(float64(requestsPerMin) / 60.0)

	var mu sync.Mutex
	clients := make(map[string]*clientLimiter)

	// Reap idle client buckets so the map stays bounded.
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cutoff := time.Now().Add(-3 * time.Minute)
				mu.Lock()
				for ip, c := range clients {
					if c.lastSeen.Before(cutoff) {
						delete(clients, ip)
					}
				}
				mu.Unlock()
			}
		}
	}()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}

			mu.Lock()
			c, ok := clients[ip]
			if !ok {
				c = &clientLimiter{limiter: rate.NewLimiter(perSecond, burst)}
				clients[ip] = c
			}
			c.lastSeen = time.Now()
			mu.Unlock()

			if !c.limiter.Allow() {
				w.Header().Set("Retry-After", "60")
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
