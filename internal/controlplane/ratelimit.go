package controlplane

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// RateLimitConfig limits requests per client IP. A zero RequestsPerSecond
// disables limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
	// IdleTimeout is how long an idle client keeps its limiter
	IdleTimeout time.Duration
}

func (c RateLimitConfig) enabled() bool {
	return c.RequestsPerSecond > 0
}

// IPRateLimiter hands out one token bucket per client IP
type IPRateLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*clientLimiter
	config    RateLimitConfig
	lastSweep time.Time
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewIPRateLimiter creates a limiter for config
func NewIPRateLimiter(config RateLimitConfig) *IPRateLimiter {
	if config.BurstSize <= 0 {
		config.BurstSize = 1
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = 5 * time.Minute
	}
	return &IPRateLimiter{
		limiters:  make(map[string]*clientLimiter),
		config:    config,
		lastSweep: time.Now(),
	}
}

// Allow reports whether ip may make another request now
func (rl *IPRateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if now.Sub(rl.lastSweep) > rl.config.IdleTimeout {
		rl.sweep(now)
	}

	cl, ok := rl.limiters[ip]
	if !ok {
		cl = &clientLimiter{
			limiter: rate.NewLimiter(rate.Limit(rl.config.RequestsPerSecond), rl.config.BurstSize),
		}
		rl.limiters[ip] = cl
	}
	cl.lastSeen = now

	return cl.limiter.AllowN(now, 1)
}

// sweep drops limiters of clients idle longer than IdleTimeout. mu is held.
func (rl *IPRateLimiter) sweep(now time.Time) {
	threshold := now.Add(-rl.config.IdleTimeout)
	for ip, cl := range rl.limiters {
		if cl.lastSeen.Before(threshold) {
			delete(rl.limiters, ip)
		}
	}
	rl.lastSweep = now
}

// Len returns the number of tracked clients
func (rl *IPRateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

// RateLimitMiddleware rejects requests over the per-IP limit with a 429
func RateLimitMiddleware(config RateLimitConfig) func(http.Handler) http.Handler {
	if !config.enabled() {
		return func(next http.Handler) http.Handler {
			return next
		}
	}

	limiter := NewIPRateLimiter(config)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)

			if !limiter.Allow(ip) {
				log.Warn().
					Str("ip", ip).
					Str("path", r.URL.Path).
					Msg("Rate limit exceeded")

				w.Header().Set("Retry-After", "1")
				RespondWithError(w, http.StatusTooManyRequests, "Too many requests, retry in a moment")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientIP strips the port from RemoteAddr. Proxy headers are already
// folded into RemoteAddr by middleware.RealIP.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
