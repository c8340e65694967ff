package middleware

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// RateLimiter allows a fixed number of requests per IP per window.
// A rate of 0 disables limiting.
type RateLimiter struct {
	mu        sync.RWMutex
	clients   map[string]*client
	rate      int
	window    time.Duration
	cleanup   time.Duration
	whitelist map[string]struct{}
	clock     clockwork.Clock
	onBlocked func()
	logger    *slog.Logger
}

type client struct {
	tokens    int
	lastReset time.Time
}

// NewRateLimiter creates a rate limiter allowing 'rate' requests per 'window'.
// IPs in whitelist bypass the limiter.
func NewRateLimiter(rate int, window time.Duration, whitelist []string, clock clockwork.Clock, logger *slog.Logger) *RateLimiter {
	wl := make(map[string]struct{}, len(whitelist))
	for _, ip := range whitelist {
		ip = strings.TrimSpace(ip)
		if ip != "" {
			wl[ip] = struct{}{}
		}
	}

	return &RateLimiter{
		clients:   make(map[string]*client),
		rate:      rate,
		window:    window,
		cleanup:   window * 2,
		whitelist: wl,
		clock:     clock,
		logger:    logger.With("component", "rate_limiter"),
	}
}

// OnBlocked registers a hook called for every rejected request.
func (rl *RateLimiter) OnBlocked(fn func()) {
	rl.onBlocked = fn
}

// Run drops idle clients until ctx is done.
func (rl *RateLimiter) Run(ctx context.Context) {
	ticker := rl.clock.NewTicker(rl.cleanup)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			rl.prune()
		}
	}
}

func (rl *RateLimiter) prune() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.clock.Now()
	removed := 0
	for ip, c := range rl.clients {
		if now.Sub(c.lastReset) > rl.cleanup {
			delete(rl.clients, ip)
			removed++
		}
	}
	return removed
}

func (rl *RateLimiter) IsWhitelisted(ip string) bool {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	_, ok := rl.whitelist[ip]
	return ok
}

// Allow checks if a request from the given IP should be allowed
func (rl *RateLimiter) Allow(ip string) bool {
	if rl.rate <= 0 {
		return true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	c, exists := rl.clients[ip]

	if !exists {
		rl.clients[ip] = &client{
			tokens:    rl.rate - 1,
			lastReset: now,
		}
		return true
	}

	if now.Sub(c.lastReset) > rl.window {
		c.tokens = rl.rate - 1
		c.lastReset = now
		return true
	}

	if c.tokens > 0 {
		c.tokens--
		return true
	}

	return false
}

// Middleware returns an HTTP middleware that applies rate limiting
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	retryAfter := strconv.Itoa(int(rl.window.Seconds()))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := ClientIP(r)
		if rl.IsWhitelisted(ip) {
			next.ServeHTTP(w, r)
			return
		}

		if !rl.Allow(ip) {
			rl.logger.Warn("rate limit exceeded", "ip", ip, "path", r.URL.Path)
			if rl.onBlocked != nil {
				rl.onBlocked()
			}
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", retryAfter)
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"too many requests"}`))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// ClientIP prefers proxy headers over the socket address.
func ClientIP(r *http.Request) string {
	// "client, proxy1, proxy2"
	if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if host, _, err := net.SplitHostPort(first); err == nil {
			return host
		}
		return first
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

type RateLimiterStats struct {
	TrackedIPs       int     `json:"tracked_ips"`
	RatePerWindow    int     `json:"rate_per_window"`
	WindowSeconds    float64 `json:"window_seconds"`
	WhitelistEntries int     `json:"whitelist_entries"`
}

func (rl *RateLimiter) Stats() RateLimiterStats {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	return RateLimiterStats{
		TrackedIPs:       len(rl.clients),
		RatePerWindow:    rl.rate,
		WindowSeconds:    rl.window.Seconds(),
		WhitelistEntries: len(rl.whitelist),
	}
}
