package web

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	appLog "studycal/internal/log"
)

// RateLimiterConfig bounds requests per client address.
type RateLimiterConfig struct {
	Rate            float64 // requests per second
	Burst           int
	CleanupInterval time.Duration
}

type clientLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter keeps one token bucket per client IP and forgets idle ones.
type RateLimiter struct {
	config RateLimiterConfig

	mu       sync.Mutex
	limiters map[string]*clientLimiter

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewRateLimiter starts the cleanup loop; call Stop to end it.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	if config.Rate <= 0 {
		config.Rate = 10
	}
	if config.Burst <= 0 {
		config.Burst = 40
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 5 * time.Minute
	}
	rl := &RateLimiter{
		config:   config,
		limiters: make(map[string]*clientLimiter),
		stopCh:   make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// Stop ends the cleanup loop. It is safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// Middleware rejects requests over the client's budget with 429.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientKey(r)
		if !rl.limiterFor(key).Allow() {
			appLog.Warn("rate limit exceeded", "client", key, "path", r.URL.Path)
			rl.writeLimited(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Len returns the number of tracked clients.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

func (rl *RateLimiter) limiterFor(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cl, ok := rl.limiters[key]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(rate.Limit(rl.config.Rate), rl.config.Burst)}
		rl.limiters[key] = cl
	}
	cl.lastAccess = time.Now()
	return cl.limiter
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.cleanup(time.Now())
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup drops clients idle for more than two cleanup intervals.
func (rl *RateLimiter) cleanup(now time.Time) {
	ttl := rl.config.CleanupInterval * 2
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, cl := range rl.limiters {
		if now.Sub(cl.lastAccess) > ttl {
			delete(rl.limiters, key)
		}
	}
}

// writeLimited sets Retry-After to the time one token takes to refill.
func (rl *RateLimiter) writeLimited(w http.ResponseWriter) {
	retryAfter := int(math.Ceil(1.0 / rl.config.Rate))
	if retryAfter < 1 {
		retryAfter = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	writeError(w, http.StatusTooManyRequests, codeRateLimited, "too many requests, retry later", "")
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
