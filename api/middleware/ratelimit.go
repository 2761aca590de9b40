package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimiter keeps one token bucket per client key.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*client
	limit   rate.Limit
	burst   int
	idle    time.Duration
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows rps requests per second with the given burst per client.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return &RateLimiter{
		clients: make(map[string]*client),
		limit:   rate.Limit(rps),
		burst:   burst,
		idle:    time.Hour,
	}
}

// Allow reports whether key may make a request now.
func (r *RateLimiter) Allow(key string) bool {
	now := time.Now()
	r.mu.Lock()
	cl, ok := r.clients[key]
	if !ok {
		cl = &client{limiter: rate.NewLimiter(r.limit, r.burst)}
		r.clients[key] = cl
	}
	cl.lastSeen = now
	r.mu.Unlock()
	return cl.limiter.AllowN(now, 1)
}

// Cleanup drops clients idle for longer than an hour.
func (r *RateLimiter) Cleanup() {
	cutoff := time.Now().Add(-r.idle)
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, cl := range r.clients {
		if cl.lastSeen.Before(cutoff) {
			delete(r.clients, k)
		}
	}
}

// Middleware limits by authenticated staff ID, falling back to client IP.
func (r *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := StaffID(c)
		if key == "" {
			key = c.ClientIP()
		}
		if !r.Allow(key) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate_limited", "message": "too many requests"})
			return
		}
		c.Next()
	}
}

// Run evicts idle clients every ten minutes until ctx is cancelled.
func (r *RateLimiter) Run(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.Cleanup()
		}
	}
}
