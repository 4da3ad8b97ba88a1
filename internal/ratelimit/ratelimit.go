// Package ratelimit provides per-client token bucket rate limiting.
//
// Buckets are keyed by client IP and evicted after a period of inactivity,
// so the map stays bounded regardless of how many distinct clients show up.
package ratelimit

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// idleTTL is how long a bucket may sit untouched before eviction.
const idleTTL = 2 * time.Minute

// Config configures the limiter.
type Config struct {
	// RequestsPerMinute is the sustained refill rate per client.
	RequestsPerMinute int
	// BurstSize is the bucket capacity, allowing short bursts above the rate.
	BurstSize int
	// CleanupInterval is how often idle buckets are evicted.
	CleanupInterval time.Duration
}

// DefaultConfig allows one request per second sustained with bursts of ten.
func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 60,
		BurstSize:         10,
		CleanupInterval:   time.Minute,
	}
}

type bucket struct {
	tokens float64
	last   time.Time
}

// take refills the bucket for the elapsed time and spends one token if
// available.
func (b *bucket) take(now time.Time, cfg Config) bool {
	refill := now.Sub(b.last).Seconds() * float64(cfg.RequestsPerMinute) / 60.0
	b.tokens = min(b.tokens+refill, float64(cfg.BurstSize))
	b.last = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// Limiter tracks token buckets by key.
type Limiter struct {
	cfg     Config
	mu      sync.RWMutex
	buckets map[string]*bucket
	stop    chan struct{}
}

// New creates a limiter and starts its eviction loop. Call Stop on shutdown.
func New(cfg Config) *Limiter {
	l := &Limiter{
		cfg:     cfg,
		buckets: make(map[string]*bucket),
		stop:    make(chan struct{}),
	}
	go l.evictLoop()
	return l
}

func (l *Limiter) evictLoop() {
	ticker := time.NewTicker(l.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-idleTTL)
			l.mu.Lock()
			for key, b := range l.buckets {
				if b.last.Before(cutoff) {
					delete(l.buckets, key)
				}
			}
			l.mu.Unlock()
		case <-l.stop:
			return
		}
	}
}

// Stop terminates the eviction loop.
func (l *Limiter) Stop() {
	close(l.stop)
}

// Allow reports whether one request for key fits within its budget.
func (l *Limiter) Allow(key string) bool {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		l.buckets[key] = &bucket{tokens: float64(l.cfg.BurstSize) - 1, last: now}
		return true
	}
	return b.take(now, l.cfg)
}

// Middleware rejects requests over the per-IP budget with 429.
func (l *Limiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate_limit_exceeded",
				"message":     "Too many requests. Please slow down.",
				"retry_after": 1,
			})
			return
		}
		c.Next()
	}
}
