// Package ratelimit provides per-client token-bucket rate limiting for the
// riskscope API. Expensive routes can be charged more than one token.
package ratelimit

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/riskscope/internal/metrics"
)

// Config configures rate limiting
type Config struct {
	// RequestsPerMinute is the token refill rate per client.
	RequestsPerMinute int
	// BurstSize is the bucket capacity.
	BurstSize int
	// CleanupInterval is how often idle clients are forgotten.
	CleanupInterval time.Duration
	// RouteCosts charges matched routes (gin FullPath) more than one token.
	RouteCosts map[string]float64
}

// DefaultConfig returns the limits used when none are configured. Batch and
// portfolio calls fan out across many entities and cost more.
func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 120,
		BurstSize:         20,
		CleanupInterval:   time.Minute,
		RouteCosts: map[string]float64{
			"/v1/batch/refresh":  10,
			"/v1/portfolio/risk": 5,
		},
	}
}

// Limiter tracks token buckets by client key.
type Limiter struct {
	cfg     Config
	mu      sync.Mutex
	clients map[string]*bucket
	now     func() time.Time
	stop    chan struct{}
	once    sync.Once
}

type bucket struct {
	tokens    float64
	lastCheck time.Time
}

// New creates a limiter and starts its cleanup goroutine.
func New(cfg Config) *Limiter {
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = DefaultConfig().RequestsPerMinute
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = 1
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}
	l := &Limiter{
		cfg:     cfg,
		clients: make(map[string]*bucket),
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	go l.cleanup()
	return l
}

// idleAfter is how long a full bucket sits untouched before it is dropped.
func (l *Limiter) idleAfter() time.Duration {
	refill := time.Duration(float64(l.cfg.BurstSize) / float64(l.cfg.RequestsPerMinute) * float64(time.Minute))
	if refill < 2*time.Minute {
		return 2 * time.Minute
	}
	return refill
}

func (l *Limiter) cleanup() {
	ticker := time.NewTicker(l.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.mu.Lock()
			cutoff := l.now().Add(-l.idleAfter())
			for key, b := range l.clients {
				if b.lastCheck.Before(cutoff) {
					delete(l.clients, key)
				}
			}
			l.mu.Unlock()
		case <-l.stop:
			return
		}
	}
}

// Stop stops the cleanup goroutine. Safe to call more than once.
func (l *Limiter) Stop() {
	l.once.Do(func() { close(l.stop) })
}

// Allow charges one token to key.
func (l *Limiter) Allow(key string) bool {
	ok, _ := l.AllowN(key, 1)
	return ok
}

// AllowN charges cost tokens to key. When denied it also returns how long
// until enough tokens accumulate.
func (l *Limiter) AllowN(key string, cost float64) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	capacity := float64(l.cfg.BurstSize)
	if cost > capacity {
		cost = capacity
	}
	perSecond := float64(l.cfg.RequestsPerMinute) / 60.0
	now := l.now()

	b, ok := l.clients[key]
	if !ok {
		b = &bucket{tokens: capacity, lastCheck: now}
		l.clients[key] = b
	} else {
		b.tokens += now.Sub(b.lastCheck).Seconds() * perSecond
		if b.tokens > capacity {
			b.tokens = capacity
		}
		b.lastCheck = now
	}

	if b.tokens >= cost {
		b.tokens -= cost
		return true, 0
	}
	wait := time.Duration((cost - b.tokens) / perSecond * float64(time.Second))
	return false, wait
}

// Middleware rate limits by client IP, or by API key when one is presented.
func (l *Limiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		if auth := c.GetHeader("Authorization"); auth != "" {
			key = "auth:" + auth[:min(20, len(auth))]
		}

		cost := 1.0
		if rc, ok := l.cfg.RouteCosts[c.FullPath()]; ok && rc > 0 {
			cost = rc
		}

		ok, wait := l.AllowN(key, cost)
		if !ok {
			retryAfter := int(wait/time.Second) + 1
			metrics.RateLimitedTotal.WithLabelValues(c.FullPath()).Inc()
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate_limit_exceeded",
				"message":     "Too many requests. Please slow down.",
				"retry_after": retryAfter,
			})
			return
		}

		c.Next()
	}
}
