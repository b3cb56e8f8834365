// Package ratelimit provides token-bucket rate limiting middleware for the API.
package ratelimit

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/propertyescrow/internal/metrics"
)

// Config configures rate limiting
type Config struct {
	// RequestsPerMinute is the max requests per client per minute
	RequestsPerMinute int
	// BurstSize allows brief bursts above the limit
	BurstSize int
	// CleanupInterval is how often to clean old entries
	CleanupInterval time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 60, // 1 req/sec average
		BurstSize:         10, // Allow bursts of 10
		CleanupInterval:   time.Minute,
	}
}

// PerSecond builds a config allowing rps requests per second with a burst
// of twice that. Non-positive rps falls back to DefaultConfig.
func PerSecond(rps int) Config {
	if rps <= 0 {
		return DefaultConfig()
	}
	return Config{
		RequestsPerMinute: rps * 60,
		BurstSize:         rps * 2,
		CleanupInterval:   time.Minute,
	}
}

// Limiter tracks rate limits by key
type Limiter struct {
	cfg      Config
	mu       sync.Mutex
	clients  map[string]*clientState
	stop     chan struct{}
	stopOnce sync.Once
}

type clientState struct {
	tokens    float64
	lastCheck time.Time
}

// Decision is the outcome of one Take.
type Decision struct {
	Allowed    bool
	Remaining  int           // whole tokens left after this request
	RetryAfter time.Duration // zero when Allowed
}

// New creates a new rate limiter
func New(cfg Config) *Limiter {
	l := &Limiter{
		cfg:     cfg,
		clients: make(map[string]*clientState),
		stop:    make(chan struct{}),
	}
	go l.cleanup()
	return l
}

// cleanup removes stale entries periodically
func (l *Limiter) cleanup() {
	ticker := time.NewTicker(l.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.mu.Lock()
			cutoff := time.Now().Add(-2 * time.Minute)
			for key, state := range l.clients {
				if state.lastCheck.Before(cutoff) {
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
	l.stopOnce.Do(func() { close(l.stop) })
}

// Allow checks if a request should be allowed
func (l *Limiter) Allow(key string) bool {
	return l.Take(key).Allowed
}

// Take consumes one token from key's bucket if one is available.
func (l *Limiter) Take(key string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	burst := float64(l.cfg.BurstSize)
	rate := float64(l.cfg.RequestsPerMinute) / 60.0

	state, exists := l.clients[key]
	if !exists {
		state = &clientState{tokens: burst, lastCheck: now}
		l.clients[key] = state
	}

	// Token bucket refill, capped at burst size
	state.tokens = math.Min(burst, state.tokens+now.Sub(state.lastCheck).Seconds()*rate)
	state.lastCheck = now

	if state.tokens >= 1 {
		state.tokens--
		return Decision{Allowed: true, Remaining: int(state.tokens)}
	}

	wait := time.Second
	if rate > 0 {
		wait = time.Duration((1 - state.tokens) / rate * float64(time.Second))
	}
	return Decision{RetryAfter: wait}
}

// clientKey buckets authenticated callers by credential and everyone else
// by IP. Credentials are hashed so raw keys never sit in the map.
func clientKey(c *gin.Context) (key, kind string) {
	cred := c.GetHeader("Authorization")
	if cred == "" {
		cred = c.GetHeader("X-API-Key")
	}
	if cred == "" {
		return "ip:" + c.ClientIP(), "ip"
	}
	sum := sha256.Sum256([]byte(cred))
	return "auth:" + hex.EncodeToString(sum[:8]), "auth"
}

// Middleware returns a Gin middleware that rate limits per API key, or per
// IP for anonymous requests.
func (l *Limiter) Middleware() gin.HandlerFunc {
	limit := strconv.Itoa(l.cfg.BurstSize)

	return func(c *gin.Context) {
		key, kind := clientKey(c)
		d := l.Take(key)

		c.Header("X-RateLimit-Limit", limit)
		c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))

		if !d.Allowed {
			retry := int(math.Ceil(d.RetryAfter.Seconds()))
			metrics.RateLimitedTotal.WithLabelValues(kind).Inc()
			c.Header("Retry-After", strconv.Itoa(retry))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate_limit_exceeded",
				"message":     "Too many requests. Please slow down.",
				"retry_after": retry,
			})
			return
		}

		c.Next()
	}
}
