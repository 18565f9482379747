package ratelimit

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"brokerops/pkg/metrics"
)

type Config struct {
	RPS             float64
	Burst           int
	CleanupInterval time.Duration
	MaxAge          time.Duration
}

func DefaultConfig() Config {
	return Config{
		RPS:             10.0,
		Burst:           20,
		CleanupInterval: 5 * time.Minute,
		MaxAge:          10 * time.Minute,
	}
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// registry tracks one token bucket per client IP and evicts buckets
// that have gone quiet for longer than maxAge.
type registry struct {
	mu      sync.Mutex
	clients map[string]*client
	rps     float64
	burst   int
	maxAge  time.Duration
}

func newRegistry(cfg Config) *registry {
	return &registry{
		clients: make(map[string]*client),
		rps:     cfg.RPS,
		burst:   cfg.Burst,
		maxAge:  cfg.MaxAge,
	}
}

func (r *registry) get(ip string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.clients[ip]
	if !ok {
		c = &client{limiter: rate.NewLimiter(rate.Limit(r.rps), r.burst)}
		r.clients[ip] = c
	}
	c.lastSeen = time.Now()
	return c.limiter
}

func (r *registry) sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-r.maxAge)
	for ip, c := range r.clients {
		if c.lastSeen.Before(cutoff) {
			delete(r.clients, ip)
		}
	}
}

func Middleware(cfg Config) gin.HandlerFunc {
	reg := newRegistry(cfg)

	go func() {
		ticker := time.NewTicker(cfg.CleanupInterval)
		defer ticker.Stop()
		for range ticker.C {
			reg.sweep()
		}
	}()

	limitHeader := strconv.Itoa(int(cfg.RPS))

	return func(c *gin.Context) {
		ip := c.ClientIP()
		if ip == "" {
			ip = c.RemoteIP()
		}

		limiter := reg.get(ip)
		c.Header("X-RateLimit-Limit", limitHeader)

		if !limiter.Allow() {
			metrics.RateLimitRequestsTotal.WithLabelValues("limited").Inc()
			c.Header("X-RateLimit-Remaining", "0")
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":      "rate limit exceeded",
				"error_code": "RATE_LIMIT_EXCEEDED",
			})
			return
		}

		metrics.RateLimitRequestsTotal.WithLabelValues("allowed").Inc()
		remaining := int(limiter.Tokens())
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		c.Next()
	}
}
