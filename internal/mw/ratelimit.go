package mw

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// ClientLimiters hands out one token bucket per client IP. Buckets of
// clients that stay quiet for idleTTL are evicted.
type ClientLimiters struct {
	mu       sync.Mutex
	limiters *cache.Cache
	r        rate.Limit
	b        int
}

// NewClientLimiters creates buckets of rate r and burst b.
func NewClientLimiters(r rate.Limit, b int, idleTTL time.Duration) *ClientLimiters {
	return &ClientLimiters{
		limiters: cache.New(idleTTL, idleTTL*2),
		r:        r,
		b:        b,
	}
}

// Get returns the bucket for ip, creating it on first use.
func (l *ClientLimiters) Get(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if v, ok := l.limiters.Get(ip); ok {
		l.limiters.SetDefault(ip, v)
		return v.(*rate.Limiter)
	}
	limiter := rate.NewLimiter(l.r, l.b)
	l.limiters.SetDefault(ip, limiter)
	return limiter
}

// RateLimiter rejects clients that exceed their bucket with 429.
func RateLimiter(limiters *ClientLimiters) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiters.Get(c.ClientIP()).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
