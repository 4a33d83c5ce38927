package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// RateLimiter throttles mutating requests per owner. Matching-cycle triggers
// from the runner are not rate limited.
type RateLimiter struct {
	owners    map[string]time.Time
	mu        sync.Mutex
	limit     time.Duration
	lastSweep time.Time
}

func NewRateLimiter(limit time.Duration) *RateLimiter {
	return &RateLimiter{
		owners: make(map[string]time.Time),
		limit:  limit,
	}
}

func (r *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ownerID := c.GetHeader("X-Owner-ID")
		if ownerID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "X-Owner-ID header required"})
			c.Abort()
			return
		}
		now := time.Now()
		r.mu.Lock()
		last, exists := r.owners[ownerID]
		if exists && now.Sub(last) < r.limit {
			r.mu.Unlock()
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			c.Abort()
			return
		}
		r.owners[ownerID] = now
		r.sweepLocked(now)
		r.mu.Unlock()
		c.Next()
	}
}

// sweepLocked drops owners idle past the limit so the map only tracks owners
// still inside a throttling window. Runs at most once per limit interval.
func (r *RateLimiter) sweepLocked(now time.Time) {
	if now.Sub(r.lastSweep) < r.limit {
		return
	}
	r.lastSweep = now
	for id, last := range r.owners {
		if now.Sub(last) >= r.limit {
			delete(r.owners, id)
		}
	}
}
