package handler

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	limiterSweepEvery = 5 * time.Minute
	limiterIdleEvict  = 10 * time.Minute
)

// clientBucket pairs a token bucket with its owner's last activity so idle
// clients can be evicted.
type clientBucket struct {
	bucket   *rate.Limiter
	lastSeen time.Time
}

// RateLimiter returns a Gin middleware enforcing a per-client token bucket,
// keyed by source IP. rps is the refill rate, burst the bucket depth. Edge
// units tend to deliver several envelopes in quick succession after a crash,
// so burst should comfortably exceed rps.
func RateLimiter(rps, burst int) gin.HandlerFunc {
	var (
		mu      sync.Mutex
		clients = make(map[string]*clientBucket)
	)

	// Evict buckets for clients that have gone quiet.
	go func() {
		ticker := time.NewTicker(limiterSweepEvery)
		defer ticker.Stop()
		for range ticker.C {
			mu.Lock()
			for ip, cb := range clients {
				if time.Since(cb.lastSeen) > limiterIdleEvict {
					delete(clients, ip)
				}
			}
			mu.Unlock()
		}
	}()

	return func(c *gin.Context) {
		ip := c.ClientIP()

		mu.Lock()
		cb, ok := clients[ip]
		if !ok {
			cb = &clientBucket{bucket: rate.NewLimiter(rate.Limit(rps), burst)}
			clients[ip] = cb
		}
		cb.lastSeen = time.Now()
		mu.Unlock()

		if !cb.bucket.Allow() {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
