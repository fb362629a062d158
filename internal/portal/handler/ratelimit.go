package handler

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPLimiter keeps one token bucket per client IP. Idle clients are forgotten
// every 5 minutes until ctx is done.
type IPLimiter struct {
	mu       sync.Mutex
	limiters map[string]*ipLimiter
	rps      rate.Limit
	burst    int
}

// NewIPLimiter creates an IPLimiter. rps is the steady-state requests per
// second; burst is the maximum burst size.
func NewIPLimiter(ctx context.Context, rps, burst int) *IPLimiter {
	l := &IPLimiter{
		limiters: make(map[string]*ipLimiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
	go l.cleanup(ctx)
	return l
}

func (l *IPLimiter) cleanup(ctx context.Context) {
	t := time.NewTicker(5 * time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			l.mu.Lock()
			for ip, c := range l.limiters {
				if time.Since(c.lastSeen) > 10*time.Minute {
					delete(l.limiters, ip)
				}
			}
			l.mu.Unlock()
		}
	}
}

// Allow takes a token from ip's bucket.
func (l *IPLimiter) Allow(ip string) bool {
	l.mu.Lock()
	c, ok := l.limiters[ip]
	if !ok {
		c = &ipLimiter{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.limiters[ip] = c
	}
	c.lastSeen = time.Now()
	l.mu.Unlock()
	return c.limiter.Allow()
}

// AllowRequest keys Allow on the host part of r.RemoteAddr. It is for plain
// net/http servers; gin routes use RateLimiter.
func (l *IPLimiter) AllowRequest(r *http.Request) bool {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = r.RemoteAddr
	}
	return l.Allow(ip)
}

// RateLimiter returns a Gin middleware that enforces per-IP token-bucket
// rate limiting. rps is the steady-state requests per second; burst is the
// maximum burst size.
func RateLimiter(ctx context.Context, rps, burst int) gin.HandlerFunc {
	l := NewIPLimiter(ctx, rps, burst)
	return func(c *gin.Context) {
		if !l.Allow(c.ClientIP()) {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
