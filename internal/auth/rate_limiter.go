package auth

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimiter tracks a token bucket per client IP. Used on the login
// endpoint to slow down credential guessing.
type RateLimiter struct {
	ips  map[string]*rate.Limiter
	mu   sync.Mutex
	r    rate.Limit
	b    int
	quit chan struct{}
	once sync.Once
}

func NewRateLimiter(r rate.Limit, b int) *RateLimiter {
	limiter := &RateLimiter{
		ips:  make(map[string]*rate.Limiter),
		r:    r,
		b:    b,
		quit: make(chan struct{}),
	}
	go limiter.cleanupLoop()
	return limiter
}

// Stop terminates the cleanup goroutine. Safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.once.Do(func() { close(rl.quit) })
}

func (rl *RateLimiter) limiterFor(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limiter, exists := rl.ips[ip]
	if !exists {
		limiter = rate.NewLimiter(rl.r, rl.b)
		rl.ips[ip] = limiter
	}
	return limiter
}

// Allow reports whether the IP may make another attempt right now.
func (rl *RateLimiter) Allow(ip string) bool {
	return rl.limiterFor(ip).Allow()
}

// cleanupLoop drops all per-IP state every hour. Coarse, but the map
// only grows with distinct client IPs hitting the login endpoint.
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.mu.Lock()
			rl.ips = make(map[string]*rate.Limiter)
			rl.mu.Unlock()
		case <-rl.quit:
			return
		}
	}
}

// RateLimitMiddleware rejects requests over the per-IP budget.
func RateLimitMiddleware(limiter *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow(c.ClientIP()) {
			c.String(http.StatusTooManyRequests, "Rate limit exceeded")
			c.Abort()
			return
		}
		c.Next()
	}
}
