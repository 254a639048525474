package fetch

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DomainRateLimiter paces outbound requests per upstream domain so that
// parallel aggregation runs do not hammer a single site.
type DomainRateLimiter struct {
	limiters map[string]*rate.Limiter
	lastUsed map[string]time.Time
	mu       sync.RWMutex

	requestsPerMinute int
	burstSize         int
}

// RateLimiterConfig holds configuration for the rate limiter
type RateLimiterConfig struct {
	RequestsPerMinute int // Maximum requests per minute per domain
	BurstSize         int // Burst allowance for each domain
}

// NewDomainRateLimiter creates a new domain-based rate limiter
func NewDomainRateLimiter(config RateLimiterConfig) *DomainRateLimiter {
	if config.RequestsPerMinute <= 0 {
		config.RequestsPerMinute = 30
	}
	if config.BurstSize <= 0 {
		config.BurstSize = 5
	}

	return &DomainRateLimiter{
		limiters:          make(map[string]*rate.Limiter),
		lastUsed:          make(map[string]time.Time),
		requestsPerMinute: config.RequestsPerMinute,
		burstSize:         config.BurstSize,
	}
}

// Wait blocks until a request to the given URL is allowed, or returns
// an error when the context is cancelled.
func (d *DomainRateLimiter) Wait(ctx context.Context, rawURL string) error {
	domain := extractDomain(rawURL)
	if domain == "" {
		return nil // unparseable URLs fail later in the request itself
	}

	return d.limiterFor(domain).Wait(ctx)
}

// Allow reports whether a request to the given URL would currently be
// admitted without blocking.
func (d *DomainRateLimiter) Allow(rawURL string) bool {
	domain := extractDomain(rawURL)
	if domain == "" {
		return false
	}
	return d.limiterFor(domain).Allow()
}

func (d *DomainRateLimiter) limiterFor(domain string) *rate.Limiter {
	d.mu.RLock()
	limiter, exists := d.limiters[domain]
	d.mu.RUnlock()

	d.mu.Lock()
	defer d.mu.Unlock()

	if exists {
		d.lastUsed[domain] = time.Now()
		return limiter
	}

	// Double-check in case another goroutine created it
	if limiter, exists := d.limiters[domain]; exists {
		d.lastUsed[domain] = time.Now()
		return limiter
	}

	interval := time.Minute / time.Duration(d.requestsPerMinute)
	limiter = rate.NewLimiter(rate.Every(interval), d.burstSize)
	d.limiters[domain] = limiter
	d.lastUsed[domain] = time.Now()
	return limiter
}

// CleanupOldLimiters drops limiters that have not been used recently.
func (d *DomainRateLimiter) CleanupOldLimiters(maxAge time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	for domain, last := range d.lastUsed {
		if last.Before(cutoff) {
			delete(d.limiters, domain)
			delete(d.lastUsed, domain)
		}
	}
}

func extractDomain(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := strings.ToLower(parsed.Hostname())
	return strings.TrimPrefix(host, "www.")
}
