package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
)

const (
	// maxBodySize is the maximum size we'll read from an upstream response
	// (10MB). Prevents memory exhaustion from malicious/broken sources.
	maxBodySize = 10 * 1024 * 1024

	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
)

// ErrContentFetch indicates an upstream fetch failed after exhausting
// retries, or failed permanently (4xx, malformed response).
var ErrContentFetch = errors.New("content fetch failed")

// Options control a single fetch.
type Options struct {
	// ForceRefresh skips both cache lookup and cache write.
	ForceRefresh bool
	// Accept overrides the Accept header when non-empty.
	Accept string
}

// Result is the outcome of a successful fetch.
type Result struct {
	StatusCode  int
	Body        []byte
	ContentType string
}

// Config holds client tuning knobs.
type Config struct {
	Timeout        time.Duration // default 30s
	RetryCount     int           // default 3
	RetryBaseDelay time.Duration // default 1s
	CacheSize      int           // default 1000
	CacheTTL       time.Duration // default 1h
}

// Client performs outbound HTTP with retries, per-domain rate limiting
// and a process-wide URL response cache.
type Client struct {
	httpClient *http.Client
	cache      *expirable.LRU[string, Result]
	limiter    *DomainRateLimiter
	group      singleflight.Group

	retryCount     int
	retryBaseDelay time.Duration
}

func NewClient(config Config, limiter *DomainRateLimiter) *Client {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.RetryCount <= 0 {
		config.RetryCount = 3
	}
	if config.RetryBaseDelay <= 0 {
		config.RetryBaseDelay = time.Second
	}
	if config.CacheSize <= 0 {
		config.CacheSize = 1000
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = time.Hour
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		cache:          expirable.NewLRU[string, Result](config.CacheSize, nil, config.CacheTTL),
		limiter:        limiter,
		retryCount:     config.RetryCount,
		retryBaseDelay: config.RetryBaseDelay,
	}
}

// Get fetches a URL with the client's retry and caching policy.
// Transient failures (transport errors, 5xx) are retried with
// exponential back-off; 4xx responses fail immediately. Concurrent
// gets for the same URL share one upstream request.
func (c *Client) Get(ctx context.Context, url string, opts Options) (*Result, error) {
	if opts.ForceRefresh {
		return c.fetch(ctx, url, opts)
	}

	if cached, ok := c.cache.Get(url); ok {
		result := cached
		return &result, nil
	}

	v, err, _ := c.group.Do(url, func() (interface{}, error) {
		return c.fetch(ctx, url, opts)
	})
	if err != nil {
		return nil, err
	}
	result := *v.(*Result)
	return &result, nil
}

func (c *Client) fetch(ctx context.Context, url string, opts Options) (*Result, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, url); err != nil {
			return nil, fmt.Errorf("%w: rate limit wait for %s: %v", ErrContentFetch, url, err)
		}
	}

	var lastErr error
	for attempt := 0; attempt < c.retryCount; attempt++ {
		if attempt > 0 {
			delay := c.retryBaseDelay * time.Duration(1<<uint(attempt))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", ErrContentFetch, ctx.Err())
			}
		}

		result, retryable, err := c.doRequest(ctx, url, opts)
		if err == nil {
			if !opts.ForceRefresh {
				c.cache.Add(url, *result)
			}
			return result, nil
		}

		lastErr = err
		if !retryable {
			return nil, fmt.Errorf("%w: %s: %v", ErrContentFetch, url, err)
		}
	}

	return nil, fmt.Errorf("%w: %s after %d attempts: %v", ErrContentFetch, url, c.retryCount, lastErr)
}

// doRequest performs one attempt. The second return value reports
// whether the failure is worth retrying.
func (c *Client) doRequest(ctx context.Context, url string, opts Options) (*Result, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("User-Agent", userAgent)
	if opts.Accept != "" {
		req.Header.Set("Accept", opts.Accept)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Transport errors (connection reset, DNS, timeout) are transient
		return nil, true, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, true, err
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("upstream returned %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, false, fmt.Errorf("upstream returned %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")

	return &Result{
		StatusCode:  resp.StatusCode,
		Body:        decodeToUTF8(body, contentType),
		ContentType: contentType,
	}, false, nil
}

// decodeToUTF8 converts a response body to UTF-8 when the Content-Type
// declares a different charset. Unknown charsets pass through.
func decodeToUTF8(body []byte, contentType string) []byte {
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return body
	}
	name := params["charset"]
	if name == "" || strings.EqualFold(name, "utf-8") {
		return body
	}

	enc, err := htmlindex.Get(name)
	if err != nil || enc == nil {
		return body
	}
	decoded, _, err := transform.Bytes(enc.NewDecoder(), body)
	if err != nil {
		return body
	}
	return decoded
}

// InvalidateCache drops a single URL from the response cache.
func (c *Client) InvalidateCache(url string) {
	c.cache.Remove(url)
}

// CacheLen reports the number of live cache entries.
func (c *Client) CacheLen() int {
	return c.cache.Len()
}
