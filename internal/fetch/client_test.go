package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func testClient() *Client {
	return NewClient(Config{RetryCount: 3, RetryBaseDelay: time.Millisecond}, nil)
}

func TestGetRetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("recovered"))
	}))
	defer server.Close()

	result, err := testClient().Get(context.Background(), server.URL, Options{})
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(result.Body) != "recovered" {
		t.Errorf("Expected body %q, got %q", "recovered", result.Body)
	}
	if result.ContentType != "text/html" {
		t.Errorf("Expected content type text/html, got %q", result.ContentType)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("Expected 3 attempts, got %d", got)
	}
}

func TestGetExhaustsRetries(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := testClient().Get(context.Background(), server.URL, Options{})
	if !errors.Is(err, ErrContentFetch) {
		t.Fatalf("Expected ErrContentFetch, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("Expected 3 attempts, got %d", got)
	}
}

func TestGetDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	_, err := testClient().Get(context.Background(), server.URL, Options{})
	if !errors.Is(err, ErrContentFetch) {
		t.Fatalf("Expected ErrContentFetch, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("Expected a single attempt for 404, got %d", got)
	}
}

func TestGetCachesResponses(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write([]byte("cached"))
	}))
	defer server.Close()

	client := testClient()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		result, err := client.Get(ctx, server.URL, Options{})
		if err != nil {
			t.Fatalf("Get %d failed: %v", i, err)
		}
		if string(result.Body) != "cached" {
			t.Errorf("Get %d: unexpected body %q", i, result.Body)
		}
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("Expected 1 upstream request for 3 gets, got %d", got)
	}
	if client.CacheLen() != 1 {
		t.Errorf("Expected 1 cache entry, got %d", client.CacheLen())
	}
}

func TestGetForceRefreshBypassesCache(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write([]byte("fresh"))
	}))
	defer server.Close()

	client := testClient()
	ctx := context.Background()

	if _, err := client.Get(ctx, server.URL, Options{}); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if _, err := client.Get(ctx, server.URL, Options{ForceRefresh: true}); err != nil {
		t.Fatalf("Force refresh failed: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("Expected force refresh to hit upstream, got %d calls", got)
	}
}

func TestInvalidateCache(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write([]byte("x"))
	}))
	defer server.Close()

	client := testClient()
	ctx := context.Background()

	if _, err := client.Get(ctx, server.URL, Options{}); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	client.InvalidateCache(server.URL)
	if _, err := client.Get(ctx, server.URL, Options{}); err != nil {
		t.Fatalf("Get after invalidate failed: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("Expected refetch after invalidation, got %d calls", got)
	}
}

func TestGetDecodesLegacyCharset(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=iso-8859-1")
		_, _ = w.Write([]byte{'M', 0xFC, 'n', 'c', 'h', 'e', 'n'})
	}))
	defer server.Close()

	result, err := testClient().Get(context.Background(), server.URL, Options{})
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got := string(result.Body); got != "München" {
		t.Errorf("Expected Latin-1 body decoded to UTF-8, got %q", got)
	}
}

func TestGetSendsAcceptHeader(t *testing.T) {
	var accept string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		accept = r.Header.Get("Accept")
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	if _, err := testClient().Get(context.Background(), server.URL, Options{Accept: "application/json"}); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if accept != "application/json" {
		t.Errorf("Expected Accept header forwarded, got %q", accept)
	}
}
