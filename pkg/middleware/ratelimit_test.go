package middleware

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/platinummonkey/loanadmin/pkg/auth"
	"github.com/platinummonkey/loanadmin/pkg/config"
	"github.com/platinummonkey/loanadmin/pkg/contextkeys"
	"github.com/platinummonkey/loanadmin/pkg/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testLimits = config.RateLimitConfig{Enabled: true, RequestsPerWindow: 10, Window: time.Second, Burst: 2}

func TestRateLimiter_Allow(t *testing.T) {
	limiter := NewRateLimiter(testLimits)
	now := time.Unix(1_700_000_000, 0)
	limiter.now = func() time.Time { return now }
	ctx := context.Background()

	// limit + burst up front
	for i := 0; i < 12; i++ {
		d, err := limiter.Allow(ctx, "user:1")
		require.NoError(t, err)
		assert.True(t, d.Allowed, "request %d", i+1)
	}

	d, err := limiter.Allow(ctx, "user:1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.Equal(t, 100*time.Millisecond, d.Reset)

	// other keys have their own bucket
	d, _ = limiter.Allow(ctx, "user:2")
	assert.True(t, d.Allowed)

	// one token refills every 100ms
	now = now.Add(100 * time.Millisecond)
	d, _ = limiter.Allow(ctx, "user:1")
	assert.True(t, d.Allowed)
	d, _ = limiter.Allow(ctx, "user:1")
	assert.False(t, d.Allowed)
}

func TestRateLimiter_Cleanup(t *testing.T) {
	limiter := NewRateLimiter(testLimits)
	now := time.Unix(1_700_000_000, 0)
	limiter.now = func() time.Time { return now }

	_, _ = limiter.Allow(context.Background(), "user:1")
	now = now.Add(time.Second)
	_, _ = limiter.Allow(context.Background(), "user:2")

	now = now.Add(1500 * time.Millisecond)
	limiter.Cleanup()

	assert.NotContains(t, limiter.buckets, "user:1")
	assert.Contains(t, limiter.buckets, "user:2")
}

func TestDistributedRateLimiter_Allow(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	limiter := NewDistributedRateLimiter(client, config.RateLimitConfig{RequestsPerWindow: 2, Window: time.Minute, Burst: 1}, "")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := limiter.Allow(ctx, "user:1")
		require.NoError(t, err)
		assert.True(t, d.Allowed, "request %d", i+1)
		assert.Equal(t, 2-i, d.Remaining)
	}

	d, err := limiter.Allow(ctx, "user:1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 2, d.Limit)
	assert.InDelta(t, time.Minute.Seconds(), d.Reset.Seconds(), 1)
	assert.True(t, mr.Exists("loanadmin:ratelimit:user:1"))

	// a new window starts once the key expires
	mr.FastForward(time.Minute)
	d, err = limiter.Allow(ctx, "user:1")
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	require.NoError(t, limiter.Reset(ctx, "user:1"))
	assert.False(t, mr.Exists("loanadmin:ratelimit:user:1"))
}

func TestDistributedRateLimiter_RedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })
	mr.Close()

	_, err := NewDistributedRateLimiter(client, testLimits, "").Allow(context.Background(), "user:1")
	assert.Error(t, err)
}

type failingLimiter struct{}

func (failingLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	return Decision{}, errors.New("redis down")
}

func TestRateLimitMiddleware(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	limiter := NewRateLimiter(config.RateLimitConfig{RequestsPerWindow: 1, Window: time.Hour})

	handler := NewRateLimitMiddleware(limiter, metrics, logger).Handler(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))

	serve := func(principal *auth.Principal, remoteAddr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/roles", nil)
		req.RemoteAddr = remoteAddr
		if principal != nil {
			req = req.WithContext(contextkeys.WithPrincipal(req.Context(), principal))
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	alice := &auth.Principal{UserID: 7}

	rec := serve(alice, "10.0.0.1:1234")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	rec = serve(alice, "10.0.0.2:1234")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// anonymous callers are keyed by address
	assert.Equal(t, http.StatusOK, serve(nil, "10.0.0.1:1234").Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(nil, "10.0.0.1:5678").Code)
	assert.Equal(t, http.StatusOK, serve(nil, "10.0.0.3:1234").Code)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.RateLimitedTotal.WithLabelValues("user")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.RateLimitedTotal.WithLabelValues("anonymous")))
}

func TestRateLimitMiddleware_FailsOpen(t *testing.T) {
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	handler := NewRateLimitMiddleware(failingLimiter{}, nil, logger).Handler(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) }))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/roles", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:4000"
	assert.Equal(t, "192.0.2.1", clientIP(req))

	req.Header.Set("X-Real-IP", "198.51.100.2")
	assert.Equal(t, "198.51.100.2", clientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", clientIP(req))
}
