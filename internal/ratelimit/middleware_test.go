package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	limiter "github.com/ulule/limiter/v3"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddlewareEnforcesLimitInMemory(t *testing.T) {
	lim, err := New(nil, "1-M", "test:")
	require.NoError(t, err)

	handler := Handler{Limiter: lim, Key: func(*http.Request) string { return "static" }}.Middleware(okHandler())
	req := httptest.NewRequest(http.MethodPost, "/api/v1/tiers/quote", nil)

	rr1 := httptest.NewRecorder()
	handler.ServeHTTP(rr1, req.Clone(req.Context()))
	require.Equal(t, http.StatusOK, rr1.Code)
	require.Equal(t, "1", rr1.Header().Get("X-RateLimit-Limit"))
	require.Equal(t, "0", rr1.Header().Get("X-RateLimit-Remaining"))

	rr2 := httptest.NewRecorder()
	handler.ServeHTTP(rr2, req.Clone(req.Context()))
	require.Equal(t, http.StatusTooManyRequests, rr2.Code)
	require.NotEmpty(t, rr2.Header().Get("Retry-After"))
	require.Contains(t, rr2.Body.String(), "RATE_LIMITED")
}

func TestMiddlewareKeysByClientIP(t *testing.T) {
	lim, err := New(nil, "1-M", "ip:")
	require.NoError(t, err)
	handler := Handler{Limiter: lim}.Middleware(okHandler())

	for _, addr := range []string{"10.0.0.1:1234", "10.0.0.2:1234"} {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.RemoteAddr = addr
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		require.Equal(t, http.StatusOK, rr.Code, addr)
	}
}

func TestNewWithRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	lim, err := New(client, "2-M", "test:")
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		lctx, err := lim.Get(ctx, "key")
		require.NoError(t, err)
		require.False(t, lctx.Reached)
	}
	lctx, err := lim.Get(ctx, "key")
	require.NoError(t, err)
	require.True(t, lctx.Reached)
}

func TestNewRejectsBadRate(t *testing.T) {
	_, err := New(nil, "lots", "")
	require.Error(t, err)
}

type failingLimiter struct{}

func (failingLimiter) Get(context.Context, string) (limiter.Context, error) {
	return limiter.Context{}, errors.New("store down")
}

func TestMiddlewareOnError(t *testing.T) {
	called := false
	handler := Handler{Limiter: failingLimiter{}, OnError: func(error) { called = true }}.Middleware(okHandler())

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/test", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.True(t, called)
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.7:5555"
	require.Equal(t, "192.0.2.7", ClientIP(req))
	req.RemoteAddr = "unix"
	require.Equal(t, "unix", ClientIP(req))
}
