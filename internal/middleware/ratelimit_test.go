package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ismayilysfli/orders-invoice-erp/internal/config"
)

func limitCfg() config.RateLimitConfig {
	return config.RateLimitConfig{
		Enabled:        true,
		Capacity:       2,
		RefillTokens:   1,
		RefillInterval: 3 * time.Second,
		TTL:            time.Minute,
		KeyStrategy:    "ip_route",
		Prefix:         "rl",
	}
}

func newLimitedEcho(tb *tokenBucket) *echo.Echo {
	e := echo.New()
	e.POST("/auth/login", func(c echo.Context) error { return c.NoContent(http.StatusOK) }, tb.middleware)
	return e
}

func hit(e *echo.Echo, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	req.RemoteAddr = ip + ":1234"
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestTokenBucket_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	tb := newTokenBucket(limitCfg(), rdb, zap.NewNop())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tb.now = func() time.Time { return now }
	e := newLimitedEcho(tb)

	assert.Equal(t, http.StatusOK, hit(e, "10.0.0.1").Code)
	rec := hit(e, "10.0.0.1")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	rec = hit(e, "10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "3", rec.Header().Get("Retry-After"))

	// Other clients have their own bucket.
	assert.Equal(t, http.StatusOK, hit(e, "10.0.0.2").Code)

	now = now.Add(3 * time.Second)
	assert.Equal(t, http.StatusOK, hit(e, "10.0.0.1").Code)
	assert.True(t, mr.Exists("rl:ip:10.0.0.1:route:POST /auth/login"))
}

func TestTokenBucket_MemoryWithoutRedis(t *testing.T) {
	tb := newTokenBucket(limitCfg(), nil, nil)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tb.now = func() time.Time { return now }
	e := newLimitedEcho(tb)

	assert.Equal(t, http.StatusOK, hit(e, "10.0.0.1").Code)
	assert.Equal(t, http.StatusOK, hit(e, "10.0.0.1").Code)
	rec := hit(e, "10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "3", rec.Header().Get("Retry-After"))

	now = now.Add(3 * time.Second)
	assert.Equal(t, http.StatusOK, hit(e, "10.0.0.1").Code)
}

func TestTokenBucket_FallsBackWhenRedisFails(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	mr.Close()

	tb := newTokenBucket(limitCfg(), rdb, zap.NewNop())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tb.now = func() time.Time { return now }
	e := newLimitedEcho(tb)

	assert.Equal(t, http.StatusOK, hit(e, "10.0.0.1").Code)
	assert.Equal(t, http.StatusOK, hit(e, "10.0.0.1").Code)
	assert.Equal(t, http.StatusTooManyRequests, hit(e, "10.0.0.1").Code)
}

func TestNewTokenBucket_Disabled(t *testing.T) {
	cfg := limitCfg()
	cfg.Enabled = false
	e := echo.New()
	e.POST("/auth/login", func(c echo.Context) error { return c.NoContent(http.StatusOK) }, NewTokenBucket(cfg, nil, nil))

	for range 5 {
		require.Equal(t, http.StatusOK, hit(e, "10.0.0.1").Code)
	}
}

func TestMemoryBuckets_SweepsIdleKeys(t *testing.T) {
	m := newMemoryBuckets(limitCfg())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.take("a", now)
	m.take("b", now)
	require.Len(t, m.entries, 2)

	now = now.Add(2 * time.Minute)
	m.take("b", now)
	assert.Len(t, m.entries, 1)
	assert.Contains(t, m.entries, "b")
}

func TestBuildRateKey(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	req.RemoteAddr = "10.1.1.1:9"
	req.Header.Set(HeaderUserID, "5")
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetPath("/auth/login")
	setPrincipal(c, &Principal{userID: "5"})

	cfg := limitCfg()
	cfg.KeyStrategy = "user"
	assert.Equal(t, "rl:user:5", buildRateKey(cfg, c))
	cfg.KeyStrategy = "ip"
	assert.Equal(t, "rl:ip:10.1.1.1", buildRateKey(cfg, c))
	cfg.KeyStrategy = "everything"
	assert.Equal(t, "rl:ip:10.1.1.1:user:5:route:POST /auth/login", buildRateKey(cfg, c))
}
