package middleware

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ismayilysfli/orders-invoice-erp/internal/config"
	"github.com/ismayilysfli/orders-invoice-erp/internal/metrics"
	"github.com/ismayilysfli/orders-invoice-erp/internal/response"
)

var limiterScript = redis.NewScript(`
    local key = KEYS[1]
    local now_ms = tonumber(ARGV[1])
    local capacity = tonumber(ARGV[2])
    local refill_tokens = tonumber(ARGV[3])
    local interval_ms = tonumber(ARGV[4])
    local ttl_seconds = tonumber(ARGV[5])

    local state = redis.call('HMGET', key, 'tokens', 'last_refill_ms')
    local tokens = tonumber(state[1])
    local last_refill = tonumber(state[2])

    if tokens == nil or last_refill == nil then
        tokens = capacity
        last_refill = now_ms
    end

    if interval_ms > 0 and refill_tokens > 0 then
        local elapsed = math.max(0, now_ms - last_refill)
        local intervals = math.floor(elapsed / interval_ms)
        if intervals > 0 then
            tokens = math.min(capacity, tokens + (intervals * refill_tokens))
            last_refill = last_refill + (intervals * interval_ms)
        end
    end

    local allowed = 0
    local retry_after_ms = 0
    if tokens > 0 then
        allowed = 1
        tokens = tokens - 1
    else
        local until_next = interval_ms - (now_ms - last_refill)
        if until_next < 0 then until_next = 0 end
        retry_after_ms = until_next
    end

    redis.call('HMSET', key, 'tokens', tokens, 'last_refill_ms', last_refill, 'capacity', capacity)
    redis.call('EXPIRE', key, ttl_seconds)

    return { allowed, tokens, retry_after_ms }
`)

// NewTokenBucket limits requests per key with a token bucket. Buckets live
// in Redis when rdb is set; without Redis, or when a Redis call fails, an
// in-process bucket with the same capacity and refill rate takes over.
func NewTokenBucket(cfg config.RateLimitConfig, rdb *redis.Client, logger *zap.Logger) echo.MiddlewareFunc {
	if !cfg.Enabled {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	return newTokenBucket(cfg, rdb, logger).middleware
}

type tokenBucket struct {
	cfg    config.RateLimitConfig
	rdb    *redis.Client
	memory *memoryBuckets
	logger *zap.Logger
	now    func() time.Time
}

type decision struct {
	allowed   bool
	remaining int64
	retry     time.Duration
	backend   string
}

func newTokenBucket(cfg config.RateLimitConfig, rdb *redis.Client, logger *zap.Logger) *tokenBucket {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &tokenBucket{
		cfg:    cfg,
		rdb:    rdb,
		memory: newMemoryBuckets(cfg),
		logger: logger.Named("ratelimit"),
		now:    time.Now,
	}
}

func (tb *tokenBucket) middleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		key := buildRateKey(tb.cfg, c)
		d := tb.take(c, key)

		c.Response().Header().Set("X-RateLimit-Limit", strconv.Itoa(tb.cfg.Capacity))
		c.Response().Header().Set("X-RateLimit-Remaining", strconv.FormatInt(d.remaining, 10))
		if tb.cfg.Debug {
			c.Response().Header().Set("X-RateLimit-Key", key)
		}

		if !d.allowed {
			secs := int(math.Ceil(d.retry.Seconds()))
			if secs < 1 {
				secs = 1
			}
			c.Response().Header().Set("Retry-After", strconv.Itoa(secs))
			metrics.RateLimited.WithLabelValues(d.backend).Inc()
			if tb.cfg.Debug {
				tb.logger.Info("blocked", zap.String("key", key), zap.Duration("retry", d.retry))
			}
			return response.Error(c, http.StatusTooManyRequests, "Rate limit exceeded")
		}
		return next(c)
	}
}

func (tb *tokenBucket) take(c echo.Context, key string) decision {
	now := tb.now()
	if tb.rdb != nil {
		d, err := tb.takeRedis(c, key, now)
		if err == nil {
			return d
		}
		tb.logger.Warn("redis unavailable, using in-process bucket", zap.String("key", key), zap.Error(err))
	}
	return tb.memory.take(key, now)
}

func (tb *tokenBucket) takeRedis(c echo.Context, key string, now time.Time) (decision, error) {
	args := []any{
		now.UnixMilli(),
		tb.cfg.Capacity,
		tb.cfg.RefillTokens,
		tb.cfg.RefillInterval.Milliseconds(),
		int64(tb.cfg.TTL / time.Second),
	}
	vals, err := limiterScript.Run(c.Request().Context(), tb.rdb, []string{key}, args...).Result()
	if err != nil {
		return decision{}, err
	}
	arr, ok := vals.([]any)
	if !ok || len(arr) != 3 {
		return decision{}, fmt.Errorf("unexpected script result %#v", vals)
	}
	return decision{
		allowed:   asInt64(arr[0]) == 1,
		remaining: asInt64(arr[1]),
		retry:     time.Duration(asInt64(arr[2])) * time.Millisecond,
		backend:   "redis",
	}, nil
}

type memoryEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// memoryBuckets keeps one rate.Limiter per key and drops keys that have
// been idle for longer than the configured TTL.
type memoryBuckets struct {
	mu        sync.Mutex
	entries   map[string]*memoryEntry
	limit     rate.Limit
	burst     int
	ttl       time.Duration
	lastSweep time.Time
}

func newMemoryBuckets(cfg config.RateLimitConfig) *memoryBuckets {
	every := cfg.RefillInterval / time.Duration(max(cfg.RefillTokens, 1))
	return &memoryBuckets{
		entries: make(map[string]*memoryEntry),
		limit:   rate.Every(every),
		burst:   max(cfg.Capacity, 1),
		ttl:     cfg.TTL,
	}
}

func (m *memoryBuckets) take(key string, now time.Time) decision {
	m.mu.Lock()
	m.sweep(now)
	e, ok := m.entries[key]
	if !ok {
		e = &memoryEntry{limiter: rate.NewLimiter(m.limit, m.burst)}
		m.entries[key] = e
	}
	e.lastAccess = now
	lim := e.limiter
	m.mu.Unlock()

	r := lim.ReserveN(now, 1)
	if !r.OK() {
		return decision{backend: "memory"}
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return decision{retry: delay, backend: "memory"}
	}
	return decision{
		allowed:   true,
		remaining: int64(math.Floor(lim.TokensAt(now))),
		backend:   "memory",
	}
}

// sweep must be called with mu held.
func (m *memoryBuckets) sweep(now time.Time) {
	if m.ttl <= 0 || now.Sub(m.lastSweep) < m.ttl {
		return
	}
	for k, e := range m.entries {
		if now.Sub(e.lastAccess) > m.ttl {
			delete(m.entries, k)
		}
	}
	m.lastSweep = now
}

func asInt64(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int32:
		return int64(t)
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case string:
		if n, err := strconv.ParseInt(t, 10, 64); err == nil {
			return n
		}
	}
	return 0
}

func buildRateKey(cfg config.RateLimitConfig, c echo.Context) string {
	parts := []string{cfg.Prefix}
	ip := c.RealIP()
	if ip == "" {
		ip = "unknown"
	}
	uid := userID(c)
	route := c.Request().Method + " " + c.Path()

	switch strings.ToLower(cfg.KeyStrategy) {
	case "ip":
		parts = append(parts, "ip", ip)
	case "user":
		parts = append(parts, "user", uid)
	case "route":
		parts = append(parts, "route", route)
	case "ip_user":
		parts = append(parts, "ip", ip, "user", uid)
	case "ip_route":
		parts = append(parts, "ip", ip, "route", route)
	case "user_route":
		parts = append(parts, "user", uid, "route", route)
	default:
		parts = append(parts, "ip", ip, "user", uid, "route", route)
	}
	return strings.Join(parts, ":")
}
