package middleware

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/iliyamo/parking-orchestrator/internal/config"
)

// takeToken refills the bucket by whole intervals since the last refill,
// then tries to take one token.  It returns {allowed, remaining, wait_ms}.
var takeToken = redis.NewScript(`
local capacity = tonumber(ARGV[2])
local refill = tonumber(ARGV[3])
local interval = tonumber(ARGV[4])
local now = tonumber(ARGV[1])

local state = redis.call('HMGET', KEYS[1], 'tokens', 'ts')
local tokens = tonumber(state[1]) or capacity
local ts = tonumber(state[2]) or now

local steps = math.floor(math.max(0, now - ts) / interval)
if steps > 0 then
	tokens = math.min(capacity, tokens + steps * refill)
	ts = ts + steps * interval
end

local allowed, wait = 0, 0
if tokens >= 1 then
	allowed = 1
	tokens = tokens - 1
else
	wait = math.max(0, interval - (now - ts))
end

redis.call('HSET', KEYS[1], 'tokens', tokens, 'ts', ts)
redis.call('EXPIRE', KEYS[1], tonumber(ARGV[5]))
return {allowed, tokens, wait}
`)

// bucketReply is the decoded result of takeToken.
type bucketReply struct {
	allowed   bool
	remaining int64
	wait      time.Duration
}

func parseBucketReply(v any) (bucketReply, bool) {
	arr, ok := v.([]any)
	if !ok || len(arr) != 3 {
		return bucketReply{}, false
	}
	nums := make([]int64, 3)
	for i, x := range arr {
		n, ok := x.(int64)
		if !ok {
			return bucketReply{}, false
		}
		nums[i] = n
	}
	return bucketReply{allowed: nums[0] == 1, remaining: nums[1], wait: time.Duration(nums[2]) * time.Millisecond}, true
}

// NewTokenBucket limits requests with a token bucket kept in Redis, so
// every parking service instance draws from the same buckets.  Redis
// errors let the request through.
func NewTokenBucket(cfg config.RateLimitConfig, rdb *redis.Client, log *zap.Logger) echo.MiddlewareFunc {
	if !cfg.Enabled || rdb == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	log = log.Named("ratelimit")
	limit := strconv.Itoa(cfg.Capacity)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := buildRateKey(cfg, c)
			res, err := takeToken.Run(c.Request().Context(), rdb, []string{key},
				time.Now().UnixMilli(),
				cfg.Capacity,
				cfg.RefillTokens,
				cfg.RefillInterval.Milliseconds(),
				int64(cfg.TTL/time.Second),
			).Result()
			if err != nil {
				log.Warn("rate limiter unavailable", zap.String("key", key), zap.Error(err))
				return next(c)
			}
			reply, ok := parseBucketReply(res)
			if !ok {
				log.Warn("unexpected limiter result", zap.String("key", key), zap.Any("result", res))
				return next(c)
			}

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", limit)
			h.Set("X-RateLimit-Remaining", strconv.FormatInt(reply.remaining, 10))
			if reply.allowed {
				return next(c)
			}

			secs := int(math.Ceil(reply.wait.Seconds()))
			h.Set("Retry-After", strconv.Itoa(secs))
			log.Debug("request throttled", zap.String("key", key), zap.Duration("wait", reply.wait))
			return c.JSON(http.StatusTooManyRequests, map[string]any{
				"error":       "rate limit exceeded",
				"retryable":   true,
				"retry_after": secs,
			})
		}
	}
}

// buildRateKey names the bucket of a request.  Gate terminals call
// anonymously, so the default buckets by client address and route; the
// caller strategy buckets authenticated operators by token subject.
func buildRateKey(cfg config.RateLimitConfig, c echo.Context) string {
	ip := c.RealIP()
	if ip == "" {
		ip = "unknown"
	}
	switch cfg.KeyStrategy {
	case config.KeyByIP:
		return strings.Join([]string{cfg.Prefix, "ip", ip}, ":")
	case config.KeyByCaller:
		return strings.Join([]string{cfg.Prefix, "caller", callerID(c)}, ":")
	}
	return strings.Join([]string{cfg.Prefix, "ip", ip, "route", c.Request().Method + " " + c.Path()}, ":")
}
