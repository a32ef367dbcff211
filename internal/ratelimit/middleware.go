package ratelimit

import (
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/ronitlabs/talktime/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Limit is a per-route budget, expressed as requests per second plus an
// allowance for short bursts.
type Limit struct {
	Name  string
	Rate  float64
	Burst int
}

// PerMinute spreads n requests evenly over a minute.
func PerMinute(name string, n int) Limit {
	return Limit{Name: name, Rate: float64(n) / 60, Burst: n}
}

// PerHour spreads n requests evenly over an hour.
func PerHour(name string, n int) Limit {
	return Limit{Name: name, Rate: float64(n) / 3600, Burst: n}
}

type Limiter struct {
	log     *zap.Logger
	bucket  *TokenBucket
	enabled bool
}

func NewLimiter(cfg config.Config, log *zap.Logger, bucket *TokenBucket) *Limiter {
	return &Limiter{
		log:     log.Named("ratelimit"),
		bucket:  bucket,
		enabled: cfg.RateLimitEnabled,
	}
}

// Middleware throttles a route per client IP. The limiter fails open: a
// Redis error lets the request through rather than taking the API down.
func (l *Limiter) Middleware(limit Limit) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.enabled || l.bucket == nil {
			c.Next()
			return
		}

		key := "ratelimit:" + limit.Name + ":" + c.ClientIP()
		res, err := l.bucket.Allow(c.Request.Context(), key, limit.Rate, limit.Burst)
		if err != nil {
			l.log.Warn("rate limiter unavailable", zap.String("route", limit.Name), zap.Error(err))
			c.Next()
			return
		}

		if !res.Allowed {
			retryAfter := int(math.Ceil(res.RetryAfter.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate_limited",
				"retry_after": retryAfter,
			})
			return
		}
		c.Next()
	}
}

var Module = fx.Module("ratelimit",
	fx.Provide(NewTokenBucket),
	fx.Provide(NewLimiter),
)
