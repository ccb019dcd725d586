// Package ratelimit throttles inbound connections and dispatched actions.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"github.com/injoint/joint/internal/v1/config"
	"github.com/injoint/joint/internal/v1/logging"
	"github.com/injoint/joint/internal/v1/metrics"
	"go.uber.org/zap"
)

// RateLimiter holds the rate limiter instances used across the joint
// process. There is no Redis-backed store: rate limiting only needs to
// hold within a single process (horizontal scale-out is a Non-goal), so
// an in-memory store is sufficient and keeps the teacher's Redis-vs-memory
// fallback pattern down to the memory branch only.
type RateLimiter struct {
	connect *limiter.Limiter // per-IP, gates new connections
	action  *limiter.Limiter // per-client, gates dispatched actions
	store   limiter.Store
}

// NewRateLimiter builds a RateLimiter from validated config.
func NewRateLimiter(cfg *config.Config) (*RateLimiter, error) {
	connectRate, err := limiter.NewRateFromFormatted(cfg.RateLimitConnect)
	if err != nil {
		return nil, fmt.Errorf("invalid connect rate: %w", err)
	}

	actionRate, err := limiter.NewRateFromFormatted(cfg.RateLimitAction)
	if err != nil {
		return nil, fmt.Errorf("invalid action rate: %w", err)
	}

	store := memory.NewStore()

	return &RateLimiter{
		connect: limiter.New(store, connectRate),
		action:  limiter.New(store, actionRate),
		store:   store,
	}, nil
}

// ConnectMiddleware returns a Gin middleware that throttles new connection
// attempts by client IP, meant to sit in front of a ginadapter upgrade route.
func (rl *RateLimiter) ConnectMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		key := c.ClientIP()

		lctx, err := rl.connect.Get(ctx, key)
		if err != nil {
			logging.Error(ctx, "rate limiter store failed", zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(lctx.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(lctx.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(lctx.Reset, 10))

		if lctx.Reached {
			metrics.RateLimitExceeded.WithLabelValues("connect", "ip").Inc()
			c.Header("Retry-After", strconv.FormatInt(lctx.Reset-time.Now().Unix(), 10))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "too many connection attempts",
				"retry_after": lctx.Reset,
			})
			return
		}

		metrics.RateLimitRequests.WithLabelValues("connect").Inc()
		c.Next()
	}
}

// CheckAction reports whether clientID may dispatch another action right
// now. Called by the joint core's intake loop before invoking a reducer.
func (rl *RateLimiter) CheckAction(ctx context.Context, clientID uint64) bool {
	key := strconv.FormatUint(clientID, 10)

	lctx, err := rl.action.Get(ctx, key)
	if err != nil {
		logging.Error(ctx, "rate limiter store failed", zap.Error(err))
		return true // fail open
	}

	if lctx.Reached {
		metrics.RateLimitExceeded.WithLabelValues("action", "client").Inc()
		return false
	}

	metrics.RateLimitRequests.WithLabelValues("action").Inc()
	return true
}
