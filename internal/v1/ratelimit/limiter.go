// Package ratelimit wraps ulule/limiter for the three limits the server
// enforces: WebSocket connects per IP, lobby chat per user, and spectator
// reactions per spectator.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"

	"github.com/dicehall/dicehall/internal/v1/logging"
	"github.com/dicehall/dicehall/internal/v1/metrics"
	"github.com/gin-gonic/gin"
	libredis "github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"
)

// Limiter is one named rate limit.
type Limiter struct {
	scope string
	inner *limiter.Limiter
}

// New builds a limiter backed by the in-process memory store.
// rate uses the ulule format, e.g. "100-M" or "10-S".
func New(scope, rate string) (*Limiter, error) {
	parsed, err := limiter.NewRateFromFormatted(rate)
	if err != nil {
		return nil, fmt.Errorf("invalid rate %q for %s: %w", rate, scope, err)
	}
	return &Limiter{scope: scope, inner: limiter.New(memory.NewStore(), parsed)}, nil
}

// NewWithRedis builds a limiter backed by Redis so limits hold across
// replicas. Falls back to the caller to decide when Redis is absent.
func NewWithRedis(scope, rate string, client *libredis.Client) (*Limiter, error) {
	parsed, err := limiter.NewRateFromFormatted(rate)
	if err != nil {
		return nil, fmt.Errorf("invalid rate %q for %s: %w", rate, scope, err)
	}
	store, err := sredis.NewStoreWithOptions(client, limiter.StoreOptions{
		Prefix: "dicehall:ratelimit:" + scope,
	})
	if err != nil {
		return nil, fmt.Errorf("redis limiter store for %s: %w", scope, err)
	}
	return &Limiter{scope: scope, inner: limiter.New(store, parsed)}, nil
}

// Allow consumes one token for key. Returns false when the limit is hit.
// Store errors fail open: a broken limiter must not take the game down.
func (l *Limiter) Allow(ctx context.Context, key string) bool {
	if l == nil {
		return true
	}
	res, err := l.inner.Get(ctx, key)
	if err != nil {
		logging.Warn(ctx, "Rate limiter store error, allowing request",
			zap.String("scope", l.scope), zap.Error(err))
		return true
	}
	if res.Reached {
		metrics.RateLimitExceeded.WithLabelValues(l.scope).Inc()
		return false
	}
	return true
}

// Middleware rejects requests over the limit with 429, keyed by client IP.
func (l *Limiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Allow(c.Request.Context(), c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
