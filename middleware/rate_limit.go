package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/dropgate/dropgate/config"
	"github.com/dropgate/dropgate/utils"
)

type clientLimiter struct {
	limiter *rate.Limiter
	expires time.Time
	mu      sync.Mutex
}

var (
	limiters   = map[string]*clientLimiter{}
	limitersMu sync.Mutex
)

// RateLimitMiddleware applies a per-IP token bucket. The burst is the full
// per-minute quota: download clients that resume with ranged requests issue
// several hits back to back, and a half-sized bucket rejects them mid-file.
// Throttled requests get a Retry-After hint of one refill interval.
func RateLimitMiddleware() gin.HandlerFunc {
	cfg := config.Get()
	perMinute := max(cfg.RateLimitPerMinute, 1)
	interval := time.Minute / time.Duration(perMinute)
	r := rate.Every(interval)
	retryAfter := strconv.Itoa(int(interval.Seconds()) + 1)

	return func(ctx *gin.Context) {
		ip := ctx.ClientIP()
		limiter := getLimiter(ip, r, perMinute)

		limiter.mu.Lock()
		allowed := limiter.limiter.Allow()
		limiter.mu.Unlock()

		if !allowed {
			ctx.Header("Retry-After", retryAfter)
			utils.Error(ctx, http.StatusTooManyRequests, 42901, "rate limit exceeded")
			ctx.Abort()
			return
		}

		ctx.Next()
	}
}

func getLimiter(key string, limit rate.Limit, burst int) *clientLimiter {
	limitersMu.Lock()
	defer limitersMu.Unlock()

	cleanupExpiredLimitersLocked()

	if limiter, ok := limiters[key]; ok {
		limiter.expires = time.Now().Add(5 * time.Minute)
		return limiter
	}

	limiter := &clientLimiter{
		limiter: rate.NewLimiter(limit, burst),
		expires: time.Now().Add(5 * time.Minute),
	}
	limiters[key] = limiter
	return limiter
}

func cleanupExpiredLimitersLocked() {
	now := time.Now()
	for key, limiter := range limiters {
		if now.After(limiter.expires) {
			delete(limiters, key)
		}
	}
}
