package ginserver

import (
	"log/slog"
	"net/http"

	gin "github.com/gin-gonic/gin"

	"findit/internal/infra/ratelimit"
)

// RateLimit applies a per-caller window. Anonymous callers are keyed by client IP and
// limiter failures let the request through.
func RateLimit(limiter ratelimit.Limiter, scope string, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}
		key := scope + ":ip:" + c.ClientIP()
		if p, ok := currentPrincipal(c); ok {
			key = scope + ":user:" + p.ID
		}
		allowed, err := limiter.Allow(c.Request.Context(), key)
		if err != nil {
			if logger != nil {
				logger.Warn("rate limiter unavailable", "scope", scope, "error", err)
			}
			c.Next()
			return
		}
		if !allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limited"})
			return
		}
		c.Next()
	}
}
