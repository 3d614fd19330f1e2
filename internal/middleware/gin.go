package middleware

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/quotaflow/quotaflow/internal/limiter"
)

// Gin adapts the same verdict translation for gin applications. Without a
// custom KeyFn it uses gin's ClientIP, which already honors trusted proxy
// headers, so TrustProxyHeaders is ignored here.
func Gin(l *limiter.Limiter, logger *zap.Logger, opts Options) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *gin.Context) {
		var identifier string
		if opts.KeyFn != nil {
			identifier = opts.KeyFn(c.Request)
		} else {
			identifier = c.ClientIP()
		}
		if identifier == "" {
			identifier = "unknown"
		}
		if opts.ScopeByPath {
			identifier = c.Request.URL.Path + ":" + identifier
		}

		verdict, err := l.Check(c.Request.Context(), identifier, opts.MaxRequests, opts.WindowSeconds)
		if err != nil {
			logger.Error("rate limit check failed",
				zap.String("identifier", identifier),
				zap.String("path", c.Request.URL.Path),
				zap.Error(err),
			)
			if opts.FailOpen {
				c.Next()
				return
			}
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error": "rate limiter unavailable",
			})
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(verdict.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(verdict.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(verdict.Reset, 10))

		if !verdict.Allowed {
			logger.Warn("rate limit exceeded",
				zap.String("identifier", identifier),
				zap.String("path", c.Request.URL.Path),
			)
			c.Header("Retry-After", strconv.Itoa(verdict.RetryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Rate limit exceeded",
				"message":     "Too many requests. Please try again later.",
				"limit":       verdict.Limit,
				"reset":       verdict.Reset,
				"retry_after": verdict.RetryAfter,
			})
			return
		}

		c.Next()
	}
}
