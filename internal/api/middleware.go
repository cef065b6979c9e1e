package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/passgate/internal/access"
	"github.com/your-org/passgate/internal/apperr"
	"github.com/your-org/passgate/internal/auth"
	"github.com/your-org/passgate/internal/observability"
	"github.com/your-org/passgate/pkg/dto"
)

// LoggingMiddleware logs each request with slog.
func LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start)
		status := c.Writer.Status()
		// Route templates keep label cardinality bounded.
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		slog.Info("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"duration", duration.String(),
			"ip", c.ClientIP(),
			"actor", auth.ActorFrom(c).Subject,
		)

		observability.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			route,
			strconv.Itoa(status),
		).Observe(duration.Seconds())
	}
}

// RequireCapability rejects callers without need before the handler runs.
func RequireCapability(policy *access.Policy, need access.Capability) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := policy.Require(auth.ActorFrom(c), need); err != nil {
			status := http.StatusForbidden
			if errors.Is(err, apperr.ErrUnauthenticated) {
				status = http.StatusUnauthorized
			}
			c.AbortWithStatusJSON(status, dto.ErrorResponse{Error: err.Error(), Kind: apperr.Kind(err)})
			return
		}
		c.Next()
	}
}
