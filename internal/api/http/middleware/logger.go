package middleware

import (
	"log/slog"
	"strings"
	"time"

	"github.com/EternisAI/silo-fleet/internal/metrics"
	"github.com/gin-gonic/gin"
)

// RequestLogger logs every request once it completes and records it in the
// HTTP metrics. Agent polling routes log at debug level to keep the default
// output readable.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		elapsed := time.Since(start)
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := c.Writer.Status()
		metrics.ObserveHTTPRequest(c.Request.Method, path, status, elapsed)

		attrs := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"duration", elapsed,
			"client_ip", c.ClientIP(),
		}
		if agentID := c.GetString(KeyAgentID); agentID != "" {
			attrs = append(attrs, "agent_id", agentID)
		}

		switch {
		case status >= 500:
			slog.Error("HTTP request", attrs...)
		case status >= 400:
			slog.Warn("HTTP request", attrs...)
		case strings.HasPrefix(path, "/agent/"), path == "/health", path == "/metrics":
			slog.Debug("HTTP request", attrs...)
		default:
			slog.Info("HTTP request", attrs...)
		}
	}
}
