// Package api wires the Gin HTTP routers for both the master and the
// secondary roles.
package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Logger is a Gin middleware that logs every request with method, path,
// status code, and latency via the structured logger.
func Logger(log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Infow("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"client_ip", c.ClientIP(),
			"status", c.Writer.Status(),
			"latency", time.Since(start),
		)
	}
}

// Recovery replaces Gin's default recovery: it logs panics through the
// structured logger instead of stderr and responds with a JSON 500.
func Recovery(log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Errorw("panic recovered", "err", err, "path", c.Request.URL.Path)
				c.AbortWithStatusJSON(500, gin.H{"error": "internal server error"})
			}
		}()
		c.Next()
	}
}
