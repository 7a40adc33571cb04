package server

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	applogger "github.com/matinoplay/billing/internal/logger"
)

func requestLogger(base *zap.Logger) gin.HandlerFunc {
	log := base.Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		reqLog := applogger.WithContext(c.Request.Context(), log)
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
			reqLog.Warn("request failed", fields...)
			return
		}
		reqLog.Info("request", fields...)
	}
}

// CallbackRateLimit throttles partner callbacks per source address. A full
// bucket answers with the reject ack rather than an HTTP error so the
// partner treats it like any other failed charge.
func (s *Server) CallbackRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter == nil {
			c.Next()
			return
		}
		if !s.limiter.Allow(c.Request.Context(), c.ClientIP()) {
			s.log.Warn("callback rate limited", zap.String("client_ip", c.ClientIP()))
			s.ack(c, "1")
			c.Abort()
			return
		}
		c.Next()
	}
}
