package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const userIDKey = "user_id"

// userIdentity resolves the caller from the X-User-ID header or the userId query parameter.
// Authentication happens upstream; the id is opaque here.
func userIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader("X-User-ID"))
		if userID == "" {
			userID = strings.TrimSpace(c.Query("userId"))
		}
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Message: "missing user id", Code: "unauthenticated"})
			return
		}
		c.Set(userIDKey, userID)
		c.Next()
	}
}

func currentUser(c *gin.Context) string {
	return c.GetString(userIDKey)
}

// requestLogger logs one line per request.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if userID := currentUser(c); userID != "" {
			fields = append(fields, zap.String("user_id", userID))
		}
		if requestID := c.GetHeader("X-Request-ID"); requestID != "" {
			fields = append(fields, zap.String("request_id", requestID))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		switch status := c.Writer.Status(); {
		case status >= http.StatusInternalServerError:
			logger.Error("request", fields...)
		case status >= http.StatusBadRequest:
			logger.Warn("request", fields...)
		default:
			logger.Info("request", fields...)
		}
	}
}

// recovery turns panics into a 500 and logs them.
func recovery(logger *zap.Logger) gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, recovered any) {
		logger.Error("panic recovered", zap.Any("panic", recovered), zap.String("path", c.Request.URL.Path))
		c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{Message: "internal error", Code: "internal"})
	})
}
