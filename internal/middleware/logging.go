package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"restaurant-pos/internal/logger"
)

// RequestIDHeader carries the request id in and out of every service
const RequestIDHeader = "X-Request-Id"

// RequestLogging tags each request with an id, stores it in the request
// context and logs the outcome.
func RequestLogging(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = logger.GenerateRequestID()
		}
		c.Header(RequestIDHeader, requestID)
		c.Request = c.Request.WithContext(logger.WithRequestID(c.Request.Context(), requestID))

		c.Next()

		status := c.Writer.Status()
		fields := map[string]interface{}{
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"route":       c.FullPath(),
			"status_code": status,
			"duration_ms": time.Since(start).Milliseconds(),
			"remote_addr": c.ClientIP(),
		}
		var err error
		if last := c.Errors.Last(); last != nil {
			err = last
			fields["errors"] = c.Errors.String()
		}

		msg := fmt.Sprintf("%s %s - %d", c.Request.Method, c.Request.URL.Path, status)
		switch {
		case status >= http.StatusInternalServerError:
			log.Error("request_failed", msg, requestID, err, fields)
		case status >= http.StatusBadRequest:
			log.Warn("request_rejected", msg, requestID, fields)
		default:
			log.Debug("request_completed", msg, requestID, fields)
		}
	}
}
