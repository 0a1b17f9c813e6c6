package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"restaurant-pos/internal/logger"
)

// IdempotencyHeader names the client supplied key of a write request
const IdempotencyHeader = "X-Idempotency-Key"

// IdempotencyStore claims request keys for a limited time
type IdempotencyStore interface {
	TryLock(ctx context.Context, scope, key string) (bool, error)
	Release(ctx context.Context, scope, key string) error
}

// Idempotency rejects a repeated X-Idempotency-Key on the same route and
// resource with 409. A failed request releases its key so the waiter can
// retry. Requests without the header pass through, and so does everything
// when the store is unreachable.
func Idempotency(store IdempotencyStore, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(IdempotencyHeader)
		if store == nil || key == "" {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		requestID := logger.RequestID(ctx)
		scope := c.Request.Method + " " + c.Request.URL.Path

		locked, err := store.TryLock(ctx, scope, key)
		if err != nil {
			log.Warn("idempotency_unavailable", "Idempotency store unavailable, continuing without it", requestID, map[string]interface{}{
				"scope": scope,
				"error": err.Error(),
			})
			c.Next()
			return
		}
		if !locked {
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{
				"error":   "errors.duplicateRequest",
				"message": "request with this idempotency key was already submitted",
			})
			return
		}

		c.Next()

		if c.Writer.Status() >= http.StatusBadRequest {
			if err := store.Release(context.WithoutCancel(ctx), scope, key); err != nil {
				log.Warn("idempotency_release_failed", "Failed to release idempotency key", requestID, map[string]interface{}{
					"scope": scope,
					"error": err.Error(),
				})
			}
		}
	}
}
