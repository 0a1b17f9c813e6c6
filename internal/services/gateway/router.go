package gateway

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"restaurant-pos/internal/logger"
	"restaurant-pos/internal/middleware"
	"restaurant-pos/internal/session"
)

// BreakerReporter exposes the order service circuit breaker state
type BreakerReporter interface {
	BreakerState() string
}

// NewRouter wires the waiter routes. idem may be nil, which disables
// idempotency keys.
func NewRouter(h *Handler, log *logger.Logger, idem middleware.IdempotencyStore, breaker BreakerReporter) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.Metrics(), middleware.RequestLogging(log))

	r.GET("/health", h.health(breaker))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	once := middleware.Idempotency(idem, log)

	sessions := r.Group("/sessions")
	{
		sessions.POST("", h.OpenSession)
		sessions.GET("/:orderId", h.GetSession)
		sessions.DELETE("/:orderId", h.CloseSession)
		sessions.GET("/:orderId/logs", h.GetLogs)
	}

	writes := sessions.Group("/:orderId", RequireUser())
	{
		writes.PUT("/pending", h.SetPending)
		writes.PATCH("/items/:itemId", h.ChangeItemQuantity)
		writes.DELETE("/items/:itemId", h.RemoveItem)
		writes.POST("/items/:itemId/refund", once, h.RefundItem)

		writes.POST("/customer", h.ApplyCustomer)
		writes.DELETE("/customer", h.RemoveCustomer)
		writes.POST("/promo", once, h.ApplyPromo)
		writes.DELETE("/discount", h.RemoveDiscount)
		writes.POST("/points", once, h.ApplyPoints)
		writes.DELETE("/points", h.RemovePoints)

		writes.POST("/confirm", once, h.lifecycle((*session.Session).ConfirmOrder))
		writes.POST("/ready", h.lifecycle((*session.Session).MarkReady))
		writes.POST("/deliver", h.lifecycle((*session.Session).StartDelivery))
		writes.POST("/complete", once, h.lifecycle((*session.Session).CompleteOrder))
		writes.POST("/cancel", once, h.lifecycle((*session.Session).CancelOrder))

		writes.PUT("/precheck", h.SetPrecheck)
		writes.POST("/reorder/ack", h.AcknowledgeReorder)
	}

	return r
}

// health handles GET /health. The gateway is unhealthy while the order
// service breaker is open.
func (h *Handler) health(breaker BreakerReporter) gin.HandlerFunc {
	return func(c *gin.Context) {
		response := gin.H{
			"status":    "ok",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"service":   "waiter-gateway",
			"sessions":  h.sessions.Len(),
		}

		status := http.StatusOK
		if breaker != nil {
			state := breaker.BreakerState()
			response["order_api"] = state
			if state == "open" {
				response["status"] = "unhealthy"
				status = http.StatusServiceUnavailable
			}
		}
		c.JSON(status, response)
	}
}
