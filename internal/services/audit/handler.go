package audit

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"restaurant-pos/internal/logger"
	"restaurant-pos/internal/middleware"
)

// Pinger reports whether the journal database is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves the journal read-back API
type Handler struct {
	store  EventStore
	db     Pinger
	logger *logger.Logger
}

func NewHandler(store EventStore, db Pinger, log *logger.Logger) *Handler {
	return &Handler{store: store, db: db, logger: log}
}

// NewRouter wires the audit routes
func NewRouter(h *Handler, log *logger.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.Metrics(), middleware.RequestLogging(log))

	r.GET("/health", h.HealthCheck)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/orders/:orderId/events", h.GetOrderEvents)
	return r
}

// GetOrderEvents handles GET /orders/:orderId/events
func (h *Handler) GetOrderEvents(c *gin.Context) {
	orderID := c.Param("orderId")
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	events, err := h.store.EventsByOrder(ctx, orderID)
	if err != nil {
		_ = c.Error(err)
		h.logger.Error("db_query_failed", "Failed to get order events", logger.RequestID(ctx), err, map[string]interface{}{
			"order_id": orderID,
		})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "errors.internal", "message": "internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"orderId": orderID,
		"events":  events,
	})
}

// HealthCheck handles GET /health
func (h *Handler) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy := h.db == nil || h.db.Ping(ctx) == nil
	response := gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"service":   "audit-subscriber",
		"healthy":   healthy,
	}

	if !healthy {
		response["status"] = "unhealthy"
		c.JSON(http.StatusServiceUnavailable, response)
		return
	}
	c.JSON(http.StatusOK, response)
}
