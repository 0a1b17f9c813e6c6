package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"restaurant-pos/internal/logger"
	"restaurant-pos/internal/session"
)

// UserIDHeader identifies the waiter acting on a session
const UserIDHeader = "X-User-Id"

const requestTimeout = 30 * time.Second

// Handler exposes order sessions to the waiter UI
type Handler struct {
	sessions *session.Manager
	logger   *logger.Logger
}

// NewHandler creates a new gateway handler
func NewHandler(sessions *session.Manager, log *logger.Logger) *Handler {
	return &Handler{
		sessions: sessions,
		logger:   log,
	}
}

type openSessionRequest struct {
	OrderID string `json:"orderId" binding:"required"`
}

type quantityRequest struct {
	Quantity *int `json:"quantity" binding:"required"`
}

type refundRequest struct {
	Reason   string `json:"reason"`
	Quantity int    `json:"quantity"`
}

type codeRequest struct {
	Code string `json:"code"`
}

type pointsRequest struct {
	Points decimal.Decimal `json:"points"`
}

type flagRequest struct {
	Value *bool `json:"value" binding:"required"`
}

// OpenSession handles POST /sessions
func (h *Handler) OpenSession(c *gin.Context) {
	var req openSessionRequest
	if !h.bind(c, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	s, err := h.sessions.Open(ctx, req.OrderID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.View())
}

// GetSession handles GET /sessions/:orderId, re-fetching the order first
func (h *Handler) GetSession(c *gin.Context) {
	h.withSession(c, func(ctx context.Context, s *session.Session, _ string) error {
		return s.Refresh(ctx)
	})
}

// CloseSession handles DELETE /sessions/:orderId
func (h *Handler) CloseSession(c *gin.Context) {
	if !h.sessions.Close(c.Param("orderId")) {
		h.writeError(c, &session.Error{Kind: session.KindNotFound, Key: session.MsgOrderNotLoaded})
		return
	}
	c.Status(http.StatusNoContent)
}

// SetPending handles PUT /sessions/:orderId/pending
func (h *Handler) SetPending(c *gin.Context) {
	var req session.PendingRequest
	if !h.bind(c, &req) {
		return
	}
	h.withSession(c, func(ctx context.Context, s *session.Session, _ string) error {
		return s.SetPendingQuantity(ctx, req)
	})
}

// ChangeItemQuantity handles PATCH /sessions/:orderId/items/:itemId
func (h *Handler) ChangeItemQuantity(c *gin.Context) {
	var req quantityRequest
	if !h.bind(c, &req) {
		return
	}
	h.withSession(c, func(ctx context.Context, s *session.Session, userID string) error {
		return s.ChangeItemQuantity(ctx, userID, c.Param("itemId"), *req.Quantity)
	})
}

// RemoveItem handles DELETE /sessions/:orderId/items/:itemId
func (h *Handler) RemoveItem(c *gin.Context) {
	h.withSession(c, func(ctx context.Context, s *session.Session, userID string) error {
		return s.RemoveItem(ctx, userID, c.Param("itemId"))
	})
}

// RefundItem handles POST /sessions/:orderId/items/:itemId/refund
func (h *Handler) RefundItem(c *gin.Context) {
	var req refundRequest
	if !h.bind(c, &req) {
		return
	}
	h.withSession(c, func(ctx context.Context, s *session.Session, userID string) error {
		return s.RefundItem(ctx, userID, c.Param("itemId"), req.Reason, req.Quantity)
	})
}

// ApplyCustomer handles POST /sessions/:orderId/customer
func (h *Handler) ApplyCustomer(c *gin.Context) {
	var req codeRequest
	if !h.bind(c, &req) {
		return
	}
	h.withSession(c, func(ctx context.Context, s *session.Session, userID string) error {
		return s.ApplyCustomer(ctx, userID, req.Code)
	})
}

// RemoveCustomer handles DELETE /sessions/:orderId/customer
func (h *Handler) RemoveCustomer(c *gin.Context) {
	h.withSession(c, func(ctx context.Context, s *session.Session, userID string) error {
		return s.RemoveCustomer(ctx, userID)
	})
}

// ApplyPromo handles POST /sessions/:orderId/promo
func (h *Handler) ApplyPromo(c *gin.Context) {
	var req codeRequest
	if !h.bind(c, &req) {
		return
	}
	h.withSession(c, func(ctx context.Context, s *session.Session, userID string) error {
		return s.ApplyPromoCode(ctx, userID, req.Code)
	})
}

// RemoveDiscount handles DELETE /sessions/:orderId/discount
func (h *Handler) RemoveDiscount(c *gin.Context) {
	h.withSession(c, func(ctx context.Context, s *session.Session, userID string) error {
		return s.RemoveDiscount(ctx, userID)
	})
}

// ApplyPoints handles POST /sessions/:orderId/points
func (h *Handler) ApplyPoints(c *gin.Context) {
	var req pointsRequest
	if !h.bind(c, &req) {
		return
	}
	h.withSession(c, func(ctx context.Context, s *session.Session, userID string) error {
		return s.ApplyPoints(ctx, userID, req.Points)
	})
}

// RemovePoints handles DELETE /sessions/:orderId/points
func (h *Handler) RemovePoints(c *gin.Context) {
	h.withSession(c, func(ctx context.Context, s *session.Session, userID string) error {
		return s.RemovePoints(ctx, userID)
	})
}

// lifecycle adapts a session status operation to a handler
func (h *Handler) lifecycle(op func(*session.Session, context.Context, string) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		h.withSession(c, func(ctx context.Context, s *session.Session, userID string) error {
			return op(s, ctx, userID)
		})
	}
}

// SetPrecheck handles PUT /sessions/:orderId/precheck
func (h *Handler) SetPrecheck(c *gin.Context) {
	var req flagRequest
	if !h.bind(c, &req) {
		return
	}
	h.withSession(c, func(ctx context.Context, s *session.Session, userID string) error {
		return s.SetPrecheck(ctx, userID, *req.Value)
	})
}

// AcknowledgeReorder handles POST /sessions/:orderId/reorder/ack
func (h *Handler) AcknowledgeReorder(c *gin.Context) {
	h.withSession(c, func(ctx context.Context, s *session.Session, userID string) error {
		return s.AcknowledgeReorder(ctx, userID)
	})
}

// GetLogs handles GET /sessions/:orderId/logs
func (h *Handler) GetLogs(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	s, err := h.sessions.Open(ctx, c.Param("orderId"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	logs, err := s.Logs(ctx)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

// withSession opens the session named in the path, runs op and answers with
// the resulting view.
func (h *Handler) withSession(c *gin.Context, op func(ctx context.Context, s *session.Session, userID string) error) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	s, err := h.sessions.Open(ctx, c.Param("orderId"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	if err := op(ctx, s, c.GetHeader(UserIDHeader)); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.View())
}

func (h *Handler) bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "errors.badRequest",
			"message": err.Error(),
		})
		return false
	}
	return true
}

// statusFor maps a session error kind to the HTTP status the UI expects
func statusFor(kind session.ErrorKind) int {
	switch kind {
	case session.KindValidation:
		return http.StatusBadRequest
	case session.KindNotFound:
		return http.StatusNotFound
	case session.KindConflict:
		return http.StatusConflict
	case session.KindPaymentRequired:
		return http.StatusPaymentRequired
	case session.KindUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(c *gin.Context, err error) {
	_ = c.Error(err)

	var se *session.Error
	if !errors.As(err, &se) {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "errors.internal",
			"message": "internal server error",
		})
		return
	}

	body := gin.H{
		"error":   se.Key,
		"message": se.Error(),
	}
	if len(se.Params) > 0 {
		body["params"] = se.Params
	}
	c.JSON(statusFor(se.Kind), body)
}

// RequireUser rejects writes that do not name the acting waiter
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader(UserIDHeader) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "errors.userRequired",
				"message": UserIDHeader + " header is required",
			})
			return
		}
		c.Next()
	}
}
