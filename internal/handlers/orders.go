package handlers

import (
	"net/http"

	"marketplace_back_end/internal/middleware"
	"marketplace_back_end/internal/order"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

const HeaderIdempotencyKey = "Idempotency-Key"

// Checkout POST /api/checkout
// Crée la commande et l'intention de paiement. Un Idempotency-Key déjà vu
// renvoie la commande existante (200) au lieu d'en créer une autre (201).
func (h *Handlers) Checkout(c *gin.Context) {
	var req order.PlaceOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	req.IdempotencyKey = c.GetHeader(HeaderIdempotencyKey)

	p, err := h.Orders.PlaceOrder(c.Request.Context(), middleware.Identity(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	status := http.StatusCreated
	if p.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, p)
}

// GET /api/orders
func (h *Handlers) ListOrders(c *gin.Context) {
	orders, err := h.Orders.ListForBuyer(c.Request.Context(), c.GetString(middleware.CtxUserID))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders, "count": len(orders)})
}

// GET /api/orders/:id
func (h *Handlers) GetOrder(c *gin.Context) {
	view, err := h.Orders.Get(c.Request.Context(), middleware.Identity(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

// POST /api/orders/:id/cancel
func (h *Handlers) CancelOrder(c *gin.Context) {
	var req cancelRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	o, err := h.Orders.Cancel(c.Request.Context(), middleware.Identity(c), c.Param("id"), req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

// PUT /api/orders/:id/status
func (h *Handlers) UpdateOrderStatus(c *gin.Context) {
	var req order.StatusUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	o, err := h.Orders.UpdateStatus(c.Request.Context(), middleware.Identity(c), c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

type trackingRequest struct {
	TrackingNumber string `json:"tracking_number" binding:"required"`
	Carrier        string `json:"carrier" binding:"required"`
}

// PUT /api/orders/:id/tracking
func (h *Handlers) AddTracking(c *gin.Context) {
	var req trackingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	o, err := h.Orders.AddTracking(c.Request.Context(), middleware.Identity(c), c.Param("id"), req.TrackingNumber, req.Carrier)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

type refundRequest struct {
	Amount *decimal.Decimal `json:"amount"`
	Reason string           `json:"reason"`
}

// POST /api/admin/orders/:id/refund
func (h *Handlers) RefundOrder(c *gin.Context) {
	var req refundRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	o, err := h.Orders.Refund(c.Request.Context(), middleware.Identity(c), c.Param("id"), req.Amount, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

// GET /api/seller/stats
func (h *Handlers) SellerStats(c *gin.Context) {
	stats, err := h.Orders.SellerStats(c.Request.Context(), c.GetString(middleware.CtxUserID))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// GET /api/admin/buyers/:id/stats
func (h *Handlers) BuyerStats(c *gin.Context) {
	stats, err := h.Orders.BuyerStats(c.Request.Context(), middleware.Identity(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
