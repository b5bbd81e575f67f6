package handlers

import (
	"net/http"

	"marketplace_back_end/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// 🟢 GET /api/cart
func (h *Handlers) GetCart(c *gin.Context) {
	view, err := h.Carts.Get(c.Request.Context(), c.GetString(middleware.CtxUserID))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

type addItemRequest struct {
	ProductID string `json:"product_id" binding:"required"`
	Quantity  int    `json:"quantity" binding:"required,gt=0"`
}

// 🟢 POST /api/cart/items
func (h *Handlers) AddCartItem(c *gin.Context) {
	var req addItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	view, err := h.Carts.AddItem(c.Request.Context(), c.GetString(middleware.CtxUserID), req.ProductID, req.Quantity)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// 🟢 DELETE /api/cart/items/:productId
func (h *Handlers) RemoveCartItem(c *gin.Context) {
	view, err := h.Carts.RemoveItem(c.Request.Context(), c.GetString(middleware.CtxUserID), c.Param("productId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// 🟢 DELETE /api/cart
func (h *Handlers) ClearCart(c *gin.Context) {
	if err := h.Carts.Clear(c.Request.Context(), c.GetString(middleware.CtxUserID)); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Panier vidé"})
}

// GET /api/shipping/options?cart_total=
func (h *Handlers) ShippingOptions(c *gin.Context) {
	total := decimal.Zero
	if raw := c.Query("cart_total"); raw != "" {
		v, err := decimal.NewFromString(raw)
		if err != nil || v.IsNegative() {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "cart_total invalide", "code": "validation"})
			return
		}
		total = v
	}
	c.JSON(http.StatusOK, h.Orders.Pricing().ShippingOptions(total))
}
