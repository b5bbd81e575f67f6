package handlers

import (
	"net/http"
	"strings"

	"marketplace_back_end/internal/middleware"
	"marketplace_back_end/internal/models"

	"github.com/gin-gonic/gin"
)

// GET /api/coupons/validate?code=
// Chiffre le coupon contre le panier courant sans le consommer.
func (h *Handlers) ValidateCoupon(c *gin.Context) {
	code := strings.TrimSpace(c.Query("code"))
	if code == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Code coupon requis", "code": "validation"})
		return
	}
	v, err := h.Orders.PreviewCoupon(c.Request.Context(), middleware.Identity(c), code)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true, "coupon": v})
}

// POST /api/admin/coupons
func (h *Handlers) CreateCoupon(c *gin.Context) {
	var coupon models.Coupon
	if err := c.ShouldBindJSON(&coupon); err != nil {
		badRequest(c, err)
		return
	}
	coupon.CreatedBy = c.GetString(middleware.CtxUserID)

	if err := h.Discounts.CreateCoupon(c.Request.Context(), &coupon); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, coupon)
}

// GET /api/admin/coupons/:code
func (h *Handlers) GetCoupon(c *gin.Context) {
	coupon, err := h.Discounts.Get(c.Request.Context(), models.NormalizeCouponCode(c.Param("code")))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, coupon)
}
