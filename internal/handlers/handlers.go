// Package handlers expose les moteurs de commande, panier, coupons et
// réconciliation sur HTTP (gin).
package handlers

import (
	"net/http"

	"marketplace_back_end/internal/apperr"
	"marketplace_back_end/internal/cart"
	"marketplace_back_end/internal/discount"
	"marketplace_back_end/internal/logger"
	"marketplace_back_end/internal/notify"
	"marketplace_back_end/internal/order"
	"marketplace_back_end/internal/webhook"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Handlers struct {
	Orders    *order.Engine
	Discounts *discount.Engine
	Carts     *cart.Service
	Webhooks  *webhook.Reconciler
	Hub       *notify.Hub
}

// respondError traduit une erreur apperr en statut HTTP et {"error","code"}.
// Les erreurs internes sont journalisées; leur cause n'est jamais renvoyée.
func respondError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind)
	if status >= http.StatusInternalServerError {
		logger.FromContext(c.Request.Context()).Error("❌ Erreur serveur",
			zap.String("route", c.FullPath()), zap.String("kind", string(kind)), zap.Error(err))
	}
	c.AbortWithStatusJSON(status, gin.H{"error": apperr.PublicMessage(err), "code": string(kind)})
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
		"error":   "Données invalides",
		"code":    string(apperr.KindValidation),
		"details": err.Error(),
	})
}

// Health GET /health
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
