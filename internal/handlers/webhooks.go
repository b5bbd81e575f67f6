package handlers

import (
	"net/http"

	"marketplace_back_end/internal/apperr"
	"marketplace_back_end/internal/logger"
	"marketplace_back_end/internal/middleware"
	"marketplace_back_end/internal/models"
	"marketplace_back_end/internal/webhook"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxWebhookBody = int64(65536)

// POST /api/webhooks/stripe
func (h *Handlers) StripeWebhook(c *gin.Context) { h.gatewayWebhook(c, models.GatewayStripe) }

// POST /api/webhooks/razorpay
func (h *Handlers) RazorpayWebhook(c *gin.Context) { h.gatewayWebhook(c, models.GatewayRazorpay) }

// gatewayWebhook lit le corps brut (la signature porte sur les octets exacts).
// 2xx une fois l'événement appliqué ou reconnu sans effet, 400 sur signature
// invalide, 5xx pour que la passerelle renvoie plus tard.
func (h *Handlers) gatewayWebhook(c *gin.Context, gateway string) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody)
	payload, err := c.GetRawData()
	if err != nil {
		logger.FromContext(c.Request.Context()).Warn("❌ Lecture payload échouée", zap.String("gateway", gateway), zap.Error(err))
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Échec lecture body", "code": "validation"})
		return
	}

	res, err := h.Webhooks.Handle(c.Request.Context(), gateway, payload, c.Request.Header)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindIntegrity {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": apperr.PublicMessage(err), "code": string(apperr.KindIntegrity)})
			return
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true, "outcome": res.Outcome, "event_id": res.EventID})
}

// POST /api/payments/razorpay/verify
func (h *Handlers) VerifyRazorpayPayment(c *gin.Context) {
	var req webhook.VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	o, err := h.Webhooks.Verify(c.Request.Context(), middleware.Identity(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"verified": true, "order": o})
}

// GET /ws/notifications
func (h *Handlers) Notifications(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserID)
	if err := h.Hub.Serve(c.Writer, c.Request, userID); err != nil {
		logger.FromContext(c.Request.Context()).Debug("⚠️ Websocket refusé", zap.String("user_id", userID), zap.Error(err))
	}
}
