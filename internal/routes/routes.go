package routes

import (
	"time"

	"marketplace_back_end/internal/handlers"
	"marketplace_back_end/internal/metrics"
	"marketplace_back_end/internal/middleware"
	"marketplace_back_end/internal/models"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Options struct {
	Handlers       *handlers.Handlers
	Auth           *middleware.Auth
	RateLimiter    *middleware.RateLimiter
	Metrics        *metrics.Metrics
	Log            *zap.Logger
	AllowedOrigins []string
}

// NewRouter monte le moteur gin avec ses middlewares et toutes les routes.
func NewRouter(opts Options) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(opts.Log, opts.Metrics))
	r.Use(cors.New(corsConfig(opts.AllowedOrigins)))
	RegisterRoutes(r, opts)
	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", handlers.HeaderIdempotencyKey, middleware.HeaderRequestID},
		ExposeHeaders:    []string{middleware.HeaderRequestID},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
		cfg.AllowCredentials = false
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}

func RegisterRoutes(r *gin.Engine, opts Options) {
	h := opts.Handlers
	auth := opts.Auth.AuthRequired()
	rl := opts.RateLimiter

	r.GET("/health", handlers.Health)
	r.GET("/metrics", gin.WrapH(opts.Metrics.Handler()))

	api := r.Group("/api")
	{
		api.GET("/shipping/options", h.ShippingOptions)

		// Webhooks : authentifiés par la signature de la passerelle.
		api.POST("/webhooks/stripe", h.StripeWebhook)
		api.POST("/webhooks/razorpay", h.RazorpayWebhook)
	}

	user := api.Group("", auth)
	{
		user.GET("/cart", h.GetCart)
		user.POST("/cart/items", rl.Limit("cart", middleware.CartMaxRequests, middleware.RateWindow), h.AddCartItem)
		user.DELETE("/cart/items/:productId", h.RemoveCartItem)
		user.DELETE("/cart", h.ClearCart)

		user.GET("/coupons/validate", h.ValidateCoupon)
		user.POST("/checkout", rl.Limit("checkout", middleware.CheckoutMaxRequests, middleware.RateWindow), h.Checkout)
		user.POST("/payments/razorpay/verify", rl.Limit("verify", middleware.VerifyMaxRequests, middleware.RateWindow), h.VerifyRazorpayPayment)

		user.GET("/orders", h.ListOrders)
		user.GET("/orders/:id", h.GetOrder)
		user.POST("/orders/:id/cancel", h.CancelOrder)
		user.GET("/seller/stats", h.SellerStats)
	}

	seller := api.Group("/orders", auth, middleware.RequireRole(models.RoleSeller, models.RoleAdmin))
	{
		seller.PUT("/:id/status", h.UpdateOrderStatus)
		seller.PUT("/:id/tracking", h.AddTracking)
	}

	admin := api.Group("/admin", auth, middleware.RequireAdmin)
	{
		admin.POST("/coupons", h.CreateCoupon)
		admin.GET("/coupons/:code", h.GetCoupon)
		admin.POST("/orders/:id/refund", h.RefundOrder)
		admin.GET("/buyers/:id/stats", h.BuyerStats)
	}

	r.GET("/ws/notifications", auth, h.Notifications)
}
