package middleware

import (
	"time"

	"marketplace_back_end/internal/logger"
	"marketplace_back_end/internal/metrics"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const HeaderRequestID = "X-Request-ID"

// RequestLogger attache un logger par requête au contexte, journalise la
// réponse et alimente l'histogramme HTTP.
func RequestLogger(log *zap.Logger, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		reqID := c.GetHeader(HeaderRequestID)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Header(HeaderRequestID, reqID)

		reqLog := log.With(zap.String("request_id", reqID))
		c.Request = c.Request.WithContext(logger.WithContext(c.Request.Context(), reqLog))

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		elapsed := time.Since(start)
		m.ObserveHTTP(c.Request.Method, route, status, elapsed)

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("duration", elapsed),
			zap.String("user_id", c.GetString(CtxUserID)),
		}
		switch {
		case status >= 500:
			reqLog.Error("❌ Requête en erreur", fields...)
		case status >= 400:
			reqLog.Info("⚠️ Requête refusée", fields...)
		default:
			reqLog.Debug("✅ Requête traitée", fields...)
		}
	}
}
