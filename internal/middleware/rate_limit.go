package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Limites par endpoint
const (
	CheckoutMaxRequests = 10 // par minute et par utilisateur
	CartMaxRequests     = 20
	VerifyMaxRequests   = 10
	RateWindow          = time.Minute
)

// RateLimiter compte les requêtes dans Redis (INCR + EXPIRE). Sans client
// Redis (driver mémoire) il laisse tout passer.
type RateLimiter struct {
	rdb *redis.Client
	log *zap.Logger
}

func NewRateLimiter(rdb *redis.Client, log *zap.Logger) *RateLimiter {
	if log == nil {
		log = zap.NewNop()
	}
	return &RateLimiter{rdb: rdb, log: log}
}

// Limit borne le nombre de requêtes par utilisateur (ou IP à défaut) sur window.
func (rl *RateLimiter) Limit(name string, max int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl == nil || rl.rdb == nil {
			c.Next()
			return
		}

		who := c.GetString(CtxUserID)
		if who == "" {
			who = c.ClientIP()
		}
		key := fmt.Sprintf("rate:%s:%s", name, who)
		ctx := c.Request.Context()

		pipe := rl.rdb.TxPipeline()
		incr := pipe.Incr(ctx, key)
		pipe.ExpireNX(ctx, key, window)
		if _, err := pipe.Exec(ctx); err != nil {
			// Redis indisponible : on ne bloque pas le trafic.
			rl.log.Warn("⚠️ Rate limit indisponible", zap.String("key", key), zap.Error(err))
			c.Next()
			return
		}

		count := int(incr.Val())
		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", max))
		if count > max {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       fmt.Sprintf("Trop de requêtes. Réessayez dans %d secondes", int(window.Seconds())),
				"code":        "rate_limited",
				"retry_after": int(window.Seconds()),
			})
			return
		}
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", max-count))
		c.Next()
	}
}
