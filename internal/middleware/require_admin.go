package middleware

import (
	"net/http"
	"slices"

	"marketplace_back_end/internal/models"

	"github.com/gin-gonic/gin"
)

// RequireAdmin vérifie que l'utilisateur a le rôle "admin"
func RequireAdmin(c *gin.Context) {
	if c.GetString(CtxRole) != models.RoleAdmin {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Accès réservé aux administrateurs", "code": "authorization"})
		return
	}
	c.Next()
}

// RequireRole laisse passer les rôles listés.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !slices.Contains(roles, c.GetString(CtxRole)) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Accès non autorisé", "code": "authorization"})
			return
		}
		c.Next()
	}
}
