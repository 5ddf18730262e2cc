package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const ctxClaims = "domainverify_claims"

// RequireToken returns a Gin middleware that enforces a valid Bearer token.
// The verified *Claims are stored in the context for ClaimsFromCtx.
func RequireToken(tokens *TokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Bearer token required",
			})
			return
		}

		claims, err := tokens.Verify(strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid token: " + err.Error(),
			})
			return
		}

		c.Set(ctxClaims, claims)
		c.Next()
	}
}

// RequireOrgAccess aborts with 403 unless the caller's token may manage the
// organization named by the given path parameter. It must run after
// RequireToken.
func RequireOrgAccess(param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := ClaimsFromCtx(c)
		orgID, err := uuid.Parse(c.Param(param))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid organization ID"})
			return
		}
		if claims == nil || !claims.CanManage(orgID) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "not allowed to manage this organization",
			})
			return
		}
		c.Next()
	}
}

// RequireAdmin aborts with 403 unless the caller holds the admin role. It must
// run after RequireToken.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := ClaimsFromCtx(c)
		if claims == nil || claims.Role != RoleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin role required"})
			return
		}
		c.Next()
	}
}

// ClaimsFromCtx returns the claims stored by RequireToken, or nil.
func ClaimsFromCtx(c *gin.Context) *Claims {
	v, _ := c.Get(ctxClaims)
	claims, _ := v.(*Claims)
	return claims
}

// UserIDFromCtx returns the caller's user ID if it is a UUID.
func UserIDFromCtx(c *gin.Context) *uuid.UUID {
	claims := ClaimsFromCtx(c)
	if claims == nil {
		return nil
	}
	id, err := uuid.Parse(claims.UserID)
	if err != nil {
		return nil
	}
	return &id
}
