package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/ronitlabs/talktime/internal/auth/domain"
)

const (
	ctxEmailKey = "auth.email"
	ctxScopeKey = "auth.scope"
)

// RequireUser authenticates the bearer token and stashes the caller's
// email in the request context.
func RequireUser(svc domain.Service) gin.HandlerFunc {
	return requireScope(svc, domain.ScopeUser)
}

// RequireAdmin accepts only admin-scoped tokens.
func RequireAdmin(svc domain.Service) gin.HandlerFunc {
	return requireScope(svc, domain.ScopeAdmin)
}

func requireScope(svc domain.Service, scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader("Authorization"))
		token, ok := strings.CutPrefix(raw, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing_token"})
			return
		}

		claims, err := svc.VerifyToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token"})
			return
		}
		// Admin tokens pass user-scoped checks but not the other way round.
		if scope == domain.ScopeAdmin && claims.Scope != domain.ScopeAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}

		c.Set(ctxEmailKey, claims.Email)
		c.Set(ctxScopeKey, claims.Scope)
		c.Next()
	}
}

// CallerEmail returns the authenticated email for the request, if any.
func CallerEmail(c *gin.Context) (string, bool) {
	email := c.GetString(ctxEmailKey)
	return email, email != ""
}
