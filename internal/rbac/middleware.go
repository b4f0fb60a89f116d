package rbac

import (
	"net/http"

	"callsync/internal/auth"

	"github.com/gin-gonic/gin"
)

// RequireAnyScope allows access if the caller's token satisfies any of the
// provided scopes. Chain it after auth.RequireOperatorToken.
// Rules:
// - admin bypasses all checks
// - sync implies read
func RequireAnyScope(allowed ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := auth.Operator(c.Request.Context()); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "operator required"})
			return
		}
		scope, err := auth.Scope(c.Request.Context())
		if err != nil || scope == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "scope required"})
			return
		}

		for _, want := range allowed {
			if Allows(scope, want) {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	}
}
