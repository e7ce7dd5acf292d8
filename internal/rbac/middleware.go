package rbac

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"voice-recorder/internal/auth"
	"voice-recorder/pkg/utils"
)

// RequireAnyRole allows access if the caller has any of the provided roles.
// Rules:
// - admin bypasses all checks
// - unknown roles are denied even when listed
func RequireAnyRole(allowed ...string) gin.HandlerFunc {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, r := range allowed {
		allowedSet[r] = struct{}{}
	}

	return func(c *gin.Context) {
		role, err := auth.Role(c.Request.Context())
		if err != nil || role == "" {
			utils.AbortWithError(c, http.StatusUnauthorized, "unauthorized", "role required", nil)
			return
		}

		if IsAdmin(role) {
			c.Next()
			return
		}

		if _, ok := allowedSet[role]; !ok || !IsKnownRole(role) {
			utils.AbortWithError(c, http.StatusForbidden, "forbidden", "forbidden", nil)
			return
		}
		c.Next()
	}
}
