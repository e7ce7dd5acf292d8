package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"voice-recorder/pkg/logger"
	"voice-recorder/pkg/utils"
)

const authorizationHeader = "Authorization"
const bearerPrefix = "Bearer "

// RequireAdminToken verifies an admin token and injects identity into request context.
// It does not perform RBAC checks; those belong to internal/rbac.
func RequireAdminToken(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(authorizationHeader))
		if raw == "" || !strings.HasPrefix(raw, bearerPrefix) {
			utils.AbortWithError(c, http.StatusUnauthorized, "unauthorized", "missing bearer token", nil)
			return
		}
		tok := strings.TrimPrefix(raw, bearerPrefix)

		claims, err := m.Verify(tok, time.Now())
		if err != nil {
			logger.FromGin(c).Warn("admin_token_rejected", "err", err)
			utils.AbortWithError(c, http.StatusUnauthorized, "unauthorized", "invalid token", nil)
			return
		}

		ctx := WithIdentity(c.Request.Context(), claims.Subject, claims.Role)
		c.Request = c.Request.WithContext(ctx)

		// Also store on gin context for handler convenience.
		c.Set("subject", claims.Subject)
		c.Set("role", claims.Role)

		c.Next()
	}
}
