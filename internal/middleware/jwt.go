package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/teamloop/backend/internal/auth"
	"github.com/teamloop/backend/pkg/response"
)

const (
	// ContextUserID is the key for the authenticated user ID in gin context.
	ContextUserID = "user_id"
	// ContextOrgID is the key for the caller's organization ID in gin context.
	ContextOrgID = "org_id"
	// ContextUserRole is the key for the caller's role in gin context.
	ContextUserRole = "user_role"
)

// JWT returns a middleware that verifies the access token and sets the
// caller's identity in context. Every verification failure maps to the
// same 401; the middleware never reveals which check failed.
func JWT(tokens *auth.TokenService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Unauthorized(c, "missing authorization header")
			c.Abort()
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			response.Unauthorized(c, "invalid authorization header")
			c.Abort()
			return
		}
		claims, err := tokens.VerifyAccessToken(parts[1])
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}
		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextOrgID, claims.OrganizationID)
		c.Set(ContextUserRole, claims.Role)
		c.Next()
	}
}
