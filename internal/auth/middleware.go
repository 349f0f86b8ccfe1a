package auth

import (
	"net/http"
	"strings"

	"github.com/KevinKickass/OpenMachineSim/internal/types"
	"github.com/gin-gonic/gin"
)

const permissionsKey = "permissions"

// AuthMiddleware validates bearer tokens and stores the granted
// permissions in the gin context.
func (s *Service) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				types.NewErrorResponse("UNAUTHORIZED", "missing authorization header", nil))
			return
		}

		// Extract token from "Bearer <token>"
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				types.NewErrorResponse("UNAUTHORIZED", "invalid authorization header format", nil))
			return
		}

		permissions, err := s.ValidateToken(parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				types.NewErrorResponse("UNAUTHORIZED", "invalid or expired token", nil))
			return
		}

		c.Set(permissionsKey, permissions)
		c.Next()
	}
}

// RequirePermission checks if the caller has the required permission
func RequirePermission(required Permission) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !HasPermission(c, required) {
			c.AbortWithStatusJSON(http.StatusForbidden,
				types.NewErrorResponse("FORBIDDEN", "insufficient permissions",
					map[string]string{"required": string(required)}))
			return
		}
		c.Next()
	}
}

// HasPermission reports whether the request carries perm.
func HasPermission(c *gin.Context, perm Permission) bool {
	perms, ok := c.Get(permissionsKey)
	if !ok {
		return false
	}
	for _, p := range perms.([]Permission) {
		if p == perm {
			return true
		}
	}
	return false
}
