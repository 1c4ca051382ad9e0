package middleware

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/iam-api/internal/models"
	appErrors "github.com/noah-isme/iam-api/pkg/errors"
	"github.com/noah-isme/iam-api/pkg/response"
)

// SelfRole is the pseudo-role allowing a user to act on their own resource.
const SelfRole = "SELF"

// RBAC enforces role-based access control. A request passes when the claims
// carry any of the allowed role names, or when SELF is allowed and the :id
// path parameter matches the caller's subject.
func RBAC(allowed ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claimsValue, exists := c.Get(ContextUserKey)
		if !exists {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		claims := claimsValue.(*models.JWTClaims)

		allowSelf := false
		allowedRoles := make(map[string]struct{})
		for _, a := range allowed {
			if a == SelfRole {
				allowSelf = true
				continue
			}
			allowedRoles[a] = struct{}{}
		}

		for _, role := range claims.Roles {
			if _, ok := allowedRoles[role]; ok {
				c.Next()
				return
			}
		}

		if allowSelf {
			if targetID := c.Param("id"); targetID != "" {
				if id, err := strconv.ParseInt(targetID, 10, 64); err == nil {
					if subject, err := claims.UserID(); err == nil && subject == id {
						c.Next()
						return
					}
				}
			}
		}

		response.Error(c, appErrors.ErrForbidden)
		c.Abort()
	}
}
