package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/iam-api/internal/middleware"
	"github.com/noah-isme/iam-api/internal/models"
)

// currentClaims extracts the authenticated claims from the gin context.
func currentClaims(c *gin.Context) (*models.JWTClaims, bool) {
	value, ok := c.Get(middleware.ContextUserKey)
	if !ok {
		return nil, false
	}
	claims, ok := value.(*models.JWTClaims)
	return claims, ok
}

// currentUserID extracts the numeric subject of the authenticated caller.
func currentUserID(c *gin.Context) (int64, bool) {
	claims, ok := currentClaims(c)
	if !ok {
		return 0, false
	}
	id, err := claims.UserID()
	if err != nil {
		return 0, false
	}
	return id, true
}
