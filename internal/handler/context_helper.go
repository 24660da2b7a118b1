package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-classwall/internal/dto"
	"github.com/noah-isme/sma-classwall/internal/middleware"
	"github.com/noah-isme/sma-classwall/internal/models"
	"github.com/noah-isme/sma-classwall/internal/service"
	appErrors "github.com/noah-isme/sma-classwall/pkg/errors"
	"github.com/noah-isme/sma-classwall/pkg/response"
)

// sessionProvider hands out the signed-in viewer's session.
type sessionProvider interface {
	Acquire(ctx context.Context, viewerID string, role models.UserRole) (*service.Session, error)
	Release(viewerID string) bool
}

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}

// viewerSession resolves the session of the authenticated viewer, writing the error response when it cannot.
func viewerSession(c *gin.Context, sessions sessionProvider) (*service.Session, bool) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return nil, false
	}
	sess, err := sessions.Acquire(c.Request.Context(), claims.UserID, claims.Role)
	if err != nil {
		response.Error(c, err)
		return nil, false
	}
	return sess, true
}

// respondMutation writes 202 with a SYNC_WARNING when the change is only applied locally.
func respondMutation(c *gin.Context, status int, result *dto.MutationResult) {
	if result.Warning != nil {
		response.Warning(c, result, appErrors.Clone(appErrors.ErrSyncWarning, result.Warning.Message))
		return
	}
	response.JSON(c, status, result)
}
