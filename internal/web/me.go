package web

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mprlab/coursedeck/pkg/sessionvalidator"
	"go.uber.org/zap"
)

// HandleWhoAmI resolves the authenticated user's session payload.
func HandleWhoAmI(logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(contextGin *gin.Context) {
		claims, found := sessionvalidator.ClaimsFromContext(contextGin, "")
		if !found || claims.GetUserID() == "" {
			logger.Warn("missing auth claims on context",
				zap.String("code", "api.me.missing_claims"))
			contextGin.AbortWithStatus(http.StatusUnauthorized)
			return
		}

		expiresAt := time.Time{}
		if claims.ExpiresAt != nil {
			expiresAt = claims.ExpiresAt.Time
		}

		contextGin.JSON(http.StatusOK, gin.H{
			"user_id":    claims.GetUserID(),
			"user_email": claims.GetUserEmail(),
			"display":    claims.GetUserDisplayName(),
			"roles":      claims.GetUserRoles(),
			"expires":    expiresAt,
		})
	}
}
