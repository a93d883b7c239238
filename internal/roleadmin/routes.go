package roleadmin

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mprlab/coursedeck/internal/identity"
	"github.com/mprlab/coursedeck/internal/rbac"
	"github.com/mprlab/coursedeck/pkg/sessionvalidator"
	"go.uber.org/zap"
)

// RequireAdmin authorizes the caller against the signed session token: the
// signature makes the identity trustworthy, and the roles inside it were
// provider-authoritative at issuance. The client-written roles mirror cookie
// is never consulted here.
func RequireAdmin(validator *sessionvalidator.Validator, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(contextGin *gin.Context) {
		claims, validateErr := validator.ValidateRequest(contextGin.Request)
		if validateErr != nil {
			contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		callerRoles, _ := rbac.DecodeRoles(claims.GetUserRoles())
		if !rbac.IsAdmin(callerRoles) {
			logger.Warn("role mutation denied",
				zap.String("code", "roleadmin.authz.denied"),
				zap.String("caller_id", claims.GetUserID()),
				zap.String("path", contextGin.Request.URL.Path))
			contextGin.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
			return
		}
		contextGin.Set(sessionvalidator.DefaultContextKey, claims)
		contextGin.Next()
	}
}

// MountRoleAdminRoutes registers the role mutation and query endpoints behind
// the admin check.
func MountRoleAdminRoutes(router gin.IRouter, validator *sessionvalidator.Validator, service *Service, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}

	adminOnly := router.Group("/users")
	adminOnly.Use(RequireAdmin(validator, logger))

	adminOnly.PUT("/:id/role", func(contextGin *gin.Context) {
		targetID := strings.TrimSpace(contextGin.Param("id"))
		var inbound struct {
			Role   string `json:"role"`
			Action string `json:"action"`
		}
		if bindErr := contextGin.BindJSON(&inbound); bindErr != nil || targetID == "" {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid role"})
			return
		}

		newRoles, mutateErr := service.Mutate(contextGin.Request.Context(), targetID, inbound.Role, inbound.Action)
		if mutateErr != nil {
			switch {
			case errors.Is(mutateErr, ErrInvalidRole):
				contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid role"})
			case errors.Is(mutateErr, ErrInvalidAction):
				contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid action"})
			case errors.Is(mutateErr, identity.ErrIdentityNotFound):
				contextGin.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "User not found"})
			default:
				logger.Error("role mutation failed",
					zap.String("code", "roleadmin.mutate.backend_error"),
					zap.String("target_id", targetID),
					zap.Error(mutateErr))
				contextGin.AbortWithStatus(http.StatusInternalServerError)
			}
			return
		}

		contextGin.JSON(http.StatusOK, gin.H{"roles": rbac.RoleStrings(newRoles)})
	})

	adminOnly.GET("/role", func(contextGin *gin.Context) {
		targetID := strings.TrimSpace(contextGin.Query("uid"))
		if targetID == "" {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Missing uid"})
			return
		}

		roles, rolesErr := service.RolesOf(contextGin.Request.Context(), targetID)
		if rolesErr != nil {
			if errors.Is(rolesErr, identity.ErrIdentityNotFound) {
				contextGin.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "User not found"})
				return
			}
			logger.Error("role query failed",
				zap.String("code", "roleadmin.query.backend_error"),
				zap.String("target_id", targetID),
				zap.Error(rolesErr))
			contextGin.AbortWithStatus(http.StatusInternalServerError)
			return
		}

		contextGin.JSON(http.StatusOK, gin.H{"roles": rbac.RoleStrings(roles)})
	})
}
