package web

import (
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mprlab/coursedeck/internal/authstate"
	"github.com/mprlab/coursedeck/internal/claimsync"
	"github.com/mprlab/coursedeck/internal/identity"
	"github.com/mprlab/coursedeck/internal/rbac"
	"go.uber.org/zap"
)

// AuthConfig controls transport requirements and mirror cookie attributes.
type AuthConfig struct {
	AllowInsecureHTTP bool
	Mirror            claimsync.MirrorConfig
}

// MountAuthRoutes registers /auth/signup, /auth/signin, /auth/google, and
// /auth/logout. Every successful authentication commits the enriched identity
// to the store and refreshes the cookie mirror before the redirect intent is
// returned to the caller.
func MountAuthRoutes(router gin.IRouter, configuration AuthConfig, store *authstate.Store, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}

	router.POST("/auth/signup", func(contextGin *gin.Context) {
		var inbound struct {
			Email       string `json:"email"`
			Password    string `json:"password"`
			DisplayName string `json:"display_name"`
		}
		if err := contextGin.BindJSON(&inbound); err != nil || strings.TrimSpace(inbound.Email) == "" || inbound.Password == "" {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_json"})
			return
		}
		if !configuration.AllowInsecureHTTP && !isHTTPS(contextGin.Request) {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "https_required"})
			return
		}

		sink := claimsync.NewGinCookieSink(contextGin, configuration.Mirror)
		enriched, intent, signUpErr := store.SignUp(contextGin.Request.Context(), inbound.Email, inbound.Password, inbound.DisplayName, sink)
		if signUpErr != nil {
			respondAuthError(contextGin, logger, "auth.signup", signUpErr)
			return
		}
		respondAuthenticated(contextGin, enriched, intent)
	})

	router.POST("/auth/signin", func(contextGin *gin.Context) {
		var inbound struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := contextGin.BindJSON(&inbound); err != nil || strings.TrimSpace(inbound.Email) == "" || inbound.Password == "" {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_json"})
			return
		}
		if !configuration.AllowInsecureHTTP && !isHTTPS(contextGin.Request) {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "https_required"})
			return
		}

		sink := claimsync.NewGinCookieSink(contextGin, configuration.Mirror)
		enriched, intent, signInErr := store.SignIn(contextGin.Request.Context(), inbound.Email, inbound.Password, sink)
		if signInErr != nil {
			respondAuthError(contextGin, logger, "auth.signin", signInErr)
			return
		}
		respondAuthenticated(contextGin, enriched, intent)
	})

	router.POST("/auth/google", func(contextGin *gin.Context) {
		var inbound struct {
			GoogleIDToken string `json:"google_id_token"`
		}
		if err := contextGin.BindJSON(&inbound); err != nil || strings.TrimSpace(inbound.GoogleIDToken) == "" {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_json"})
			return
		}
		if !configuration.AllowInsecureHTTP && !isHTTPS(contextGin.Request) {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "https_required"})
			return
		}

		sink := claimsync.NewGinCookieSink(contextGin, configuration.Mirror)
		enriched, intent, signInErr := store.SignInWithGoogle(contextGin.Request.Context(), inbound.GoogleIDToken, sink)
		if signInErr != nil {
			respondAuthError(contextGin, logger, "auth.google", signInErr)
			return
		}
		respondAuthenticated(contextGin, enriched, intent)
	})

	router.POST("/auth/logout", func(contextGin *gin.Context) {
		sink := claimsync.NewGinCookieSink(contextGin, configuration.Mirror)
		if signOutErr := store.SignOut(contextGin.Request.Context(), sink); signOutErr != nil {
			logger.Error("sign-out failed",
				zap.String("code", "auth.logout.failed"),
				zap.Error(signOutErr))
			contextGin.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		contextGin.Status(http.StatusNoContent)
	})
}

func respondAuthenticated(contextGin *gin.Context, enriched claimsync.Identity, intent authstate.RedirectIntent) {
	contextGin.JSON(http.StatusOK, gin.H{
		"user_id":    enriched.ID,
		"user_email": enriched.Email,
		"display":    enriched.DisplayName,
		"roles":      rbac.RoleStrings(enriched.Roles),
		"redirect":   intent.Target,
	})
}

// respondAuthError maps authentication failures onto transport codes. A
// claims-sync failure after a good credential check is still a full
// authentication failure: no cookie was written and no state committed.
func respondAuthError(contextGin *gin.Context, logger *zap.Logger, operation string, authErr error) {
	switch {
	case errors.Is(authErr, identity.ErrInvalidCredentials):
		contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_credentials"})
	case errors.Is(authErr, identity.ErrGoogleTokenInvalid):
		contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_google_token"})
	case errors.Is(authErr, identity.ErrEmailTaken):
		contextGin.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "email_taken"})
	case errors.Is(authErr, claimsync.ErrClaimsSync), errors.Is(authErr, claimsync.ErrMirrorWrite):
		logger.Error("claims synchronization failed",
			zap.String("code", operation+".claims_sync_failed"),
			zap.Error(authErr))
		contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "claims_sync_failed"})
	case errors.Is(authErr, authstate.ErrSupersededAuthAttempt):
		contextGin.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "superseded"})
	default:
		logger.Error("authentication failed",
			zap.String("code", operation+".failed"),
			zap.Error(authErr))
		contextGin.AbortWithStatus(http.StatusInternalServerError)
	}
}

func isHTTPS(request *http.Request) bool {
	if request.TLS != nil {
		return true
	}
	scheme := request.Header.Get("X-Forwarded-Proto")
	if strings.EqualFold(scheme, "https") {
		return true
	}
	forwarded := request.Header.Get("Forwarded")
	if forwarded != "" && strings.Contains(strings.ToLower(forwarded), "proto=https") {
		return true
	}
	host, _, splitErr := net.SplitHostPort(request.Host)
	if splitErr == nil && host == "localhost" {
		return true
	}
	return false
}
