package claimsync

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mprlab/coursedeck/internal/rbac"
)

const (
	// SessionCookieName carries the opaque signed session token.
	SessionCookieName = "app_session"
	// RolesCookieName carries the JSON-encoded roles mirror.
	RolesCookieName = "app_roles"
	// MirrorTTL is the fixed lifetime of both mirror cookies.
	MirrorTTL = 7 * 24 * time.Hour
)

// MirrorConfig controls cookie attributes for the session mirror.
type MirrorConfig struct {
	CookieDomain string
	SameSiteMode http.SameSite
	Now          func() time.Time
}

// GinCookieSink writes the session mirror onto a live gin response.
type GinCookieSink struct {
	contextGin *gin.Context
	config     MirrorConfig
}

// NewGinCookieSink binds a sink to the current request's response writer.
func NewGinCookieSink(contextGin *gin.Context, config MirrorConfig) *GinCookieSink {
	if config.SameSiteMode == 0 {
		config.SameSiteMode = http.SameSiteStrictMode
	}
	if config.Now == nil {
		config.Now = func() time.Time { return time.Now().UTC() }
	}
	return &GinCookieSink{contextGin: contextGin, config: config}
}

// WriteMirror sets both mirror cookies with the fixed 7-day expiry.
func (sink *GinCookieSink) WriteMirror(token string, roles []rbac.Role) error {
	rolesJSON, encodeErr := json.Marshal(rbac.RoleStrings(roles))
	if encodeErr != nil {
		return fmt.Errorf("claimsync.mirror.encode: %w", encodeErr)
	}
	expiresAt := sink.config.Now().Add(MirrorTTL)
	sink.setCookie(SessionCookieName, token, expiresAt, true)
	sink.setCookie(RolesCookieName, url.QueryEscape(string(rolesJSON)), expiresAt, false)
	return nil
}

// ClearMirror expires both mirror cookies.
func (sink *GinCookieSink) ClearMirror() {
	sink.expireCookie(SessionCookieName)
	sink.expireCookie(RolesCookieName)
}

func (sink *GinCookieSink) setCookie(name string, value string, expiresAt time.Time, httpOnly bool) {
	http.SetCookie(sink.contextGin.Writer, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   sink.config.CookieDomain,
		Expires:  expiresAt,
		Secure:   true,
		HttpOnly: httpOnly,
		SameSite: sink.config.SameSiteMode,
	})
}

func (sink *GinCookieSink) expireCookie(name string) {
	http.SetCookie(sink.contextGin.Writer, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Domain:   sink.config.CookieDomain,
		MaxAge:   -1,
		Secure:   true,
		HttpOnly: true,
		SameSite: sink.config.SameSiteMode,
	})
}

// DecodeMirrorRoles parses a roles mirror cookie value. Any malformation
// yields the empty role set: the gate fails closed rather than granting.
func DecodeMirrorRoles(cookieValue string) []rbac.Role {
	unescaped, unescapeErr := url.QueryUnescape(cookieValue)
	if unescapeErr != nil {
		return []rbac.Role{}
	}
	var rawRoles []string
	if decodeErr := json.Unmarshal([]byte(unescaped), &rawRoles); decodeErr != nil {
		return []rbac.Role{}
	}
	roles, _ := rbac.DecodeRoles(rawRoles)
	return roles
}
