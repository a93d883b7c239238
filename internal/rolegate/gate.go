package rolegate

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mprlab/coursedeck/internal/claimsync"
	"github.com/mprlab/coursedeck/internal/rbac"
	"go.uber.org/zap"
)

// Config describes the route classes the gate decides over.
type Config struct {
	PublicPaths      []string
	AdminPrefix      string
	InstructorPrefix string
	SignInPath       string
	DefaultLanding   string
}

// DefaultConfig matches the application's route layout.
func DefaultConfig() Config {
	return Config{
		PublicPaths:      []string{"/", "/signin", "/signup"},
		AdminPrefix:      "/admin",
		InstructorPrefix: "/instructor",
		SignInPath:       "/signin",
		DefaultLanding:   "/",
	}
}

// Decision is the gate's verdict for one request.
type Decision struct {
	Allow      bool
	RedirectTo string
}

// Decide is the pure per-request decision function. It runs once per inbound
// request over immutable input: no I/O, no suspension. The mirrored roles are
// a routing hint only; privileged writes re-validate against the provider.
func (config Config) Decide(path string, hasToken bool, mirroredRoles []rbac.Role) Decision {
	if config.isPublic(path) {
		return Decision{Allow: true}
	}
	if !hasToken {
		return Decision{Allow: false, RedirectTo: config.SignInPath}
	}
	if pathUnder(path, config.AdminPrefix) && !rbac.IsAdmin(mirroredRoles) {
		return Decision{Allow: false, RedirectTo: config.DefaultLanding}
	}
	if pathUnder(path, config.InstructorPrefix) && !rbac.IsInstructor(mirroredRoles) {
		return Decision{Allow: false, RedirectTo: config.DefaultLanding}
	}
	return Decision{Allow: true}
}

func (config Config) isPublic(path string) bool {
	for _, publicPath := range config.PublicPaths {
		if publicPath == "/" {
			if path == "/" {
				return true
			}
			continue
		}
		if pathUnder(path, publicPath) {
			return true
		}
	}
	return false
}

func pathUnder(path string, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

// Middleware reads the cookie mirror and applies Decide before protected
// routes run. A malformed roles cookie is normalized to the empty role set:
// privileged prefixes are denied rather than granted.
func Middleware(config Config, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(contextGin *gin.Context) {
		hasToken := false
		if sessionCookie, cookieErr := contextGin.Request.Cookie(claimsync.SessionCookieName); cookieErr == nil && sessionCookie != nil && strings.TrimSpace(sessionCookie.Value) != "" {
			hasToken = true
		}

		mirroredRoles := []rbac.Role{}
		if rolesCookie, cookieErr := contextGin.Request.Cookie(claimsync.RolesCookieName); cookieErr == nil && rolesCookie != nil {
			mirroredRoles = claimsync.DecodeMirrorRoles(rolesCookie.Value)
			if len(mirroredRoles) == 0 && strings.TrimSpace(rolesCookie.Value) != "" {
				logger.Debug("roles mirror cookie yielded no roles",
					zap.String("code", "rolegate.mirror.empty"),
					zap.String("path", contextGin.Request.URL.Path))
			}
		}

		decision := config.Decide(contextGin.Request.URL.Path, hasToken, mirroredRoles)
		if decision.Allow {
			contextGin.Next()
			return
		}
		contextGin.Redirect(http.StatusFound, decision.RedirectTo)
		contextGin.Abort()
	}
}
