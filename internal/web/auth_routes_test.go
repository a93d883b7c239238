package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mprlab/coursedeck/internal/authstate"
	"github.com/mprlab/coursedeck/internal/claimsync"
	"github.com/mprlab/coursedeck/internal/identity"
	"github.com/mprlab/coursedeck/internal/rbac"
	"go.uber.org/zap/zaptest"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type authFixture struct {
	router   *gin.Engine
	provider *identity.MemoryProvider
	store    *authstate.Store
}

func newAuthFixture(t *testing.T, allowInsecure bool) authFixture {
	t.Helper()

	provider := identity.NewMemoryProvider(identity.MemoryProviderConfig{
		SessionSigningKey: []byte("auth-routes-test-key"),
		SessionIssuer:     "test-issuer",
		SessionTTL:        time.Hour,
	})
	logger := zaptest.NewLogger(t)
	store := authstate.NewStore(provider, claimsync.NewSynchronizer(provider, logger), logger)

	router := gin.New()
	MountAuthRoutes(router, AuthConfig{
		AllowInsecureHTTP: allowInsecure,
		Mirror:            claimsync.MirrorConfig{SameSiteMode: http.SameSiteStrictMode},
	}, store, logger)
	return authFixture{router: router, provider: provider, store: store}
}

func postJSON(t *testing.T, router *gin.Engine, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	request := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	request.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)
	return recorder
}

type authResponse struct {
	UserID    string   `json:"user_id"`
	UserEmail string   `json:"user_email"`
	Display   string   `json:"display"`
	Roles     []string `json:"roles"`
	Redirect  string   `json:"redirect"`
}

func decodeAuthResponse(t *testing.T, recorder *httptest.ResponseRecorder) authResponse {
	t.Helper()
	var decoded authResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("auth response decode failed: %v (%s)", err, recorder.Body.String())
	}
	return decoded
}

func mirrorCookies(recorder *httptest.ResponseRecorder) (session *http.Cookie, roles *http.Cookie) {
	for _, cookie := range recorder.Result().Cookies() {
		switch cookie.Name {
		case claimsync.SessionCookieName:
			session = cookie
		case claimsync.RolesCookieName:
			roles = cookie
		}
	}
	return session, roles
}

func TestSignUpFlowSeedsStudentAndWritesMirror(t *testing.T) {
	t.Parallel()

	fixture := newAuthFixture(t, true)
	recorder := postJSON(t, fixture.router, "/auth/signup", `{"email":"learner@example.com","password":"pw","display_name":"Learner"}`)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", recorder.Code, recorder.Body.String())
	}

	decoded := decodeAuthResponse(t, recorder)
	if decoded.UserEmail != "learner@example.com" || decoded.Display != "Learner" {
		t.Fatalf("unexpected response: %+v", decoded)
	}
	if len(decoded.Roles) != 1 || decoded.Roles[0] != "STUDENT" {
		t.Fatalf("sign-up must seed STUDENT, got %v", decoded.Roles)
	}
	if decoded.Redirect != "/" {
		t.Fatalf("student must land at /, got %q", decoded.Redirect)
	}

	sessionCookie, rolesCookie := mirrorCookies(recorder)
	if sessionCookie == nil || sessionCookie.Value == "" || !sessionCookie.HttpOnly {
		t.Fatalf("session cookie missing or wrong: %+v", sessionCookie)
	}
	if rolesCookie == nil {
		t.Fatalf("roles cookie missing")
	}
	unescaped, _ := url.QueryUnescape(rolesCookie.Value)
	if unescaped != `["STUDENT"]` {
		t.Fatalf("unexpected roles mirror %q", unescaped)
	}
}

func TestSignInUnknownCredentials(t *testing.T) {
	t.Parallel()

	fixture := newAuthFixture(t, true)
	recorder := postJSON(t, fixture.router, "/auth/signin", `{"email":"ghost@example.com","password":"pw"}`)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}
	if !strings.Contains(recorder.Body.String(), "invalid_credentials") {
		t.Fatalf("unexpected body %s", recorder.Body.String())
	}

	sessionCookie, rolesCookie := mirrorCookies(recorder)
	if sessionCookie != nil || rolesCookie != nil {
		t.Fatalf("failed sign-in must not set mirror cookies")
	}
}

func TestSignUpDuplicateEmailConflicts(t *testing.T) {
	t.Parallel()

	fixture := newAuthFixture(t, true)
	first := postJSON(t, fixture.router, "/auth/signup", `{"email":"learner@example.com","password":"pw","display_name":"One"}`)
	if first.Code != http.StatusOK {
		t.Fatalf("first sign-up expected 200, got %d", first.Code)
	}
	second := postJSON(t, fixture.router, "/auth/signup", `{"email":"learner@example.com","password":"pw","display_name":"Two"}`)
	if second.Code != http.StatusConflict {
		t.Fatalf("duplicate sign-up expected 409, got %d", second.Code)
	}
	if !strings.Contains(second.Body.String(), "email_taken") {
		t.Fatalf("unexpected body %s", second.Body.String())
	}
}

func TestSignInAdminRedirectsToAdminLanding(t *testing.T) {
	t.Parallel()

	fixture := newAuthFixture(t, true)
	signUp := postJSON(t, fixture.router, "/auth/signup", `{"email":"boss@example.com","password":"pw","display_name":"Boss"}`)
	created := decodeAuthResponse(t, signUp)

	if _, err := fixture.provider.UpdateCustomClaims(context.Background(), created.UserID, func(claims map[string]any) map[string]any {
		claims[identity.ClaimsRolesKey] = rbac.RoleStrings([]rbac.Role{rbac.RoleStudent, rbac.RoleAdmin})
		return claims
	}); err != nil {
		t.Fatalf("role grant failed: %v", err)
	}

	signIn := postJSON(t, fixture.router, "/auth/signin", `{"email":"boss@example.com","password":"pw"}`)
	if signIn.Code != http.StatusOK {
		t.Fatalf("sign-in expected 200, got %d (%s)", signIn.Code, signIn.Body.String())
	}
	decoded := decodeAuthResponse(t, signIn)
	if decoded.Redirect != "/admin" {
		t.Fatalf("admin must land at /admin, got %q", decoded.Redirect)
	}

	_, rolesCookie := mirrorCookies(signIn)
	if rolesCookie == nil {
		t.Fatalf("roles mirror missing")
	}
	unescaped, _ := url.QueryUnescape(rolesCookie.Value)
	if !strings.Contains(unescaped, "ADMIN") {
		t.Fatalf("mirror must carry ADMIN, got %q", unescaped)
	}
}

func TestAuthEndpointsRequireHTTPSUnlessDevOverride(t *testing.T) {
	t.Parallel()

	fixture := newAuthFixture(t, false)
	request := httptest.NewRequest(http.MethodPost, "/auth/signup", strings.NewReader(`{"email":"learner@example.com","password":"pw"}`))
	request.Header.Set("Content-Type", "application/json")
	request.Host = "app.example.com"
	recorder := httptest.NewRecorder()
	fixture.router.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("plain HTTP must be rejected, got %d", recorder.Code)
	}
	if !strings.Contains(recorder.Body.String(), "https_required") {
		t.Fatalf("unexpected body %s", recorder.Body.String())
	}

	forwarded := httptest.NewRequest(http.MethodPost, "/auth/signup", strings.NewReader(`{"email":"learner@example.com","password":"pw"}`))
	forwarded.Header.Set("Content-Type", "application/json")
	forwarded.Header.Set("X-Forwarded-Proto", "https")
	forwarded.Host = "app.example.com"
	forwardedRecorder := httptest.NewRecorder()
	fixture.router.ServeHTTP(forwardedRecorder, forwarded)
	if forwardedRecorder.Code != http.StatusOK {
		t.Fatalf("proxied HTTPS must pass, got %d (%s)", forwardedRecorder.Code, forwardedRecorder.Body.String())
	}
}

func TestSignUpRejectsMalformedBody(t *testing.T) {
	t.Parallel()

	fixture := newAuthFixture(t, true)
	for _, body := range []string{``, `{}`, `{"email":"","password":"pw"}`, `{"email":"a@b.c","password":""}`, `not json`} {
		recorder := postJSON(t, fixture.router, "/auth/signup", body)
		if recorder.Code != http.StatusBadRequest {
			t.Fatalf("body %q expected 400, got %d", body, recorder.Code)
		}
	}
}

func TestLogoutClearsMirrorAndState(t *testing.T) {
	t.Parallel()

	fixture := newAuthFixture(t, true)
	if signUp := postJSON(t, fixture.router, "/auth/signup", `{"email":"learner@example.com","password":"pw"}`); signUp.Code != http.StatusOK {
		t.Fatalf("sign-up failed: %d", signUp.Code)
	}

	logout := postJSON(t, fixture.router, "/auth/logout", ``)
	if logout.Code != http.StatusNoContent {
		t.Fatalf("logout expected 204, got %d", logout.Code)
	}

	sessionCookie, rolesCookie := mirrorCookies(logout)
	if sessionCookie == nil || sessionCookie.MaxAge != -1 {
		t.Fatalf("logout must expire the session cookie: %+v", sessionCookie)
	}
	if rolesCookie == nil || rolesCookie.MaxAge != -1 {
		t.Fatalf("logout must expire the roles cookie: %+v", rolesCookie)
	}
	if fixture.store.State() != authstate.StateUnauthenticated {
		t.Fatalf("store must be unauthenticated after logout")
	}
}
