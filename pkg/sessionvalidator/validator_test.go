package sessionvalidator

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

type fixedClock struct {
	instant time.Time
}

func (clock fixedClock) Now() time.Time {
	return clock.instant
}

var (
	testSigningKey = []byte("validator-test-key")
	testIssuer     = "test-issuer"
	testNow        = time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestValidator(t *testing.T) *Validator {
	t.Helper()
	validator, newErr := New(Config{
		SigningKey: testSigningKey,
		Issuer:     testIssuer,
		Clock:      fixedClock{instant: testNow},
	})
	if newErr != nil {
		t.Fatalf("validator construction failed: %v", newErr)
	}
	return validator
}

func signTestToken(t *testing.T, mutate func(*Claims)) string {
	t.Helper()
	claims := Claims{
		UserID:          "user-1",
		UserEmail:       "learner@example.com",
		UserDisplayName: "Learner",
		UserRoles:       []string{"STUDENT"},
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testIssuer,
			Subject:   "user-1",
			IssuedAt:  jwt.NewNumericDate(testNow),
			NotBefore: jwt.NewNumericDate(testNow.Add(-30 * time.Second)),
			ExpiresAt: jwt.NewNumericDate(testNow.Add(time.Hour)),
		},
	}
	if mutate != nil {
		mutate(&claims)
	}
	signed, signErr := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSigningKey)
	if signErr != nil {
		t.Fatalf("token signing failed: %v", signErr)
	}
	return signed
}

func TestNewRequiresSigningKeyAndIssuer(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{Issuer: testIssuer}); !errors.Is(err, ErrMissingSigningKey) {
		t.Fatalf("expected ErrMissingSigningKey, got %v", err)
	}
	if _, err := New(Config{SigningKey: testSigningKey}); !errors.Is(err, ErrMissingIssuer) {
		t.Fatalf("expected ErrMissingIssuer, got %v", err)
	}
}

func TestValidateTokenRoundTrip(t *testing.T) {
	t.Parallel()

	validator := newTestValidator(t)
	claims, validateErr := validator.ValidateToken(signTestToken(t, nil))
	if validateErr != nil {
		t.Fatalf("validation failed: %v", validateErr)
	}
	if claims.GetUserID() != "user-1" || claims.GetUserEmail() != "learner@example.com" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if !claims.HasRole("student") || claims.HasRole("ADMIN") {
		t.Fatalf("role lookup wrong: %v", claims.GetUserRoles())
	}
}

func TestValidateTokenRejectsBadSignature(t *testing.T) {
	t.Parallel()

	validator := newTestValidator(t)
	forged, signErr := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID: "user-1",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testIssuer,
			ExpiresAt: jwt.NewNumericDate(testNow.Add(time.Hour)),
		},
	}).SignedString([]byte("some-other-key"))
	if signErr != nil {
		t.Fatalf("token signing failed: %v", signErr)
	}
	if _, err := validator.ValidateToken(forged); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	t.Parallel()

	validator := newTestValidator(t)
	expired := signTestToken(t, func(claims *Claims) {
		claims.ExpiresAt = jwt.NewNumericDate(testNow.Add(-time.Minute))
	})
	if _, err := validator.ValidateToken(expired); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestValidateTokenRejectsWrongIssuer(t *testing.T) {
	t.Parallel()

	validator := newTestValidator(t)
	wrongIssuer := signTestToken(t, func(claims *Claims) {
		claims.Issuer = "someone-else"
	})
	if _, err := validator.ValidateToken(wrongIssuer); !errors.Is(err, ErrInvalidIssuer) {
		t.Fatalf("expected ErrInvalidIssuer, got %v", err)
	}
}

func TestValidateTokenRejectsEmpty(t *testing.T) {
	t.Parallel()

	validator := newTestValidator(t)
	if _, err := validator.ValidateToken("  "); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("expected ErrMissingToken, got %v", err)
	}
}

func TestValidateRequestReadsCookie(t *testing.T) {
	t.Parallel()

	validator := newTestValidator(t)

	request := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, err := validator.ValidateRequest(request); !errors.Is(err, ErrMissingCookie) {
		t.Fatalf("expected ErrMissingCookie, got %v", err)
	}

	request.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: signTestToken(t, nil)})
	claims, validateErr := validator.ValidateRequest(request)
	if validateErr != nil {
		t.Fatalf("validation failed: %v", validateErr)
	}
	if claims.GetUserID() != "user-1" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestGinMiddlewareInjectsClaims(t *testing.T) {
	t.Parallel()

	validator := newTestValidator(t)
	router := gin.New()
	router.Use(validator.GinMiddleware(""))
	router.GET("/whoami", func(contextGin *gin.Context) {
		claims, found := ClaimsFromContext(contextGin, "")
		if !found {
			contextGin.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		contextGin.String(http.StatusOK, claims.GetUserID())
	})

	unauthenticated := httptest.NewRecorder()
	router.ServeHTTP(unauthenticated, httptest.NewRequest(http.MethodGet, "/whoami", nil))
	if unauthenticated.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a cookie, got %d", unauthenticated.Code)
	}

	request := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	request.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: signTestToken(t, nil)})
	authenticated := httptest.NewRecorder()
	router.ServeHTTP(authenticated, request)
	if authenticated.Code != http.StatusOK || authenticated.Body.String() != "user-1" {
		t.Fatalf("expected claims injection, got %d %q", authenticated.Code, authenticated.Body.String())
	}
}
