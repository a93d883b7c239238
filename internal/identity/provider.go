package identity

import (
	"context"
	"errors"
	"time"
)

// ClaimsRolesKey is the custom-claims map key carrying the roles array.
const ClaimsRolesKey = "roles"

var (
	// ErrInvalidCredentials indicates the email/password pair was rejected.
	ErrInvalidCredentials = errors.New("identity.invalid_credentials")
	// ErrEmailTaken indicates sign-up with an already-registered email.
	ErrEmailTaken = errors.New("identity.email_taken")
	// ErrIdentityNotFound indicates the identity id is unknown to the provider.
	ErrIdentityNotFound = errors.New("identity.not_found")
	// ErrGoogleTokenInvalid indicates Google ID token verification failed.
	ErrGoogleTokenInvalid = errors.New("identity.google_token_invalid")
)

// RawIdentity is the provider-owned identity record before claims enrichment.
type RawIdentity struct {
	ID          string
	Email       string
	DisplayName string
}

// SessionToken is a short-lived signed credential carrying the claims that
// were authoritative at issuance time.
type SessionToken struct {
	Token     string
	Claims    map[string]any
	ExpiresAt time.Time
}

// SessionChange is delivered on the ambient session feed. A nil Identity
// means the session ended.
type SessionChange struct {
	Identity *RawIdentity
}

// Provider is the backend identity authority. It owns identities and their
// custom-claims map; everything downstream holds mirrors, never the truth.
type Provider interface {
	// SignUp creates an identity with no custom claims. Role seeding is the
	// caller's responsibility and must happen before the first token refresh.
	SignUp(ctx context.Context, email string, password string, displayName string) (RawIdentity, error)

	// SignInWithPassword verifies credentials and returns the raw identity.
	SignInWithPassword(ctx context.Context, email string, password string) (RawIdentity, error)

	// SignInWithGoogle verifies a Google ID token and upserts the identity by
	// Google subject. The boolean reports whether the identity was created.
	SignInWithGoogle(ctx context.Context, googleIDToken string) (RawIdentity, bool, error)

	// ForceTokenRefresh re-reads the authoritative claims store and mints a
	// fresh signed session token. It never serves a cached token.
	ForceTokenRefresh(ctx context.Context, identityID string) (SessionToken, error)

	// CustomClaims returns the authoritative claims map for the identity.
	CustomClaims(ctx context.Context, identityID string) (map[string]any, error)

	// UpdateCustomClaims applies mutate to the identity's claims map as a
	// single atomic read-modify-write. Concurrent calls against the same
	// identity serialize; no interleaved partial write is ever observable.
	UpdateCustomClaims(ctx context.Context, identityID string, mutate func(map[string]any) map[string]any) (map[string]any, error)

	// SignOut ends the identity's ambient session.
	SignOut(ctx context.Context, identityID string) error

	// Subscribe returns the ambient session feed for the life of the provider.
	Subscribe() <-chan SessionChange
}
