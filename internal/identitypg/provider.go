package identitypg

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mprlab/coursedeck/internal/identity"
	"golang.org/x/crypto/bcrypt"
)

// ProviderConfig configures the Postgres-backed identity authority.
type ProviderConfig struct {
	SessionSigningKey []byte
	SessionIssuer     string
	SessionTTL        time.Duration
	GoogleAudience    string
	GoogleValidator   identity.GoogleTokenValidator
	Clock             identity.Clock
}

// Provider is an identity.Provider persisted in PostgreSQL. Claims writes go
// through UpdateClaims, whose row lock makes each read-modify-write atomic
// even across processes.
type Provider struct {
	store  *PostgresIdentityStore
	config ProviderConfig

	subscriberMutex sync.Mutex
	subscribers     []chan identity.SessionChange
}

// NewProvider constructs a Provider over the given identity store.
func NewProvider(store *PostgresIdentityStore, config ProviderConfig) *Provider {
	if store == nil {
		panic("identity store is required")
	}
	if config.Clock == nil {
		config.Clock = identity.NewSystemClock()
	}
	if config.SessionTTL <= 0 {
		config.SessionTTL = 15 * time.Minute
	}
	return &Provider{store: store, config: config}
}

// SignUp creates an identity row with no custom claims.
func (provider *Provider) SignUp(ctx context.Context, email string, password string, displayName string) (identity.RawIdentity, error) {
	normalizedEmail := strings.ToLower(strings.TrimSpace(email))
	if normalizedEmail == "" || password == "" {
		return identity.RawIdentity{}, identity.ErrInvalidCredentials
	}
	if _, getErr := provider.store.GetByEmail(ctx, normalizedEmail); getErr == nil {
		return identity.RawIdentity{}, identity.ErrEmailTaken
	} else if !errors.Is(getErr, ErrIdentityRowNotFound) {
		return identity.RawIdentity{}, fmt.Errorf("identity_pg.signup.lookup: %w", getErr)
	}

	passwordHash, hashErr := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if hashErr != nil {
		return identity.RawIdentity{}, fmt.Errorf("identity_pg.signup.hash: %w", hashErr)
	}
	record := IdentityRecord{
		IdentityID:   uuid.NewString(),
		Email:        normalizedEmail,
		DisplayName:  displayName,
		PasswordHash: string(passwordHash),
		Claims:       map[string]any{},
	}
	if insertErr := provider.store.Insert(ctx, record); insertErr != nil {
		return identity.RawIdentity{}, fmt.Errorf("identity_pg.signup.insert: %w", insertErr)
	}

	raw := rawIdentityOfRecord(record)
	provider.publish(identity.SessionChange{Identity: &raw})
	return raw, nil
}

// SignInWithPassword verifies credentials against the stored bcrypt hash.
func (provider *Provider) SignInWithPassword(ctx context.Context, email string, password string) (identity.RawIdentity, error) {
	record, getErr := provider.store.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if getErr != nil {
		if errors.Is(getErr, ErrIdentityRowNotFound) {
			return identity.RawIdentity{}, identity.ErrInvalidCredentials
		}
		return identity.RawIdentity{}, fmt.Errorf("identity_pg.signin.lookup: %w", getErr)
	}
	if record.PasswordHash == "" {
		return identity.RawIdentity{}, identity.ErrInvalidCredentials
	}
	if compareErr := bcrypt.CompareHashAndPassword([]byte(record.PasswordHash), []byte(password)); compareErr != nil {
		return identity.RawIdentity{}, identity.ErrInvalidCredentials
	}

	raw := rawIdentityOfRecord(record)
	provider.publish(identity.SessionChange{Identity: &raw})
	return raw, nil
}

// SignInWithGoogle verifies the ID token and upserts the identity by subject.
func (provider *Provider) SignInWithGoogle(ctx context.Context, googleIDToken string) (identity.RawIdentity, bool, error) {
	if provider.config.GoogleValidator == nil {
		return identity.RawIdentity{}, false, identity.ErrGoogleTokenInvalid
	}
	payload, validateErr := provider.config.GoogleValidator.Validate(ctx, googleIDToken, provider.config.GoogleAudience)
	if validateErr != nil {
		return identity.RawIdentity{}, false, identity.ErrGoogleTokenInvalid
	}
	profile, profileErr := identity.ExtractGoogleProfile(payload)
	if profileErr != nil {
		return identity.RawIdentity{}, false, profileErr
	}

	existing, getErr := provider.store.GetByGoogleSub(ctx, profile.Subject)
	if getErr == nil {
		raw := rawIdentityOfRecord(existing)
		provider.publish(identity.SessionChange{Identity: &raw})
		return raw, false, nil
	}
	if !errors.Is(getErr, ErrIdentityRowNotFound) {
		return identity.RawIdentity{}, false, fmt.Errorf("identity_pg.google.lookup: %w", getErr)
	}

	record := IdentityRecord{
		IdentityID:  uuid.NewString(),
		Email:       strings.ToLower(strings.TrimSpace(profile.Email)),
		DisplayName: profile.DisplayName,
		GoogleSub:   profile.Subject,
		Claims:      map[string]any{},
	}
	if insertErr := provider.store.Insert(ctx, record); insertErr != nil {
		return identity.RawIdentity{}, false, fmt.Errorf("identity_pg.google.insert: %w", insertErr)
	}

	raw := rawIdentityOfRecord(record)
	provider.publish(identity.SessionChange{Identity: &raw})
	return raw, true, nil
}

// ForceTokenRefresh re-reads authoritative claims and mints a fresh token.
func (provider *Provider) ForceTokenRefresh(ctx context.Context, identityID string) (identity.SessionToken, error) {
	record, getErr := provider.store.GetByID(ctx, identityID)
	if getErr != nil {
		if errors.Is(getErr, ErrIdentityRowNotFound) {
			return identity.SessionToken{}, identity.ErrIdentityNotFound
		}
		return identity.SessionToken{}, fmt.Errorf("identity_pg.refresh.lookup: %w", getErr)
	}

	roles := identity.RolesFromClaims(record.Claims)
	signed, expiresAt, mintErr := identity.MintSessionJWT(provider.config.Clock, identityID, record.Email, record.DisplayName, roles, provider.config.SessionIssuer, provider.config.SessionSigningKey, provider.config.SessionTTL)
	if mintErr != nil {
		return identity.SessionToken{}, mintErr
	}
	return identity.SessionToken{Token: signed, Claims: record.Claims, ExpiresAt: expiresAt}, nil
}

// CustomClaims returns the authoritative claims map.
func (provider *Provider) CustomClaims(ctx context.Context, identityID string) (map[string]any, error) {
	record, getErr := provider.store.GetByID(ctx, identityID)
	if getErr != nil {
		if errors.Is(getErr, ErrIdentityRowNotFound) {
			return nil, identity.ErrIdentityNotFound
		}
		return nil, fmt.Errorf("identity_pg.claims.lookup: %w", getErr)
	}
	return record.Claims, nil
}

// UpdateCustomClaims applies mutate under the store's row lock.
func (provider *Provider) UpdateCustomClaims(ctx context.Context, identityID string, mutate func(map[string]any) map[string]any) (map[string]any, error) {
	updated, updateErr := provider.store.UpdateClaims(ctx, identityID, mutate)
	if updateErr != nil {
		if errors.Is(updateErr, ErrIdentityRowNotFound) {
			return nil, identity.ErrIdentityNotFound
		}
		return nil, updateErr
	}
	return updated, nil
}

// SignOut publishes a session-ended change.
func (provider *Provider) SignOut(ctx context.Context, identityID string) error {
	if _, getErr := provider.store.GetByID(ctx, identityID); getErr != nil {
		if errors.Is(getErr, ErrIdentityRowNotFound) {
			return identity.ErrIdentityNotFound
		}
		return fmt.Errorf("identity_pg.signout.lookup: %w", getErr)
	}
	provider.publish(identity.SessionChange{Identity: nil})
	return nil
}

// Subscribe returns a buffered ambient session feed.
func (provider *Provider) Subscribe() <-chan identity.SessionChange {
	provider.subscriberMutex.Lock()
	defer provider.subscriberMutex.Unlock()

	feed := make(chan identity.SessionChange, 16)
	provider.subscribers = append(provider.subscribers, feed)
	return feed
}

func (provider *Provider) publish(change identity.SessionChange) {
	provider.subscriberMutex.Lock()
	defer provider.subscriberMutex.Unlock()
	for _, subscriber := range provider.subscribers {
		select {
		case subscriber <- change:
		default:
			// Slow subscribers miss events rather than blocking sign-in.
		}
	}
}

func rawIdentityOfRecord(record IdentityRecord) identity.RawIdentity {
	return identity.RawIdentity{
		ID:          record.IdentityID,
		Email:       record.Email,
		DisplayName: record.DisplayName,
	}
}
