package identity

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// MemoryProviderConfig configures the in-memory identity authority.
type MemoryProviderConfig struct {
	SessionSigningKey []byte
	SessionIssuer     string
	SessionTTL        time.Duration
	GoogleAudience    string
	GoogleValidator   GoogleTokenValidator
	Clock             Clock
}

type memoryAccount struct {
	ID           string
	Email        string
	DisplayName  string
	PasswordHash []byte
	GoogleSub    string
	Claims       map[string]any
}

// MemoryProvider is an in-memory Provider intended for tests and local runs.
// The single mutex makes every claims read-modify-write atomic per identity.
type MemoryProvider struct {
	mutex       sync.Mutex
	accounts    map[string]*memoryAccount
	byEmail     map[string]string
	byGoogleSub map[string]string
	subscribers []chan SessionChange

	config MemoryProviderConfig
}

// NewMemoryProvider constructs an empty in-memory identity authority.
func NewMemoryProvider(config MemoryProviderConfig) *MemoryProvider {
	if config.Clock == nil {
		config.Clock = NewSystemClock()
	}
	if config.SessionTTL <= 0 {
		config.SessionTTL = 15 * time.Minute
	}
	return &MemoryProvider{
		accounts:    make(map[string]*memoryAccount),
		byEmail:     make(map[string]string),
		byGoogleSub: make(map[string]string),
		config:      config,
	}
}

// SignUp creates an identity with no custom claims.
func (provider *MemoryProvider) SignUp(ctx context.Context, email string, password string, displayName string) (RawIdentity, error) {
	normalizedEmail := normalizeEmail(email)
	if normalizedEmail == "" || password == "" {
		return RawIdentity{}, ErrInvalidCredentials
	}
	passwordHash, hashErr := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if hashErr != nil {
		return RawIdentity{}, fmt.Errorf("identity.signup.hash: %w", hashErr)
	}

	provider.mutex.Lock()
	defer provider.mutex.Unlock()

	if _, exists := provider.byEmail[normalizedEmail]; exists {
		return RawIdentity{}, ErrEmailTaken
	}
	account := &memoryAccount{
		ID:           uuid.NewString(),
		Email:        normalizedEmail,
		DisplayName:  displayName,
		PasswordHash: passwordHash,
		Claims:       make(map[string]any),
	}
	provider.accounts[account.ID] = account
	provider.byEmail[normalizedEmail] = account.ID

	raw := rawIdentityOf(account)
	provider.publishLocked(SessionChange{Identity: &raw})
	return raw, nil
}

// SignInWithPassword verifies credentials against the stored bcrypt hash.
func (provider *MemoryProvider) SignInWithPassword(ctx context.Context, email string, password string) (RawIdentity, error) {
	provider.mutex.Lock()
	defer provider.mutex.Unlock()

	accountID, exists := provider.byEmail[normalizeEmail(email)]
	if !exists {
		return RawIdentity{}, ErrInvalidCredentials
	}
	account := provider.accounts[accountID]
	if len(account.PasswordHash) == 0 {
		return RawIdentity{}, ErrInvalidCredentials
	}
	if compareErr := bcrypt.CompareHashAndPassword(account.PasswordHash, []byte(password)); compareErr != nil {
		return RawIdentity{}, ErrInvalidCredentials
	}

	raw := rawIdentityOf(account)
	provider.publishLocked(SessionChange{Identity: &raw})
	return raw, nil
}

// SignInWithGoogle verifies the ID token and upserts the identity by subject.
func (provider *MemoryProvider) SignInWithGoogle(ctx context.Context, googleIDToken string) (RawIdentity, bool, error) {
	if provider.config.GoogleValidator == nil {
		return RawIdentity{}, false, ErrGoogleTokenInvalid
	}
	payload, validateErr := provider.config.GoogleValidator.Validate(ctx, googleIDToken, provider.config.GoogleAudience)
	if validateErr != nil {
		return RawIdentity{}, false, ErrGoogleTokenInvalid
	}
	profile, profileErr := ExtractGoogleProfile(payload)
	if profileErr != nil {
		return RawIdentity{}, false, profileErr
	}

	provider.mutex.Lock()
	defer provider.mutex.Unlock()

	if accountID, exists := provider.byGoogleSub[profile.Subject]; exists {
		account := provider.accounts[accountID]
		account.Email = normalizeEmail(profile.Email)
		account.DisplayName = profile.DisplayName
		raw := rawIdentityOf(account)
		provider.publishLocked(SessionChange{Identity: &raw})
		return raw, false, nil
	}

	account := &memoryAccount{
		ID:          uuid.NewString(),
		Email:       normalizeEmail(profile.Email),
		DisplayName: profile.DisplayName,
		GoogleSub:   profile.Subject,
		Claims:      make(map[string]any),
	}
	provider.accounts[account.ID] = account
	provider.byEmail[account.Email] = account.ID
	provider.byGoogleSub[profile.Subject] = account.ID

	raw := rawIdentityOf(account)
	provider.publishLocked(SessionChange{Identity: &raw})
	return raw, true, nil
}

// ForceTokenRefresh re-reads authoritative claims and mints a fresh token.
func (provider *MemoryProvider) ForceTokenRefresh(ctx context.Context, identityID string) (SessionToken, error) {
	provider.mutex.Lock()
	account, exists := provider.accounts[identityID]
	if !exists {
		provider.mutex.Unlock()
		return SessionToken{}, ErrIdentityNotFound
	}
	claims := cloneClaims(account.Claims)
	email := account.Email
	displayName := account.DisplayName
	provider.mutex.Unlock()

	roles := RolesFromClaims(claims)
	signed, expiresAt, mintErr := MintSessionJWT(provider.config.Clock, identityID, email, displayName, roles, provider.config.SessionIssuer, provider.config.SessionSigningKey, provider.config.SessionTTL)
	if mintErr != nil {
		return SessionToken{}, mintErr
	}
	return SessionToken{Token: signed, Claims: claims, ExpiresAt: expiresAt}, nil
}

// CustomClaims returns a copy of the authoritative claims map.
func (provider *MemoryProvider) CustomClaims(ctx context.Context, identityID string) (map[string]any, error) {
	provider.mutex.Lock()
	defer provider.mutex.Unlock()

	account, exists := provider.accounts[identityID]
	if !exists {
		return nil, ErrIdentityNotFound
	}
	return cloneClaims(account.Claims), nil
}

// UpdateCustomClaims applies mutate under the store lock, so the
// read-modify-write is atomic and concurrent callers serialize.
func (provider *MemoryProvider) UpdateCustomClaims(ctx context.Context, identityID string, mutate func(map[string]any) map[string]any) (map[string]any, error) {
	provider.mutex.Lock()
	defer provider.mutex.Unlock()

	account, exists := provider.accounts[identityID]
	if !exists {
		return nil, ErrIdentityNotFound
	}
	updated := mutate(cloneClaims(account.Claims))
	if updated == nil {
		updated = make(map[string]any)
	}
	account.Claims = updated
	return cloneClaims(updated), nil
}

// SignOut publishes a session-ended change.
func (provider *MemoryProvider) SignOut(ctx context.Context, identityID string) error {
	provider.mutex.Lock()
	defer provider.mutex.Unlock()

	if _, exists := provider.accounts[identityID]; !exists {
		return ErrIdentityNotFound
	}
	provider.publishLocked(SessionChange{Identity: nil})
	return nil
}

// Subscribe returns a buffered ambient session feed.
func (provider *MemoryProvider) Subscribe() <-chan SessionChange {
	provider.mutex.Lock()
	defer provider.mutex.Unlock()

	feed := make(chan SessionChange, 16)
	provider.subscribers = append(provider.subscribers, feed)
	return feed
}

func (provider *MemoryProvider) publishLocked(change SessionChange) {
	for _, subscriber := range provider.subscribers {
		select {
		case subscriber <- change:
		default:
			// Slow subscribers miss events rather than blocking sign-in.
		}
	}
}

func rawIdentityOf(account *memoryAccount) RawIdentity {
	return RawIdentity{
		ID:          account.ID,
		Email:       account.Email,
		DisplayName: account.DisplayName,
	}
}

// RolesFromClaims reads the roles claim; an absent or mistyped value is an
// empty list, not an error.
func RolesFromClaims(claims map[string]any) []string {
	rawValue, present := claims[ClaimsRolesKey]
	if !present {
		return []string{}
	}
	switch typed := rawValue.(type) {
	case []string:
		cloned := make([]string, len(typed))
		copy(cloned, typed)
		return cloned
	case []any:
		roles := make([]string, 0, len(typed))
		for _, entry := range typed {
			if text, ok := entry.(string); ok {
				roles = append(roles, text)
			}
		}
		return roles
	default:
		return []string{}
	}
}

func cloneClaims(claims map[string]any) map[string]any {
	cloned := make(map[string]any, len(claims))
	for key, value := range claims {
		if roleList, ok := value.([]string); ok {
			copied := make([]string, len(roleList))
			copy(copied, roleList)
			cloned[key] = copied
			continue
		}
		cloned[key] = value
	}
	return cloned
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
