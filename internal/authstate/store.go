package authstate

import (
	"context"
	"errors"
	"sync"

	"github.com/mprlab/coursedeck/internal/claimsync"
	"github.com/mprlab/coursedeck/internal/identity"
	"github.com/mprlab/coursedeck/internal/rbac"
	"go.uber.org/zap"
)

// State is the authentication lifecycle position of the store.
type State int

const (
	// StateUnauthenticated means no identity is committed.
	StateUnauthenticated State = iota
	// StateAuthenticating means a credential exchange is in flight.
	StateAuthenticating
	// StateAuthenticated means an enriched identity is committed.
	StateAuthenticated
)

// ErrSupersededAuthAttempt indicates a newer authentication attempt committed
// first; the stale result is discarded rather than overwriting newer state.
var ErrSupersededAuthAttempt = errors.New("authstate.superseded_attempt")

// Landing targets selected by role priority.
const (
	AdminLanding      = "/admin"
	InstructorLanding = "/instructor"
	DefaultLanding    = "/"
)

// RedirectIntent names the path the UI layer should navigate to after an
// action commits. The store never performs navigation itself.
type RedirectIntent struct {
	Target string
}

// RedirectForRoles selects the landing by role priority: admin routes first,
// then instructor, then the default landing.
func RedirectForRoles(roles []rbac.Role) RedirectIntent {
	if rbac.IsAdmin(roles) {
		return RedirectIntent{Target: AdminLanding}
	}
	if rbac.IsInstructor(roles) {
		return RedirectIntent{Target: InstructorLanding}
	}
	return RedirectIntent{Target: DefaultLanding}
}

// Store is the client-side authentication state machine. It is the single
// writer of its own state and of the cookie mirror; roles are never exposed
// before the claims refresh completes.
type Store struct {
	mutex   sync.Mutex
	state   State
	current *claimsync.Identity

	// Last committed snapshot. Rollback restores this, never the live state,
	// because the live state may be another attempt's transient Authenticating.
	committedState    State
	committedIdentity *claimsync.Identity

	attemptSequence  uint64
	committedAttempt uint64

	provider     identity.Provider
	synchronizer *claimsync.Synchronizer
	logger       *zap.Logger
}

// NewStore constructs a store in the Unauthenticated state.
func NewStore(provider identity.Provider, synchronizer *claimsync.Synchronizer, logger *zap.Logger) *Store {
	if provider == nil {
		panic("identity provider is required")
	}
	if synchronizer == nil {
		panic("claims synchronizer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		state:          StateUnauthenticated,
		committedState: StateUnauthenticated,
		provider:       provider,
		synchronizer:   synchronizer,
		logger:         logger,
	}
}

// State returns the current lifecycle state.
func (store *Store) State() State {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return store.state
}

// Current returns a copy of the committed identity, if any.
func (store *Store) Current() (claimsync.Identity, bool) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if store.state != StateAuthenticated || store.current == nil {
		return claimsync.Identity{}, false
	}
	return *store.current, true
}

// Roles returns the committed role set. Loading and unauthenticated states
// yield the empty set, so every derived predicate fails closed.
func (store *Store) Roles() []rbac.Role {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if store.state != StateAuthenticated || store.current == nil {
		return []rbac.Role{}
	}
	cloned := make([]rbac.Role, len(store.current.Roles))
	copy(cloned, store.current.Roles)
	return cloned
}

// IsAdmin reports whether the committed identity holds ADMIN.
func (store *Store) IsAdmin() bool {
	return rbac.IsAdmin(store.Roles())
}

// IsInstructor reports whether the committed identity holds INSTRUCTOR or ADMIN.
func (store *Store) IsInstructor() bool {
	return rbac.IsInstructor(store.Roles())
}

// HasPermission reports whether the committed identity's roles grant the
// permission. Unknown or loading state grants nothing.
func (store *Store) HasPermission(permission rbac.Permission) bool {
	return rbac.HasPermission(store.Roles(), permission)
}

// SignIn performs password authentication followed by the mandatory claims
// refresh. On any failure the store keeps its prior state and the error is
// returned to the caller for user-facing messaging.
func (store *Store) SignIn(ctx context.Context, email string, password string, sink claimsync.CookieSink) (claimsync.Identity, RedirectIntent, error) {
	attemptID := store.beginAttempt()

	raw, signInErr := store.provider.SignInWithPassword(ctx, email, password)
	if signInErr != nil {
		store.rollback(attemptID)
		return claimsync.Identity{}, RedirectIntent{}, signInErr
	}
	return store.finishAuth(ctx, attemptID, raw, sink)
}

// SignUp creates the identity, seeds the default STUDENT role before the
// first claims refresh, then completes authentication.
func (store *Store) SignUp(ctx context.Context, email string, password string, displayName string, sink claimsync.CookieSink) (claimsync.Identity, RedirectIntent, error) {
	attemptID := store.beginAttempt()

	raw, signUpErr := store.provider.SignUp(ctx, email, password, displayName)
	if signUpErr != nil {
		store.rollback(attemptID)
		return claimsync.Identity{}, RedirectIntent{}, signUpErr
	}
	if seedErr := store.seedDefaultRole(ctx, raw.ID); seedErr != nil {
		store.rollback(attemptID)
		return claimsync.Identity{}, RedirectIntent{}, seedErr
	}
	return store.finishAuth(ctx, attemptID, raw, sink)
}

// SignInWithGoogle verifies a Google ID token; a first-time identity gets the
// default STUDENT role seeded before its first refresh.
func (store *Store) SignInWithGoogle(ctx context.Context, googleIDToken string, sink claimsync.CookieSink) (claimsync.Identity, RedirectIntent, error) {
	attemptID := store.beginAttempt()

	raw, created, signInErr := store.provider.SignInWithGoogle(ctx, googleIDToken)
	if signInErr != nil {
		store.rollback(attemptID)
		return claimsync.Identity{}, RedirectIntent{}, signInErr
	}
	if created {
		if seedErr := store.seedDefaultRole(ctx, raw.ID); seedErr != nil {
			store.rollback(attemptID)
			return claimsync.Identity{}, RedirectIntent{}, seedErr
		}
	}
	return store.finishAuth(ctx, attemptID, raw, sink)
}

// SignOut ends the provider session, clears the cookie mirror, and moves to
// Unauthenticated.
func (store *Store) SignOut(ctx context.Context, sink claimsync.CookieSink) error {
	store.mutex.Lock()
	currentID := ""
	if store.current != nil {
		currentID = store.current.ID
	}
	store.mutex.Unlock()

	if currentID != "" {
		if signOutErr := store.provider.SignOut(ctx, currentID); signOutErr != nil && !errors.Is(signOutErr, identity.ErrIdentityNotFound) {
			return signOutErr
		}
	}
	if sink != nil {
		sink.ClearMirror()
	}

	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.state = StateUnauthenticated
	store.current = nil
	store.committedState = StateUnauthenticated
	store.committedIdentity = nil
	return nil
}

// Initialize subscribes to the provider's ambient session feed for the life
// of the context. Each change either re-runs claims synchronization or clears
// the mirror and resets to Unauthenticated.
func (store *Store) Initialize(ctx context.Context, sink claimsync.CookieSink) {
	feed := store.provider.Subscribe()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case change, open := <-feed:
				if !open {
					return
				}
				store.applySessionChange(ctx, change, sink)
			}
		}
	}()
}

func (store *Store) applySessionChange(ctx context.Context, change identity.SessionChange, sink claimsync.CookieSink) {
	if change.Identity == nil {
		if sink != nil {
			sink.ClearMirror()
		}
		store.mutex.Lock()
		store.state = StateUnauthenticated
		store.current = nil
		store.committedState = StateUnauthenticated
		store.committedIdentity = nil
		store.mutex.Unlock()
		return
	}

	attemptID := store.beginAttempt()
	enriched, syncErr := store.synchronizer.CompleteAuth(ctx, *change.Identity, sink)
	if syncErr != nil {
		store.rollback(attemptID)
		store.logger.Warn("ambient session refresh failed",
			zap.String("code", "authstate.session_listener.sync_failed"),
			zap.String("identity_id", change.Identity.ID),
			zap.Error(syncErr))
		return
	}
	if commitErr := store.commit(attemptID, enriched); commitErr != nil {
		store.logger.Info("stale ambient session result discarded",
			zap.String("code", "authstate.session_listener.superseded"),
			zap.String("identity_id", change.Identity.ID))
	}
}

func (store *Store) finishAuth(ctx context.Context, attemptID uint64, raw identity.RawIdentity, sink claimsync.CookieSink) (claimsync.Identity, RedirectIntent, error) {
	enriched, syncErr := store.synchronizer.CompleteAuth(ctx, raw, sink)
	if syncErr != nil {
		store.rollback(attemptID)
		return claimsync.Identity{}, RedirectIntent{}, syncErr
	}
	if commitErr := store.commit(attemptID, enriched); commitErr != nil {
		return claimsync.Identity{}, RedirectIntent{}, commitErr
	}
	// The redirect intent exists only after the enriched identity committed.
	return enriched, RedirectForRoles(enriched.Roles), nil
}

func (store *Store) seedDefaultRole(ctx context.Context, identityID string) error {
	_, seedErr := store.provider.UpdateCustomClaims(ctx, identityID, func(claims map[string]any) map[string]any {
		claims[identity.ClaimsRolesKey] = rbac.RoleStrings([]rbac.Role{rbac.RoleStudent})
		return claims
	})
	return seedErr
}

func (store *Store) beginAttempt() uint64 {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.attemptSequence++
	store.state = StateAuthenticating
	return store.attemptSequence
}

func (store *Store) commit(attemptID uint64, enriched claimsync.Identity) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if store.committedAttempt > attemptID {
		return ErrSupersededAuthAttempt
	}
	store.committedAttempt = attemptID
	store.state = StateAuthenticated
	store.current = &enriched
	store.committedState = StateAuthenticated
	store.committedIdentity = &enriched
	return nil
}

// rollback restores the last committed snapshot after a failed attempt. When
// a newer attempt already committed its result stands, and while a newer
// attempt is still in flight that attempt owns the live state and will commit
// or roll back itself.
func (store *Store) rollback(attemptID uint64) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if store.committedAttempt >= attemptID {
		return
	}
	if store.attemptSequence == attemptID {
		store.state = store.committedState
		store.current = store.committedIdentity
	}
}
