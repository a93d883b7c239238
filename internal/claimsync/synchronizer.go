package claimsync

import (
	"context"
	"errors"
	"fmt"

	"github.com/mprlab/coursedeck/internal/identity"
	"github.com/mprlab/coursedeck/internal/rbac"
	"go.uber.org/zap"
)

var (
	// ErrClaimsSync indicates the forced claims refresh failed after a
	// successful credential check. Callers must treat this as a full
	// authentication failure; no cookie is written.
	ErrClaimsSync = errors.New("claimsync.refresh_failed")
	// ErrMirrorWrite indicates the cookie mirror could not be written.
	ErrMirrorWrite = errors.New("claimsync.mirror_write_failed")
)

// Identity is a roles-enriched identity. Roles come from the freshly
// refreshed token, never from any cached copy.
type Identity struct {
	ID          string
	Email       string
	DisplayName string
	Roles       []rbac.Role
}

// CookieSink receives the session mirror after a successful refresh. The
// mirror is a cache for the request-time gate, never authorization truth.
type CookieSink interface {
	WriteMirror(token string, roles []rbac.Role) error
	ClearMirror()
}

// Synchronizer turns a raw authentication result into a roles-enriched
// identity plus a refreshed cookie mirror.
type Synchronizer struct {
	provider identity.Provider
	logger   *zap.Logger
}

// NewSynchronizer constructs a Synchronizer over the given provider.
func NewSynchronizer(provider identity.Provider, logger *zap.Logger) *Synchronizer {
	if provider == nil {
		panic("identity provider is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synchronizer{provider: provider, logger: logger}
}

// CompleteAuth forces a claims refresh, decodes the roles claim, writes the
// cookie mirror, and returns the enriched identity. All-or-nothing: if the
// refresh fails, no cookie is written and the prior session state stands.
func (synchronizer *Synchronizer) CompleteAuth(ctx context.Context, raw identity.RawIdentity, sink CookieSink) (Identity, error) {
	sessionToken, refreshErr := synchronizer.provider.ForceTokenRefresh(ctx, raw.ID)
	if refreshErr != nil {
		return Identity{}, fmt.Errorf("%w: %s", ErrClaimsSync, refreshErr)
	}

	rawRoles := identity.RolesFromClaims(sessionToken.Claims)
	roles, droppedRoles := rbac.DecodeRoles(rawRoles)
	if len(droppedRoles) > 0 {
		synchronizer.logger.Warn("unrecognized roles dropped from claims",
			zap.String("code", "claims.roles.unknown"),
			zap.String("identity_id", raw.ID),
			zap.Strings("dropped", droppedRoles))
	}
	if len(roles) == 0 {
		synchronizer.logger.Warn("authenticated identity resolved to zero roles",
			zap.String("code", "claims.roles.empty"),
			zap.String("identity_id", raw.ID))
	}

	if sink != nil {
		if writeErr := sink.WriteMirror(sessionToken.Token, roles); writeErr != nil {
			return Identity{}, fmt.Errorf("%w: %s", ErrMirrorWrite, writeErr)
		}
	}

	return Identity{
		ID:          raw.ID,
		Email:       raw.Email,
		DisplayName: raw.DisplayName,
		Roles:       roles,
	}, nil
}
