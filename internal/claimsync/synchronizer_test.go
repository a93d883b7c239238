package claimsync

import (
	"context"
	"errors"
	"testing"

	"github.com/mprlab/coursedeck/internal/identity"
	"github.com/mprlab/coursedeck/internal/rbac"
	"go.uber.org/zap/zaptest"
)

type stubProvider struct {
	identity.Provider

	refreshFunc func(ctx context.Context, identityID string) (identity.SessionToken, error)
}

func (provider *stubProvider) ForceTokenRefresh(ctx context.Context, identityID string) (identity.SessionToken, error) {
	return provider.refreshFunc(ctx, identityID)
}

type recordingSink struct {
	token    string
	roles    []rbac.Role
	writes   int
	clears   int
	writeErr error
}

func (sink *recordingSink) WriteMirror(token string, roles []rbac.Role) error {
	if sink.writeErr != nil {
		return sink.writeErr
	}
	sink.token = token
	sink.roles = roles
	sink.writes++
	return nil
}

func (sink *recordingSink) ClearMirror() {
	sink.clears++
}

func TestCompleteAuthEnrichesAndWritesMirror(t *testing.T) {
	t.Parallel()

	provider := &stubProvider{refreshFunc: func(ctx context.Context, identityID string) (identity.SessionToken, error) {
		return identity.SessionToken{
			Token:  "signed-token",
			Claims: map[string]any{identity.ClaimsRolesKey: []string{"STUDENT", "INSTRUCTOR"}},
		}, nil
	}}
	synchronizer := NewSynchronizer(provider, zaptest.NewLogger(t))
	sink := &recordingSink{}

	enriched, authErr := synchronizer.CompleteAuth(context.Background(), identity.RawIdentity{ID: "identity-1", Email: "learner@example.com", DisplayName: "Learner"}, sink)
	if authErr != nil {
		t.Fatalf("complete-auth failed: %v", authErr)
	}
	if enriched.ID != "identity-1" || enriched.Email != "learner@example.com" {
		t.Fatalf("unexpected enriched identity: %+v", enriched)
	}
	if len(enriched.Roles) != 2 || enriched.Roles[0] != rbac.RoleStudent || enriched.Roles[1] != rbac.RoleInstructor {
		t.Fatalf("unexpected roles: %v", enriched.Roles)
	}
	if sink.writes != 1 || sink.token != "signed-token" {
		t.Fatalf("expected one mirror write with the refreshed token, got %+v", sink)
	}
}

func TestCompleteAuthRefreshFailureWritesNothing(t *testing.T) {
	t.Parallel()

	provider := &stubProvider{refreshFunc: func(ctx context.Context, identityID string) (identity.SessionToken, error) {
		return identity.SessionToken{}, errors.New("provider unavailable")
	}}
	synchronizer := NewSynchronizer(provider, zaptest.NewLogger(t))
	sink := &recordingSink{}

	_, authErr := synchronizer.CompleteAuth(context.Background(), identity.RawIdentity{ID: "identity-1"}, sink)
	if !errors.Is(authErr, ErrClaimsSync) {
		t.Fatalf("expected ErrClaimsSync, got %v", authErr)
	}
	if sink.writes != 0 {
		t.Fatalf("a failed refresh must not write the mirror")
	}
}

func TestCompleteAuthMirrorWriteFailureFailsAuth(t *testing.T) {
	t.Parallel()

	provider := &stubProvider{refreshFunc: func(ctx context.Context, identityID string) (identity.SessionToken, error) {
		return identity.SessionToken{Token: "signed-token", Claims: map[string]any{}}, nil
	}}
	synchronizer := NewSynchronizer(provider, zaptest.NewLogger(t))
	sink := &recordingSink{writeErr: errors.New("response already committed")}

	_, authErr := synchronizer.CompleteAuth(context.Background(), identity.RawIdentity{ID: "identity-1"}, sink)
	if !errors.Is(authErr, ErrMirrorWrite) {
		t.Fatalf("expected ErrMirrorWrite, got %v", authErr)
	}
}

func TestCompleteAuthAbsentRolesClaimYieldsEmptySet(t *testing.T) {
	t.Parallel()

	provider := &stubProvider{refreshFunc: func(ctx context.Context, identityID string) (identity.SessionToken, error) {
		return identity.SessionToken{Token: "signed-token", Claims: map[string]any{}}, nil
	}}
	synchronizer := NewSynchronizer(provider, zaptest.NewLogger(t))
	sink := &recordingSink{}

	enriched, authErr := synchronizer.CompleteAuth(context.Background(), identity.RawIdentity{ID: "identity-1"}, sink)
	if authErr != nil {
		t.Fatalf("complete-auth failed: %v", authErr)
	}
	if len(enriched.Roles) != 0 {
		t.Fatalf("absent roles claim must enrich to an empty set, got %v", enriched.Roles)
	}
	if len(sink.roles) != 0 {
		t.Fatalf("mirror must carry the empty set, got %v", sink.roles)
	}
}

func TestCompleteAuthDropsUnknownRoles(t *testing.T) {
	t.Parallel()

	provider := &stubProvider{refreshFunc: func(ctx context.Context, identityID string) (identity.SessionToken, error) {
		return identity.SessionToken{
			Token:  "signed-token",
			Claims: map[string]any{identity.ClaimsRolesKey: []string{"WIZARD", "ADMIN"}},
		}, nil
	}}
	synchronizer := NewSynchronizer(provider, zaptest.NewLogger(t))
	sink := &recordingSink{}

	enriched, authErr := synchronizer.CompleteAuth(context.Background(), identity.RawIdentity{ID: "identity-1"}, sink)
	if authErr != nil {
		t.Fatalf("complete-auth failed: %v", authErr)
	}
	if len(enriched.Roles) != 1 || enriched.Roles[0] != rbac.RoleAdmin {
		t.Fatalf("unknown roles must be dropped, got %v", enriched.Roles)
	}
}

func TestCompleteAuthWithNilSinkSkipsMirror(t *testing.T) {
	t.Parallel()

	provider := &stubProvider{refreshFunc: func(ctx context.Context, identityID string) (identity.SessionToken, error) {
		return identity.SessionToken{Token: "signed-token", Claims: map[string]any{identity.ClaimsRolesKey: []string{"STUDENT"}}}, nil
	}}
	synchronizer := NewSynchronizer(provider, zaptest.NewLogger(t))

	enriched, authErr := synchronizer.CompleteAuth(context.Background(), identity.RawIdentity{ID: "identity-1"}, nil)
	if authErr != nil {
		t.Fatalf("complete-auth failed: %v", authErr)
	}
	if len(enriched.Roles) != 1 {
		t.Fatalf("expected enrichment without a sink, got %v", enriched.Roles)
	}
}
