package roleadmin

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mprlab/coursedeck/internal/identity"
	"github.com/mprlab/coursedeck/internal/rbac"
	"go.uber.org/zap/zaptest"
)

func newServiceFixture(t *testing.T) (*Service, *identity.MemoryProvider, string) {
	t.Helper()
	provider := identity.NewMemoryProvider(identity.MemoryProviderConfig{
		SessionSigningKey: []byte("roleadmin-test-key"),
		SessionIssuer:     "test-issuer",
		SessionTTL:        time.Hour,
	})
	created, signUpErr := provider.SignUp(context.Background(), "target@example.com", "pw", "Target")
	if signUpErr != nil {
		t.Fatalf("sign-up failed: %v", signUpErr)
	}
	if _, seedErr := provider.UpdateCustomClaims(context.Background(), created.ID, func(claims map[string]any) map[string]any {
		claims[identity.ClaimsRolesKey] = []string{"STUDENT"}
		return claims
	}); seedErr != nil {
		t.Fatalf("seed failed: %v", seedErr)
	}
	return NewService(provider, zaptest.NewLogger(t)), provider, created.ID
}

func TestMutateAssignThenRevokeRoundTrip(t *testing.T) {
	t.Parallel()

	service, _, targetID := newServiceFixture(t)

	assigned, assignErr := service.Mutate(context.Background(), targetID, "INSTRUCTOR", "assign")
	if assignErr != nil {
		t.Fatalf("assign failed: %v", assignErr)
	}
	if len(assigned) != 2 || !rbac.ContainsRole(assigned, rbac.RoleStudent) || !rbac.ContainsRole(assigned, rbac.RoleInstructor) {
		t.Fatalf("unexpected roles after assign: %v", assigned)
	}

	revoked, revokeErr := service.Mutate(context.Background(), targetID, "instructor", "revoke")
	if revokeErr != nil {
		t.Fatalf("revoke failed: %v", revokeErr)
	}
	if len(revoked) != 1 || revoked[0] != rbac.RoleStudent {
		t.Fatalf("unexpected roles after revoke: %v", revoked)
	}
}

func TestMutateAssignIsIdempotent(t *testing.T) {
	t.Parallel()

	service, _, targetID := newServiceFixture(t)

	if _, err := service.Mutate(context.Background(), targetID, "ADMIN", "assign"); err != nil {
		t.Fatalf("first assign failed: %v", err)
	}
	roles, secondErr := service.Mutate(context.Background(), targetID, "ADMIN", "assign")
	if secondErr != nil {
		t.Fatalf("second assign failed: %v", secondErr)
	}
	adminCount := 0
	for _, role := range roles {
		if role == rbac.RoleAdmin {
			adminCount++
		}
	}
	if adminCount != 1 {
		t.Fatalf("assign must not duplicate roles: %v", roles)
	}
}

func TestMutateRevokeAbsentRoleIsNoop(t *testing.T) {
	t.Parallel()

	service, _, targetID := newServiceFixture(t)

	roles, revokeErr := service.Mutate(context.Background(), targetID, "ADMIN", "revoke")
	if revokeErr != nil {
		t.Fatalf("revoke failed: %v", revokeErr)
	}
	if len(roles) != 1 || roles[0] != rbac.RoleStudent {
		t.Fatalf("revoking an absent role must keep the set intact: %v", roles)
	}
}

func TestMutateRejectsInvalidRoleWithoutWriting(t *testing.T) {
	t.Parallel()

	service, _, targetID := newServiceFixture(t)

	if _, err := service.Mutate(context.Background(), targetID, "SUPERUSER", "assign"); !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("expected ErrInvalidRole, got %v", err)
	}

	roles, rolesErr := service.RolesOf(context.Background(), targetID)
	if rolesErr != nil {
		t.Fatalf("roles query failed: %v", rolesErr)
	}
	if len(roles) != 1 || roles[0] != rbac.RoleStudent {
		t.Fatalf("rejected mutation must leave roles unchanged: %v", roles)
	}
}

func TestMutateRejectsInvalidAction(t *testing.T) {
	t.Parallel()

	service, _, targetID := newServiceFixture(t)

	if _, err := service.Mutate(context.Background(), targetID, "ADMIN", "promote"); !errors.Is(err, ErrInvalidAction) {
		t.Fatalf("expected ErrInvalidAction, got %v", err)
	}
}

func TestMutateUnknownTarget(t *testing.T) {
	t.Parallel()

	service, _, _ := newServiceFixture(t)

	if _, err := service.Mutate(context.Background(), "missing", "ADMIN", "assign"); !errors.Is(err, identity.ErrIdentityNotFound) {
		t.Fatalf("expected ErrIdentityNotFound, got %v", err)
	}
}

func TestRolesOfDropsUnknownClaimEntries(t *testing.T) {
	t.Parallel()

	service, provider, targetID := newServiceFixture(t)
	if _, err := provider.UpdateCustomClaims(context.Background(), targetID, func(claims map[string]any) map[string]any {
		claims[identity.ClaimsRolesKey] = []string{"STUDENT", "WIZARD"}
		return claims
	}); err != nil {
		t.Fatalf("claims write failed: %v", err)
	}

	roles, rolesErr := service.RolesOf(context.Background(), targetID)
	if rolesErr != nil {
		t.Fatalf("roles query failed: %v", rolesErr)
	}
	if len(roles) != 1 || roles[0] != rbac.RoleStudent {
		t.Fatalf("unknown claim entries must be dropped: %v", roles)
	}
}
